package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"projex/board"
	"projex/domain"
	"projex/storage"
)

type fakeActivity struct {
	project string
	limit   int
}

func (f *fakeActivity) Recent(ctx context.Context, projectID string, n int) ([]domain.ChangeEvent, error) {
	f.project, f.limit = projectID, n
	return []domain.ChangeEvent{{ID: "e1", ProjectID: projectID, Type: domain.TaskCreated}}, nil
}

// headerAuth treats the bearer value as the user id.
type headerAuth struct{}

func (headerAuth) UserIDFromAuthHeader(h string) (string, error) {
	user, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || user == "" {
		return "", errMissingAuthorization
	}
	return user, nil
}

func newTestServer(t *testing.T, dedup Deduper) *echo.Echo {
	t.Helper()
	return newTestServerWithOptions(t, Options{Deduper: dedup})
}

func newTestServerWithOptions(t *testing.T, opts Options) *echo.Echo {
	t.Helper()
	return newTestServerOnStore(t, storage.NewMemoryStore(), opts)
}

func newTestServerOnStore(t *testing.T, store storage.Store, opts Options) *echo.Echo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := board.NewHub(board.NewSynchronizer(store, logger), board.SessionOptions{Logger: logger}, 0)
	t.Cleanup(hub.Close)

	e := echo.New()
	e.Use(GzipRequestMiddleware())
	e.Use(ObservabilityMiddleware(logger))
	opts.Logger = logger
	Register(e, hub, headerAuth{}, opts)
	return e
}

func call(e *echo.Echo, method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func columnTasks(b domain.Board, id string) []domain.Task {
	col, _ := b.Column(id)
	return col.Tasks
}

func TestRoutesRequireAuth(t *testing.T) {
	e := newTestServer(t, nil)
	rec := call(e, http.MethodGet, "/api/projects/p1/board", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "missing authorization header" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(t, nil)
	if rec := call(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetBoardReturnsDefault(t *testing.T) {
	e := newTestServer(t, nil)
	rec := call(e, http.MethodGet, "/api/projects/p1/board", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	decodeResponse(t, rec, &b)
	if b.ID != "p1" || b.Title != domain.DefaultBoardTitle {
		t.Fatalf("unexpected board: %+v", b)
	}
	if len(b.Columns) != 3 || b.TaskCount() != 0 {
		t.Fatalf("expected three empty columns, got %+v", b.Columns)
	}
}

func TestRejectsInvalidProjectID(t *testing.T) {
	e := newTestServer(t, nil)
	if rec := call(e, http.MethodGet, "/api/projects/a.b/board", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAndMoveTask(t *testing.T) {
	e := newTestServer(t, nil)
	rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice",
		`{"columnId":"todo","name":"Design System","description":"tokens","priority":"high","assignee":"AL"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created createTaskResponse
	decodeResponse(t, rec, &created)
	if created.Task.ID == 0 || created.Task.Name != "Design System" {
		t.Fatalf("unexpected task: %+v", created.Task)
	}

	path := "/api/projects/p1/tasks/" + strconv.Itoa(created.Task.ID) + "/move"
	rec = call(e, http.MethodPost, path, "alice", `{"targetColumnId":"progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	decodeResponse(t, rec, &b)
	if len(columnTasks(b, domain.ColumnTodo)) != 0 {
		t.Fatalf("expected todo to be empty")
	}
	moved := columnTasks(b, domain.ColumnProgress)
	if len(moved) != 1 || moved[0] != created.Task {
		t.Fatalf("expected the task unchanged in progress, got %+v", moved)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	e := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "blank name", body: `{"name":"  "}`, want: http.StatusBadRequest},
		{name: "long assignee", body: `{"name":"x","assignee":"ABC"}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"x","owner":"bob"}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"name":`, want: http.StatusBadRequest},
		{name: "unknown column", body: `{"name":"x","columnId":"archive"}`, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	var b domain.Board
	decodeResponse(t, call(e, http.MethodGet, "/api/projects/p1/board", "alice", ""), &b)
	if b.TaskCount() != 0 {
		t.Fatalf("rejected requests must not change the board, got %d tasks", b.TaskCount())
	}
}

func TestEditAndDeleteTask(t *testing.T) {
	e := newTestServer(t, nil)
	var created createTaskResponse
	decodeResponse(t, call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", `{"name":"Draft"}`), &created)
	taskPath := "/api/projects/p1/tasks/" + strconv.Itoa(created.Task.ID)

	rec := call(e, http.MethodPatch, taskPath, "alice", `{"name":"Final","columnId":"done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	decodeResponse(t, rec, &b)
	done := columnTasks(b, domain.ColumnDone)
	if len(done) != 1 || done[0].Name != "Final" || done[0].Priority != domain.PriorityMedium {
		t.Fatalf("unexpected done column: %+v", done)
	}

	if rec := call(e, http.MethodPatch, taskPath, "alice", `{"name":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}

	rec = call(e, http.MethodDelete, taskPath+"?columnId=done", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	decodeResponse(t, rec, &b)
	if b.TaskCount() != 0 {
		t.Fatalf("expected task to be deleted, got %+v", b.Columns)
	}

	if rec := call(e, http.MethodDelete, "/api/projects/p1/tasks/abc", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad task id, got %d", rec.Code)
	}
}

func TestRenameIsOwnerOnly(t *testing.T) {
	e := newTestServer(t, nil)
	if rec := call(e, http.MethodGet, "/api/projects/p1/board", "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("open board: %d", rec.Code)
	}

	if rec := call(e, http.MethodPut, "/api/projects/p1/board/title", "bob", `{"title":"Hijacked"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec := call(e, http.MethodPut, "/api/projects/p1/board/title", "alice", `{"title":"Launch"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	decodeResponse(t, rec, &b)
	if b.Title != "Launch" {
		t.Fatalf("unexpected title: %s", b.Title)
	}
	if rec := call(e, http.MethodPut, "/api/projects/p1/board/title", "alice", `{"title":" "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", rec.Code)
	}
}

func TestCreateTaskIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := newTestServer(t, NewRedisDeduper(client, time.Minute))
	body := `{"name":"Once"}`
	if rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", body, idempotencyKeyHeader, "k1"); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", body, idempotencyKeyHeader, "k1"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for replay, got %d", rec.Code)
	}

	// a rejected create releases its key
	if rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", `{"name":""}`, idempotencyKeyHeader, "k2"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", body, idempotencyKeyHeader, "k2"); rec.Code != http.StatusCreated {
		t.Fatalf("expected retry with released key to succeed, got %d", rec.Code)
	}

	var b domain.Board
	decodeResponse(t, call(e, http.MethodGet, "/api/projects/p1/board", "alice", ""), &b)
	if b.TaskCount() != 2 {
		t.Fatalf("expected 2 tasks, got %d", b.TaskCount())
	}
}

func TestTeamRoutes(t *testing.T) {
	e := newTestServer(t, nil)
	rec := call(e, http.MethodPost, "/api/projects/p1/team/departments", "alice", `{"title":"Quality Assurance"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodPost, "/api/projects/p1/team/members", "alice",
		`{"departmentId":"quality-assurance","name":"Sam","role":"Tester"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var r domain.Roster
	decodeResponse(t, rec, &r)
	qa := r.Departments[len(r.Departments)-1]
	if qa.ID != "quality-assurance" || len(qa.Members) != 1 || qa.Members[0].Status != domain.StatusActive {
		t.Fatalf("unexpected department: %+v", qa)
	}
	memberPath := "/api/projects/p1/team/members/" + strconv.FormatInt(qa.Members[0].ID, 10)

	rec = call(e, http.MethodPost, memberPath+"/move", "alice",
		`{"sourceDepartmentId":"quality-assurance","targetDepartmentId":"engineering"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	decodeResponse(t, rec, &r)
	if len(r.Departments[1].Members) != 1 || len(r.Departments[3].Members) != 0 {
		t.Fatalf("member not moved: %+v", r.Departments)
	}

	if rec := call(e, http.MethodPost, "/api/projects/p1/team/members", "alice", `{"departmentId":"nope","name":"X"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown department, got %d", rec.Code)
	}
	if rec := call(e, http.MethodDelete, memberPath, "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = call(e, http.MethodGet, "/api/projects/p1/team", "alice", "")
	decodeResponse(t, rec, &r)
	if len(r.Departments[1].Members) != 0 {
		t.Fatalf("expected member to be deleted")
	}
}

func TestScheduleRoutes(t *testing.T) {
	e := newTestServer(t, nil)
	rec := call(e, http.MethodPost, "/api/projects/p1/timeline/events", "alice",
		`{"title":"Kickoff","date":"2024-03-01","description":"start"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tl domain.Timeline
	decodeResponse(t, rec, &tl)
	if len(tl.Events) != 1 || tl.Events[0].ID != 1 {
		t.Fatalf("unexpected timeline: %+v", tl)
	}
	if rec := call(e, http.MethodDelete, "/api/projects/p1/timeline/events/1", "alice", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if rec := call(e, http.MethodPut, "/api/projects/p1/calendar/events", "alice", `{"title":"Demo","date":"03/01/2024"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	rec = call(e, http.MethodPut, "/api/projects/p1/calendar/events", "alice", `{"title":"Demo","date":"2024-03-01","type":"call"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var cal domain.Calendar
	decodeResponse(t, rec, &cal)
	if len(cal.Events) != 1 || cal.Events[0].Time != "12:00" || cal.Events[0].ID == 0 {
		t.Fatalf("unexpected calendar: %+v", cal)
	}

	path := "/api/projects/p1/calendar/events/" + strconv.FormatInt(cal.Events[0].ID, 10)
	rec = call(e, http.MethodDelete, path, "alice", "")
	decodeResponse(t, rec, &cal)
	if len(cal.Events) != 0 {
		t.Fatalf("expected calendar to be empty, got %+v", cal)
	}
}

func TestGzipRequestBody(t *testing.T) {
	e := newTestServer(t, nil)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"name":"Compressed"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/tasks", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/projects/p1/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer alice")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}

func TestStreamSendsBoardSnapshots(t *testing.T) {
	e := newTestServer(t, nil)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/projects/p1/stream?token=alice")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()
	next := func() domain.Board {
		t.Helper()
		select {
		case data, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			var b domain.Board
			if err := sonic.ConfigStd.UnmarshalFromString(data, &b); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return b
		case <-time.After(2 * time.Second):
			t.Fatal("no board event received")
		}
		return domain.Board{}
	}

	if b := next(); b.ID != "p1" || b.TaskCount() != 0 {
		t.Fatalf("unexpected initial board: %+v", b)
	}
	if rec := call(e, http.MethodPost, "/api/projects/p1/tasks", "alice", `{"name":"Live"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create task: %d", rec.Code)
	}
	if b := next(); b.TaskCount() != 1 {
		t.Fatalf("expected the new task in the stream, got %+v", b)
	}
}

func TestStreamRequiresAuth(t *testing.T) {
	e := newTestServer(t, nil)
	if rec := call(e, http.MethodGet, "/api/projects/p1/stream", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestActivityRoute(t *testing.T) {
	if rec := call(newTestServer(t, nil), http.MethodGet, "/api/projects/p1/activity", "alice", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a feed, got %d", rec.Code)
	}

	feed := &fakeActivity{}
	e := newTestServerWithOptions(t, Options{Activity: feed})
	rec := call(e, http.MethodGet, "/api/projects/p1/activity?limit=5", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []domain.ChangeEvent
	decodeResponse(t, rec, &events)
	if len(events) != 1 || events[0].ID != "e1" || feed.project != "p1" || feed.limit != 5 {
		t.Fatalf("unexpected activity: %+v (%+v)", events, feed)
	}
	if rec := call(e, http.MethodGet, "/api/projects/p1/activity?limit=x", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTaskWithIDZeroCanBeMovedAndDeleted(t *testing.T) {
	store := storage.NewMemoryStore()
	legacy := domain.DefaultBoard("p1")
	legacy.Columns[0].Tasks = []domain.Task{{ID: 0, Name: "Imported", Priority: domain.PriorityLow}}
	legacy.NextTaskID = 0
	doc, err := storage.Encode(map[string]any{"columns": legacy.Columns})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.Set(context.Background(), storage.TasksPath("p1"), doc, storage.SetOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := newTestServerOnStore(t, store, Options{})

	rec := call(e, http.MethodPost, "/api/projects/p1/tasks/0/move", "alice", `{"targetColumnId":"done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	decodeResponse(t, rec, &b)
	if done := columnTasks(b, domain.ColumnDone); len(done) != 1 || done[0].ID != 0 {
		t.Fatalf("expected task 0 in done, got %+v", done)
	}
	if b.NextTaskID != 1 {
		t.Fatalf("expected next id 1, got %d", b.NextTaskID)
	}

	rec = call(e, http.MethodDelete, "/api/projects/p1/tasks/0", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeResponse(t, rec, &b)
	if b.TaskCount() != 0 {
		t.Fatalf("expected empty board, got %d tasks", b.TaskCount())
	}

	if rec := call(e, http.MethodDelete, "/api/projects/p1/tasks/-1", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative id: expected 400, got %d", rec.Code)
	}
}
