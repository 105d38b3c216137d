package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"projex/board"
	"projex/domain"
)

const (
	maxBodySize          = 64 << 10
	idempotencyKeyHeader = "Idempotency-Key"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Options holds the optional collaborators of the API.
type Options struct {
	// Deduper enables Idempotency-Key handling on task creation.
	Deduper Deduper
	// Activity serves the activity route when set.
	Activity ActivityFeed
	Logger   *log.Logger
}

type handler struct {
	sessions Sessions
	dedup    Deduper
	activity ActivityFeed
	logger   *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, sessions Sessions, auth Authenticator, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handler{sessions: sessions, dedup: opts.Deduper, activity: opts.Activity, logger: logger}

	e.GET("/healthz", healthz)
	e.GET("/api/projects/:projectID/stream", h.streamBoard, requireUser(auth, true))

	g := e.Group("/api/projects/:projectID", requireUser(auth, false))
	g.GET("/board", h.getBoard)
	g.PUT("/board/title", h.renameBoard)
	g.POST("/tasks", h.createTask)
	g.PATCH("/tasks/:taskID", h.editTask)
	g.DELETE("/tasks/:taskID", h.deleteTask)
	g.POST("/tasks/:taskID/move", h.moveTask)

	g.GET("/team", h.getTeam)
	g.POST("/team/departments", h.addDepartment)
	g.DELETE("/team/departments/:departmentID", h.deleteDepartment)
	g.POST("/team/members", h.addMember)
	g.PUT("/team/members/:memberID", h.updateMember)
	g.DELETE("/team/members/:memberID", h.deleteMember)
	g.POST("/team/members/:memberID/move", h.moveMember)

	g.GET("/timeline", h.getTimeline)
	g.POST("/timeline/events", h.addTimelineEvent)
	g.DELETE("/timeline/events/:eventID", h.deleteTimelineEvent)

	g.GET("/calendar", h.getCalendar)
	g.PUT("/calendar/events", h.saveCalendarEvent)
	g.DELETE("/calendar/events/:eventID", h.deleteCalendarEvent)

	if h.activity != nil {
		g.GET("/activity", h.getActivity)
	}
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type renameRequest struct {
	Title string `json:"title"`
}

type createTaskRequest struct {
	ColumnID    string          `json:"columnId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	Assignee    string          `json:"assignee"`
}

type createTaskResponse struct {
	Task  domain.Task  `json:"task"`
	Board domain.Board `json:"board"`
}

type editTaskRequest struct {
	SourceColumnID string           `json:"sourceColumnId"`
	ColumnID       string           `json:"columnId"`
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	Priority       *domain.Priority `json:"priority"`
	Assignee       *string          `json:"assignee"`
}

type moveTaskRequest struct {
	SourceColumnID string `json:"sourceColumnId"`
	TargetColumnID string `json:"targetColumnId"`
}

func (h *handler) getBoard(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.Board())
}

func (h *handler) renameBoard(c echo.Context) error {
	var req renameRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	b, err := s.Rename(c.Request().Context(), req.Title)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handler) createTask(c echo.Context) error {
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx := c.Request().Context()

	release := func() {}
	if key := c.Request().Header.Get(idempotencyKeyHeader); key != "" && h.dedup != nil {
		dedupKey := s.ProjectID() + ":" + key
		added, derr := h.dedup.Add(ctx, userID(c), dedupKey)
		switch {
		case derr != nil:
			h.logger.WithError(derr).Warn("idempotency check failed; processing request")
		case !added:
			setErrorStage(c, "duplicate")
			return c.String(http.StatusConflict, "duplicate request")
		default:
			release = func() {
				if err := h.dedup.Remove(context.WithoutCancel(ctx), userID(c), dedupKey); err != nil {
					h.logger.WithError(err).Warn("release idempotency key")
				}
			}
		}
	}

	draft := domain.TaskDraft{
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
	}
	task, b, err := s.CreateTask(ctx, req.ColumnID, draft)
	if err != nil {
		release()
		return h.fail(c, err)
	}
	if task.ID == 0 {
		release()
		setErrorStage(c, "not_found")
		return c.String(http.StatusNotFound, "column not found")
	}
	return c.JSON(http.StatusCreated, createTaskResponse{Task: task, Board: b})
}

func (h *handler) editTask(c echo.Context) error {
	taskID, err := intParam(c, "taskID")
	if err != nil {
		return err
	}
	var req editTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	source := sourceColumn(s, taskID, req.SourceColumnID)
	patch := domain.TaskPatch{
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		ColumnID:    req.ColumnID,
	}
	b, err := s.EditTask(c.Request().Context(), taskID, source, patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handler) deleteTask(c echo.Context) error {
	taskID, err := intParam(c, "taskID")
	if err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	b, err := s.DeleteTask(c.Request().Context(), taskID, sourceColumn(s, taskID, c.QueryParam("columnId")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handler) moveTask(c echo.Context) error {
	taskID, err := intParam(c, "taskID")
	if err != nil {
		return err
	}
	var req moveTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	source := sourceColumn(s, taskID, req.SourceColumnID)
	b, err := s.MoveTask(c.Request().Context(), taskID, source, req.TargetColumnID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// sourceColumn returns given, or the column currently holding the task when
// the client did not name one.
func sourceColumn(s *board.Session, taskID int, given string) string {
	if given != "" {
		return given
	}
	_, col, _ := s.Board().FindTask(taskID)
	return col
}

func (h *handler) getActivity(c echo.Context) error {
	id := c.Param("projectID")
	if !projectIDPattern.MatchString(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			setErrorStage(c, "invalid_limit")
			return c.String(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	events, err := h.activity.Recent(c.Request().Context(), id, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *handler) session(c echo.Context) (*board.Session, error) {
	id := c.Param("projectID")
	if !projectIDPattern.MatchString(id) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	return h.sessions.Session(c.Request().Context(), id)
}

// fail maps an error from the board layer to a response.
func (h *handler) fail(c echo.Context, err error) error {
	var he *echo.HTTPError
	switch {
	case domain.IsValidation(err):
		setErrorStage(c, "validation")
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		setErrorStage(c, "forbidden")
		return c.String(http.StatusForbidden, "only the project owner may do this")
	case errors.As(err, &he):
		setErrorStage(c, "request")
		return he
	case errors.Is(err, board.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		setErrorStage(c, "unavailable")
		return c.String(http.StatusServiceUnavailable, "project unavailable")
	default:
		setErrorStage(c, "storage")
		h.logger.WithError(err).WithField("project", c.Param("projectID")).Error("request failed")
		return c.String(http.StatusInternalServerError, "storage unavailable")
	}
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		setErrorStage(c, "decode")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return nil
}

// intParam parses a non-negative id. Boards created by earlier clients may
// hold a task with id 0.
func intParam(c echo.Context, name string) (int, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v < 0 {
		setErrorStage(c, "invalid_"+name)
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

func int64Param(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		setErrorStage(c, "invalid_"+name)
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}
