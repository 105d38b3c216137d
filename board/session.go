package board

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"projex/domain"
)

// ErrClosed is returned for intents submitted to a closed session.
var ErrClosed = errors.New("board session closed")

// DefaultPersistTimeout bounds a single write to the store.
const DefaultPersistTimeout = 10 * time.Second

// EventPublisher receives change events after a successful write.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// SessionOptions configures a Session. Zero values select defaults.
type SessionOptions struct {
	Publisher      EventPublisher
	Metrics        *Metrics
	Logger         *log.Logger
	PersistTimeout time.Duration
	Now            func() time.Time
}

type intent struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Session owns the board of one open project. Local intents and snapshots
// from the store subscription are handled one at a time by a single
// goroutine: an intent is applied, published to watchers and persisted before
// the next one starts. Persist failures are logged and counted but never
// undone or returned to the caller.
type Session struct {
	projectID string
	sync      *Synchronizer
	state     *State
	owner     string
	publisher EventPublisher
	metrics   *Metrics
	logger    *log.Entry
	timeout   time.Duration
	now       func() time.Time

	intents     chan intent
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once

	// echoes holds boards this session wrote whose subscription echo has not
	// arrived yet. Only the session goroutine touches it.
	echoes []domain.Board

	mu       sync.Mutex
	watchers map[chan domain.Board]struct{}
	lastUsed atomic.Int64
}

// OpenSession loads the board of projectID and starts processing intents.
// The user in ctx (see ContextWithActor) becomes the owner of a new project.
// Opening fails when the board cannot be read or subscribed to; only an
// absent task document yields the default board.
func OpenSession(ctx context.Context, projectID string, syncer *Synchronizer, opts SessionOptions) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{
		projectID: projectID,
		sync:      syncer,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithField("project", projectID),
		timeout:   opts.PersistTimeout,
		now:       opts.Now,
		intents:   make(chan intent),
		done:      make(chan struct{}),
		watchers:  make(map[chan domain.Board]struct{}),
	}
	s.touch()

	// A caller that goes away must not leave the session half loaded.
	base := context.WithoutCancel(ctx)
	loadCtx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()
	if err := syncer.Initialize(loadCtx, projectID, ActorFromContext(ctx)); err != nil {
		s.logger.WithError(err).Warn("initialize project documents")
	}
	b, err := syncer.Load(loadCtx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", projectID, err)
	}
	s.state = NewState(b)
	if s.owner, err = syncer.Owner(loadCtx, projectID); err != nil {
		s.logger.WithError(err).Warn("load project owner")
	}

	s.ctx, s.cancel = context.WithCancel(base)
	remote, unsubscribe, err := syncer.Subscribe(s.ctx, projectID)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("subscribe to board %s: %w", projectID, err)
	}
	s.unsubscribe = unsubscribe
	s.metrics.sessionOpened()
	go s.run(remote)
	return s, nil
}

// ProjectID returns the project the session serves.
func (s *Session) ProjectID() string { return s.projectID }

// Owner returns the user that created the project, if known.
func (s *Session) Owner() string { return s.owner }

// Board returns a copy of the current board.
func (s *Session) Board() domain.Board {
	s.touch()
	return s.state.Current()
}

// CreateTask adds a task to a column. An empty columnID selects the todo
// column. A zero Task is returned when the column does not exist.
func (s *Session) CreateTask(ctx context.Context, columnID string, draft domain.TaskDraft) (domain.Task, domain.Board, error) {
	var created domain.Task
	b, err := s.mutate(ctx, "create", func(cur domain.Board) (domain.Board, []domain.ChangeEvent, error) {
		next, task, err := domain.CreateTask(cur, columnID, draft)
		if err != nil || task.ID == 0 {
			return next, nil, err
		}
		created = task
		return next, []domain.ChangeEvent{s.event(ctx, domain.TaskEntityType, task.ID, domain.TaskCreated, task)}, nil
	})
	return created, b, err
}

// EditTask applies patch to a task; see domain.EditTask.
func (s *Session) EditTask(ctx context.Context, taskID int, sourceColumnID string, patch domain.TaskPatch) (domain.Board, error) {
	return s.mutate(ctx, "edit", func(cur domain.Board) (domain.Board, []domain.ChangeEvent, error) {
		next, err := domain.EditTask(cur, taskID, sourceColumnID, patch)
		if err != nil {
			return next, nil, err
		}
		task, _, _ := next.FindTask(taskID)
		return next, []domain.ChangeEvent{s.event(ctx, domain.TaskEntityType, taskID, domain.TaskUpdated, task)}, nil
	})
}

// DeleteTask removes a task from a column.
func (s *Session) DeleteTask(ctx context.Context, taskID int, columnID string) (domain.Board, error) {
	return s.mutate(ctx, "delete", func(cur domain.Board) (domain.Board, []domain.ChangeEvent, error) {
		next := domain.DeleteTask(cur, taskID, columnID)
		return next, []domain.ChangeEvent{s.event(ctx, domain.TaskEntityType, taskID, domain.TaskDeleted, nil)}, nil
	})
}

// MoveTask drops a task onto another column.
func (s *Session) MoveTask(ctx context.Context, taskID int, sourceColumnID, targetColumnID string) (domain.Board, error) {
	return s.mutate(ctx, "move", func(cur domain.Board) (domain.Board, []domain.ChangeEvent, error) {
		next := domain.MoveTask(cur, taskID, sourceColumnID, targetColumnID)
		data := domain.TaskMovedEventData{From: sourceColumnID, To: targetColumnID}
		return next, []domain.ChangeEvent{s.event(ctx, domain.TaskEntityType, taskID, domain.TaskMoved, data)}, nil
	})
}

// Rename sets the board title. Only the owner may rename a project that has
// one.
func (s *Session) Rename(ctx context.Context, title string) (domain.Board, error) {
	if s.owner != "" && ActorFromContext(ctx) != s.owner {
		s.metrics.mutation("rename", "forbidden")
		return domain.Board{}, domain.ErrForbidden
	}
	var result domain.Board
	err := s.do(ctx, func(ctx context.Context) error {
		cur := s.state.Current()
		next, err := domain.RenameBoard(cur, title)
		if err != nil {
			s.metrics.mutation("rename", "rejected")
			return err
		}
		result = next
		if next.Title == cur.Title {
			s.metrics.mutation("rename", "noop")
			return nil
		}
		s.state.Replace(next)
		s.notify(next)

		pctx, cancel := s.persistContext(ctx)
		defer cancel()
		if err := s.sync.PersistTitle(pctx, s.projectID, next.Title); err != nil {
			s.persistFailed("rename", "title", err)
			return nil
		}
		s.expectEcho(next)
		s.metrics.mutation("rename", "ok")
		s.publish(pctx, s.event(ctx, domain.BoardEntityType, 0, domain.BoardRenamed, map[string]string{"title": next.Title}))
		return nil
	})
	return result, err
}

// Watch returns a channel that receives the current board and every later
// board. A slow reader only misses intermediate boards, never the latest.
func (s *Session) Watch() (<-chan domain.Board, func()) {
	ch := make(chan domain.Board, 1)
	s.mu.Lock()
	ch <- s.state.Current()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	s.touch()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, ch)
			s.mu.Unlock()
			s.touch()
		})
	}
}

// Close stops the session after the intent in progress has finished.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.unsubscribe()
		s.mu.Lock()
		for ch := range s.watchers {
			close(ch)
			delete(s.watchers, ch)
		}
		s.mu.Unlock()
		s.metrics.sessionClosed()
	})
}

func (s *Session) run(remote <-chan domain.Board) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.intents:
			in.done <- in.run(in.ctx)
		case b, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			s.applyRemote(b)
		}
	}
}

// do hands run to the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, run func(ctx context.Context) error) error {
	s.touch()
	in := intent{ctx: ctx, run: run, done: make(chan error, 1)}
	select {
	case s.intents <- in:
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-in.done
}

func (s *Session) mutate(ctx context.Context, op string, apply func(domain.Board) (domain.Board, []domain.ChangeEvent, error)) (domain.Board, error) {
	var result domain.Board
	err := s.do(ctx, func(ctx context.Context) error {
		cur := s.state.Current()
		next, events, err := apply(cur)
		if err != nil {
			s.metrics.mutation(op, "rejected")
			return err
		}
		if reflect.DeepEqual(cur, next) {
			s.metrics.mutation(op, "noop")
			result = cur
			return nil
		}
		s.state.Replace(next)
		s.notify(next)
		result = next

		pctx, cancel := s.persistContext(ctx)
		defer cancel()
		if err := s.sync.Persist(pctx, next); err != nil {
			s.persistFailed(op, "tasks", err)
			return nil
		}
		s.expectEcho(next)
		s.metrics.mutation(op, "ok")
		for _, ev := range events {
			s.publish(pctx, ev)
		}
		return nil
	})
	return result, err
}

// maxEchoes bounds the boards remembered by expectEcho.
const maxEchoes = 64

func (s *Session) expectEcho(b domain.Board) {
	if len(s.echoes) == maxEchoes {
		s.echoes = s.echoes[1:]
	}
	s.echoes = append(s.echoes, b)
}

// applyRemote replaces the board with a snapshot from the store. Echoes of
// this session's own writes are skipped, including ones that arrive after a
// newer local write, so they never roll the board back.
func (s *Session) applyRemote(b domain.Board) {
	for i, e := range s.echoes {
		if reflect.DeepEqual(e, b) {
			s.echoes = s.echoes[i+1:]
			return
		}
	}
	if reflect.DeepEqual(s.state.Current(), b) {
		return
	}
	s.echoes = nil
	s.state.Replace(b)
	s.notify(b)
	s.metrics.remoteUpdate()
	s.logger.WithField("tasks", b.TaskCount()).Debug("applied remote board")
}

func (s *Session) notify(b domain.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- b.Clone()
	}
}

func (s *Session) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Session) persistFailed(op, document string, err error) {
	s.metrics.mutation(op, "persist_failed")
	s.metrics.persistFailed(document)
	s.logger.WithError(err).WithFields(log.Fields{"op": op, "document": document}).Error("persist failed")
}

func (s *Session) publish(ctx context.Context, ev domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("event", ev.Type).Warn("publish change event")
	}
}

func (s *Session) event(ctx context.Context, entityType string, entityID int, typ string, data any) domain.ChangeEvent {
	ev := domain.ChangeEvent{
		ID:         uuid.NewString(),
		ProjectID:  s.projectID,
		UserID:     ActorFromContext(ctx),
		EntityType: entityType,
		Type:       typ,
		Timestamp:  s.now().UnixMilli(),
	}
	if entityID != 0 {
		ev.EntityID = strconv.Itoa(entityID)
	}
	if data != nil {
		if raw, err := sonic.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

// idle reports whether the session has no watchers and was last used before
// cutoff.
func (s *Session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	watched := len(s.watchers) > 0
	s.mu.Unlock()
	return !watched && s.lastUsed.Load() < cutoff.UnixNano()
}
