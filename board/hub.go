package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Hub shares one Session per project between callers and closes sessions
// that stay idle longer than the configured TTL.
type Hub struct {
	sync    *Synchronizer
	opts    SessionOptions
	idleTTL time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[string]*hubEntry
	closed   bool
}

type hubEntry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// NewHub returns a Hub. A zero idleTTL keeps sessions open until Close.
func NewHub(syncer *Synchronizer, opts SessionOptions, idleTTL time.Duration) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		sync:     syncer,
		opts:     opts,
		idleTTL:  idleTTL,
		logger:   logger,
		sessions: make(map[string]*hubEntry),
	}
}

// Session returns the open session of projectID, opening it on first use.
// Concurrent callers for the same project wait for a single open. A failed
// open is not kept, so the next call tries again.
func (h *Hub) Session(ctx context.Context, projectID string) (*Session, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := h.sessions[projectID]
		if !ok {
			e = &hubEntry{ready: make(chan struct{})}
			h.sessions[projectID] = e
			h.mu.Unlock()
			return h.open(ctx, projectID, e)
		}
		h.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		// CloseIdle decides under h.mu, so a session still registered here
		// cannot be reaped before the caller uses it.
		h.mu.Lock()
		current := h.sessions[projectID] == e
		if current {
			e.session.touch()
		}
		h.mu.Unlock()
		if current {
			return e.session, nil
		}
	}
}

func (h *Hub) open(ctx context.Context, projectID string, e *hubEntry) (*Session, error) {
	s, err := OpenSession(ctx, projectID, h.sync, h.opts)
	h.mu.Lock()
	if err != nil {
		e.err = err
		if h.sessions[projectID] == e {
			delete(h.sessions, projectID)
		}
	} else {
		e.session = s
	}
	h.mu.Unlock()
	close(e.ready)

	if err != nil {
		h.logger.WithError(err).WithField("project", projectID).Error("open board session")
		return nil, err
	}
	h.logger.WithField("project", projectID).Info("board session opened")
	return s, nil
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run closes idle sessions until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	interval := h.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CloseIdle(time.Now().Add(-h.idleTTL))
		}
	}
}

// CloseIdle closes every session unused since cutoff and without watchers.
func (h *Hub) CloseIdle(cutoff time.Time) int {
	var idle []*Session
	h.mu.Lock()
	for id, e := range h.sessions {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.session != nil && e.session.idle(cutoff) {
			idle = append(idle, e.session)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, s := range idle {
		s.Close()
		h.logger.WithField("project", s.ProjectID()).Info("board session closed")
	}
	return len(idle)
}

// Close closes all sessions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	entries := h.sessions
	h.sessions = make(map[string]*hubEntry)
	h.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.session != nil {
			e.session.Close()
		}
	}
}
