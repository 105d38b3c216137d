package board

import (
	"context"
	"sync"

	"projex/domain"
)

// State holds the current board of one project. Readers always get a
// complete copy; Replace swaps the whole value.
type State struct {
	mu      sync.RWMutex
	board   domain.Board
	version uint64
}

// NewState returns a State holding b.
func NewState(b domain.Board) *State {
	return &State{board: b.Clone()}
}

// Current returns a deep copy of the board.
func (s *State) Current() domain.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// Replace sets the board and returns the new version.
func (s *State) Replace(b domain.Board) uint64 {
	b = b.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = b
	s.version++
	return s.version
}

// Version returns the number of replacements so far.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

type actorKey struct{}

// ContextWithActor records the user performing an operation.
func ContextWithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the user recorded by ContextWithActor.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
