package api

import (
	"context"

	"projex/board"
	"projex/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the request fails.
	Remove(ctx context.Context, userID, key string) error
}

// Sessions hands out the board session of a project.
type Sessions interface {
	Session(ctx context.Context, projectID string) (*board.Session, error)
}

// ActivityFeed returns the recent change events of a project.
type ActivityFeed interface {
	Recent(ctx context.Context, projectID string, n int) ([]domain.ChangeEvent, error)
}
