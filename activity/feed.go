package activity

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"projex/domain"
)

// DefaultLimit is the number of events kept per project.
const DefaultLimit = 100

// Feed keeps the most recent change events of every project in a Redis list,
// newest first.
type Feed struct {
	redis  *redis.Client
	prefix string
	limit  int64
}

// NewFeed returns a Feed keeping limit events per project.
func NewFeed(client *redis.Client, limit int) *Feed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Feed{redis: client, prefix: "projex:activity:", limit: int64(limit)}
}

func (f *Feed) key(projectID string) string {
	return f.prefix + projectID
}

// Append records ev at the head of its project's feed and drops the oldest
// entries beyond the limit.
func (f *Feed) Append(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := sonic.ConfigStd.MarshalToString(ev)
	if err != nil {
		return err
	}
	key := f.key(ev.ProjectID)
	_, err = f.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, f.limit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append activity %s: %w", ev.ID, err)
	}
	return nil
}

// Recent returns up to n events of projectID, newest first. Entries that no
// longer decode are skipped.
func (f *Feed) Recent(ctx context.Context, projectID string, n int) ([]domain.ChangeEvent, error) {
	if n <= 0 || int64(n) > f.limit {
		n = int(f.limit)
	}
	raw, err := f.redis.LRange(ctx, f.key(projectID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]domain.ChangeEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.ChangeEvent
		if err := sonic.ConfigStd.UnmarshalFromString(r, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
