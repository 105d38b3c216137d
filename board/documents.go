package board

import (
	"context"
	"reflect"

	"projex/domain"
	"projex/storage"
)

// The roster, timeline and calendar are not held in memory. Reads go to the
// store; updates are read-modify-write cycles serialized with the board
// intents of the session, and their errors are returned to the caller.

// Roster returns the team roster of the project.
func (s *Session) Roster(ctx context.Context) (domain.Roster, error) {
	var r domain.Roster
	ok, err := s.sync.loadDocument(ctx, storage.RosterPath(s.projectID), &r)
	if err != nil {
		return domain.Roster{}, err
	}
	if !ok {
		return domain.DefaultRoster(), nil
	}
	return r, nil
}

// UpdateRoster applies fn to the stored roster and saves the result.
func (s *Session) UpdateRoster(ctx context.Context, fn func(domain.Roster) (domain.Roster, error)) (domain.Roster, error) {
	return updateDocument(ctx, s, storage.RosterPath(s.projectID), domain.DefaultRoster, domain.RosterEntityType, domain.RosterUpdated, fn)
}

// Timeline returns the project timeline.
func (s *Session) Timeline(ctx context.Context) (domain.Timeline, error) {
	tl := domain.Timeline{Events: []domain.TimelineEvent{}}
	if _, err := s.sync.loadDocument(ctx, storage.TimelinePath(s.projectID), &tl); err != nil {
		return domain.Timeline{}, err
	}
	return tl, nil
}

// UpdateTimeline applies fn to the stored timeline and saves the result.
func (s *Session) UpdateTimeline(ctx context.Context, fn func(domain.Timeline) (domain.Timeline, error)) (domain.Timeline, error) {
	empty := func() domain.Timeline { return domain.Timeline{Events: []domain.TimelineEvent{}} }
	return updateDocument(ctx, s, storage.TimelinePath(s.projectID), empty, domain.TimelineEntityType, domain.TimelineUpdated, fn)
}

// Calendar returns the project calendar.
func (s *Session) Calendar(ctx context.Context) (domain.Calendar, error) {
	c := domain.Calendar{Events: []domain.CalendarEvent{}}
	if _, err := s.sync.loadDocument(ctx, storage.CalendarPath(s.projectID), &c); err != nil {
		return domain.Calendar{}, err
	}
	return c, nil
}

// UpdateCalendar applies fn to the stored calendar and saves the result.
func (s *Session) UpdateCalendar(ctx context.Context, fn func(domain.Calendar) (domain.Calendar, error)) (domain.Calendar, error) {
	empty := func() domain.Calendar { return domain.Calendar{Events: []domain.CalendarEvent{}} }
	return updateDocument(ctx, s, storage.CalendarPath(s.projectID), empty, domain.CalendarEntityType, domain.CalendarUpdated, fn)
}

// NewID returns an id for calendar events and members, unique per millisecond.
func (s *Session) NewID() int64 {
	return s.now().UnixMilli()
}

func updateDocument[T any](ctx context.Context, s *Session, path storage.Path, def func() T, entityType, eventType string, fn func(T) (T, error)) (T, error) {
	var result T
	op := "update-" + entityType
	err := s.do(ctx, func(ctx context.Context) error {
		cur := def()
		if _, err := s.sync.loadDocument(ctx, path, &cur); err != nil {
			s.metrics.mutation(op, "load_failed")
			return err
		}
		next, err := fn(cur)
		if err != nil {
			s.metrics.mutation(op, "rejected")
			return err
		}
		if reflect.DeepEqual(cur, next) {
			s.metrics.mutation(op, "noop")
			result = cur
			return nil
		}
		pctx, cancel := s.persistContext(ctx)
		defer cancel()
		if err := s.sync.save(pctx, path, next); err != nil {
			s.persistFailed(op, entityType, err)
			return err
		}
		result = next
		s.metrics.mutation(op, "ok")
		s.publish(pctx, s.event(ctx, entityType, 0, eventType, next))
		return nil
	})
	return result, err
}
