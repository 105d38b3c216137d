package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"projex/domain"
	"projex/storage"
)

// tasksDoc is the stored shape of projects/{id}/tasks/board.
type tasksDoc struct {
	Columns    []domain.Column `json:"columns"`
	NextTaskID int             `json:"nextTaskId"`
}

// titleDoc is the stored shape of projects/{id}/TITLE/titleDoc.
type titleDoc struct {
	Title string `json:"title"`
	Owner string `json:"owner,omitempty"`
}

// Synchronizer moves boards and their sibling documents between the process
// and the document store.
type Synchronizer struct {
	store  storage.Store
	logger *log.Logger
}

// NewSynchronizer returns a Synchronizer over store.
func NewSynchronizer(store storage.Store, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Synchronizer{store: store, logger: logger}
}

// Initialize creates every project document that does not exist yet. Racing
// initializers may both write the defaults.
func (s *Synchronizer) Initialize(ctx context.Context, projectID, owner string) error {
	def := domain.DefaultBoard(projectID)
	defaults := []struct {
		path storage.Path
		v    any
	}{
		{storage.TasksPath(projectID), tasksDoc{Columns: def.Columns, NextTaskID: def.NextTaskID}},
		{storage.TitlePath(projectID), titleDoc{Title: def.Title, Owner: owner}},
		{storage.RosterPath(projectID), domain.DefaultRoster()},
		{storage.TimelinePath(projectID), domain.Timeline{Events: []domain.TimelineEvent{}}},
		{storage.CalendarPath(projectID), domain.Calendar{Events: []domain.CalendarEvent{}}},
	}
	var errs []error
	for _, d := range defaults {
		existing, err := s.store.Get(ctx, d.path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil {
			continue
		}
		if err := s.save(ctx, d.path, d.v); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.WithFields(log.Fields{"project": projectID, "document": d.path.String()}).Debug("created default document")
	}
	return errors.Join(errs...)
}

// Load reads the board of a project. When the task document is absent the
// default board is returned and written to the store.
func (s *Synchronizer) Load(ctx context.Context, projectID string) (domain.Board, error) {
	tasks, err := s.store.Get(ctx, storage.TasksPath(projectID))
	if err != nil {
		return domain.Board{}, err
	}
	title, err := s.store.Get(ctx, storage.TitlePath(projectID))
	if err != nil {
		return domain.Board{}, err
	}
	b, ok, err := decodeBoard(projectID, tasks, title)
	if err != nil {
		return domain.Board{}, err
	}
	if ok {
		return b, nil
	}
	if err := s.Persist(ctx, b); err != nil {
		s.logger.WithError(err).WithField("project", projectID).Error("persist default board")
	}
	return b, nil
}

// Owner returns the user recorded as the project owner, if any.
func (s *Synchronizer) Owner(ctx context.Context, projectID string) (string, error) {
	doc, err := s.store.Get(ctx, storage.TitlePath(projectID))
	if err != nil || doc == nil {
		return "", err
	}
	var t titleDoc
	if err := doc.Decode(&t); err != nil {
		return "", fmt.Errorf("decode title: %w", err)
	}
	return t.Owner, nil
}

// Persist merge-writes the columns and id counter of b.
func (s *Synchronizer) Persist(ctx context.Context, b domain.Board) error {
	doc, err := storage.Encode(tasksDoc{Columns: b.Columns, NextTaskID: b.NextTaskID})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, storage.TasksPath(b.ID), doc, storage.SetOptions{Merge: true})
}

// PersistTitle merge-writes the board title, keeping the owner.
func (s *Synchronizer) PersistTitle(ctx context.Context, projectID, title string) error {
	doc, err := storage.Encode(map[string]string{"title": title})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, storage.TitlePath(projectID), doc, storage.SetOptions{Merge: true})
}

// Subscribe listens to the task and title documents of a project and emits a
// complete board after every change, starting with the current one. Snapshots
// that are not consumed in time are replaced by newer ones. Nothing is
// emitted while the task document is absent.
func (s *Synchronizer) Subscribe(ctx context.Context, projectID string) (<-chan domain.Board, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var (
		mu      sync.Mutex
		tasks   storage.Document
		title   storage.Document
		seen    bool
		wake    = make(chan struct{}, 1)
		out     = make(chan domain.Board)
		stopped = make(chan struct{})
	)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	unsubTitle, err := s.store.Subscribe(ctx, storage.TitlePath(projectID), func(d storage.Document) {
		mu.Lock()
		title = d
		mu.Unlock()
		signal()
	})
	if err != nil {
		cancel()
		return nil, nil, err
	}
	unsubTasks, err := s.store.Subscribe(ctx, storage.TasksPath(projectID), func(d storage.Document) {
		mu.Lock()
		tasks, seen = d, true
		mu.Unlock()
		signal()
	})
	if err != nil {
		unsubTitle()
		cancel()
		return nil, nil, err
	}

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			mu.Lock()
			t, ti, ok := tasks, title, seen
			mu.Unlock()
			if !ok || t == nil {
				continue
			}
			b, _, err := decodeBoard(projectID, t, ti)
			if err != nil {
				s.logger.WithError(err).WithField("project", projectID).Warn("ignoring undecodable snapshot")
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			case <-wake:
				// a newer snapshot is pending; drop this one
				signal()
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			unsubTasks()
			unsubTitle()
			<-stopped
		})
	}, nil
}

// decodeBoard combines the task and title documents. ok is false when the
// task document is absent and b is the default board.
func decodeBoard(projectID string, tasks, title storage.Document) (b domain.Board, ok bool, err error) {
	b = domain.DefaultBoard(projectID)
	if title != nil {
		var t titleDoc
		if err := title.Decode(&t); err != nil {
			return domain.Board{}, false, fmt.Errorf("decode title: %w", err)
		}
		if t.Title != "" {
			b.Title = t.Title
		}
	}
	if tasks == nil {
		return b, false, nil
	}
	var td tasksDoc
	if err := tasks.Decode(&td); err != nil {
		return domain.Board{}, false, fmt.Errorf("decode tasks: %w", err)
	}
	b.Columns = td.Columns
	b.NextTaskID = td.NextTaskID
	return b.Normalize(), true, nil
}

// loadDocument decodes the document at path into v. It reports false when the
// document is absent.
func (s *Synchronizer) loadDocument(ctx context.Context, path storage.Path, v any) (bool, error) {
	doc, err := s.store.Get(ctx, path)
	if err != nil || doc == nil {
		return false, err
	}
	if err := doc.Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *Synchronizer) save(ctx context.Context, path storage.Path, v any) error {
	doc, err := storage.Encode(v)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, path, doc, storage.SetOptions{Merge: true})
}
