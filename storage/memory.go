package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process. It is used in tests and for the
// memory backend.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	subs   map[string]map[*subscriber]struct{}
	writes int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, path Path) (Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[path.String()].Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, path Path, doc Document, opts SetOptions) error {
	if err := path.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := path.String()
	next := apply(m.docs[key], doc, opts)
	if next == nil {
		next = Document{}
	}
	m.store(key, next)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path Path, fields Document) error {
	if err := path.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := path.String()
	cur, ok := m.docs[key]
	if !ok {
		return ErrNotFound
	}
	m.store(key, Merge(cur, fields))
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path Path) error {
	if err := path.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := path.String()
	if _, ok := m.docs[key]; !ok {
		return nil
	}
	delete(m.docs, key)
	m.writes++
	for s := range m.subs[key] {
		s.push(nil)
	}
	return nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, path Path, fn func(Document)) (func(), error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.String()
	s := newSubscriber(ctx, fn)

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[*subscriber]struct{})
	}
	m.subs[key][s] = struct{}{}
	s.push(m.docs[key].Clone())
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[key], s)
		if len(m.subs[key]) == 0 {
			delete(m.subs, key)
		}
		m.mu.Unlock()
		s.stop()
	}, nil
}

// Writes returns the number of successful write operations.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) store(key string, doc Document) {
	m.docs[key] = doc
	m.writes++
	for s := range m.subs[key] {
		s.push(doc.Clone())
	}
}

// subscriber delivers snapshots to fn from its own goroutine. Snapshots that
// arrive while fn is running are coalesced into the latest one.
type subscriber struct {
	fn     func(Document)
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu      sync.Mutex
	pending Document
	dirty   bool
}

func newSubscriber(ctx context.Context, fn func(Document)) *subscriber {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go s.run(ctx)
	return s
}

func (s *subscriber) push(doc Document) {
	s.mu.Lock()
	s.pending, s.dirty = doc, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.mu.Lock()
		doc, dirty := s.pending, s.dirty
		s.pending, s.dirty = nil, false
		s.mu.Unlock()
		if dirty && ctx.Err() == nil {
			s.fn(doc)
		}
	}
}

// stop cancels the subscriber and waits for an in-flight callback.
func (s *subscriber) stop() {
	s.cancel()
	<-s.done
}
