package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func doc(t *testing.T, v any) Document {
	t.Helper()
	d, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return d
}

func TestPathValidate(t *testing.T) {
	if err := TasksPath("p1").Validate(); err != nil {
		t.Fatalf("tasks path: %v", err)
	}
	for _, p := range []Path{nil, Doc("projects"), Doc("projects", ""), Doc("projects", "a/b")} {
		if err := p.Validate(); err == nil {
			t.Fatalf("expected error for %q", p.String())
		}
	}
	p := TitlePath("p1")
	if p.Parent() != "projects/p1/TITLE" || p.ID() != "titleDoc" {
		t.Fatalf("unexpected parent %q id %q", p.Parent(), p.ID())
	}
}

func TestDocumentFieldAndMerge(t *testing.T) {
	base := doc(t, map[string]any{"title": "Board", "owner": "u1"})
	merged := Merge(base, doc(t, map[string]any{"title": "Renamed"}))

	var title, owner string
	if ok, err := merged.Field("title", &title); !ok || err != nil {
		t.Fatalf("title field: %v %v", ok, err)
	}
	if ok, err := merged.Field("owner", &owner); !ok || err != nil {
		t.Fatalf("owner field: %v %v", ok, err)
	}
	if title != "Renamed" || owner != "u1" {
		t.Fatalf("unexpected merge result %q %q", title, owner)
	}
	if ok, _ := merged.Field("missing", &title); ok {
		t.Fatal("expected missing field")
	}
}

func TestMemoryStoreSetMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	path := TitlePath("p1")

	if got, err := m.Get(ctx, path); err != nil || got != nil {
		t.Fatalf("expected absent document, got %v %v", got, err)
	}
	if err := m.Set(ctx, path, doc(t, map[string]any{"title": "A", "owner": "u1"}), SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set(ctx, path, doc(t, map[string]any{"title": "B"}), SetOptions{Merge: true}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ := m.Get(ctx, path)
	if string(got["title"]) != `"B"` || string(got["owner"]) != `"u1"` {
		t.Fatalf("unexpected merged doc %v", got)
	}

	if err := m.Set(ctx, path, doc(t, map[string]any{"title": "C"}), SetOptions{}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ = m.Get(ctx, path)
	if _, ok := got["owner"]; ok {
		t.Fatalf("replace kept old field: %v", got)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	m := NewMemoryStore()
	err := m.Update(context.Background(), TitlePath("p1"), doc(t, map[string]any{"title": "x"}))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	path := TitlePath("p1")
	_ = m.Set(ctx, path, doc(t, map[string]any{"title": "A"}), SetOptions{})

	got, _ := m.Get(ctx, path)
	got["title"] = json.RawMessage(`"mutated"`)

	again, _ := m.Get(ctx, path)
	if string(again["title"]) != `"A"` {
		t.Fatalf("store was mutated through Get result: %s", again["title"])
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	path := TasksPath("p1")
	_ = m.Set(ctx, path, doc(t, map[string]any{"nextTaskId": 1}), SetOptions{})

	updates := make(chan Document, 8)
	unsubscribe, err := m.Subscribe(ctx, path, func(d Document) { updates <- d })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	expectField(t, updates, "nextTaskId", "1")

	_ = m.Set(ctx, path, doc(t, map[string]any{"nextTaskId": 2}), SetOptions{Merge: true})
	expectField(t, updates, "nextTaskId", "2")

	_ = m.Delete(ctx, path)
	select {
	case d := <-updates:
		if d != nil {
			t.Fatalf("expected nil document after delete, got %v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification after delete")
	}

	unsubscribe()
	_ = m.Set(ctx, path, doc(t, map[string]any{"nextTaskId": 3}), SetOptions{})
	select {
	case d := <-updates:
		t.Fatalf("unexpected notification after unsubscribe: %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectField(t *testing.T, updates <-chan Document, field, want string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case d := <-updates:
			if string(d[field]) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s=%s", field, want)
		}
	}
}
