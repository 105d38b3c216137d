package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned by Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

var codec = sonic.ConfigStd

// Document is a stored document keyed by its top-level field names.
type Document map[string]json.RawMessage

// SetOptions controls how Set combines the new document with an existing one.
type SetOptions struct {
	// Merge keeps top-level fields that are not present in the new document.
	Merge bool
}

// Backend is a hierarchical document store.
type Backend interface {
	// Get returns the document at path, or nil without error when absent.
	Get(ctx context.Context, path Path) (Document, error)
	Set(ctx context.Context, path Path, doc Document, opts SetOptions) error
	// Update merges fields into an existing document and returns ErrNotFound
	// when the document is absent.
	Update(ctx context.Context, path Path, fields Document) error
	Delete(ctx context.Context, path Path) error
}

// Store is a Backend that can notify about document changes.
type Store interface {
	Backend
	// Subscribe calls fn with the current document and again after every
	// change. fn receives nil once the document is deleted. Calls for one
	// subscription never overlap.
	Subscribe(ctx context.Context, path Path, fn func(Document)) (func(), error)
}

// Path addresses a document as alternating collection and document ids.
type Path []string

// Doc builds a Path from its segments.
func Doc(segments ...string) Path {
	return Path(segments)
}

// Project document paths.
func TasksPath(projectID string) Path    { return Doc("projects", projectID, "tasks", "board") }
func TitlePath(projectID string) Path    { return Doc("projects", projectID, "TITLE", "titleDoc") }
func RosterPath(projectID string) Path   { return Doc("projects", projectID, "team", "roster") }
func TimelinePath(projectID string) Path { return Doc("projects", projectID, "timeline", "events") }
func CalendarPath(projectID string) Path { return Doc("projects", projectID, "calendar", "events") }

// Validate checks that p names a document rather than a collection.
func (p Path) Validate() error {
	if len(p) == 0 || len(p)%2 != 0 {
		return fmt.Errorf("invalid document path %q", p.String())
	}
	for _, s := range p {
		if s == "" || strings.Contains(s, "/") {
			return fmt.Errorf("invalid document path %q", p.String())
		}
	}
	return nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Parent returns the collection path the document lives in.
func (p Path) Parent() string {
	if len(p) == 0 {
		return ""
	}
	return strings.Join(p[:len(p)-1], "/")
}

// ID returns the last segment.
func (p Path) ID() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Encode converts a struct or map into a Document.
func Encode(v any) (Document, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from the document fields.
func (d Document) Decode(v any) error {
	data, err := codec.Marshal(d)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

// Field decodes a single field. It reports false when the field is missing.
func (d Document) Field(name string, v any) (bool, error) {
	raw, ok := d[name]
	if !ok {
		return false, nil
	}
	return true, codec.Unmarshal(raw, v)
}

// Clone returns a copy of d that shares no field buffers.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns base with the fields of over applied on top.
func Merge(base, over Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range over {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func apply(current, doc Document, opts SetOptions) Document {
	if opts.Merge {
		return Merge(current, doc)
	}
	return doc.Clone()
}
