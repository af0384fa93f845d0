/*
store.go - Record store interface over a path-addressed JSON tree

PURPOSE:
  Defines the only boundary that talks to external storage. The whole
  database is one JSON tree; every read and write addresses a subtree by
  a slash-separated path ("users/a@b,com/points").

KEY INTERFACE:
  Store: Get / Put / Patch

SEMANTICS:
  Get:   returns the subtree as raw JSON, or nil when absent (JSON null).
  Put:   replaces the subtree at path. Writing nil deletes it.
  Patch: shallow-merges top-level fields into the subtree at path.
         A nil field value deletes that child.

NO TRANSACTIONS:
  There is no compare-and-swap, no batching and no cache. Every call is a
  round trip; repeated reads re-fetch. Concurrent writers to the same path
  resolve as last-write-wins.

IMPLEMENTATIONS:
  - record/memory: in-process tree for tests and dev
  - store/rest:    Firebase Realtime Database REST API
  - store/sqlite:  one row per document
  - store/mongo:   one Mongo document per tree document

SEE ALSO:
  - tree.go: shared tree semantics used by the non-REST backends
*/
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store is a path-addressed JSON document store.
type Store interface {
	// Get returns the subtree at path, or nil if nothing is stored there.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Put replaces the subtree at path and returns the stored value.
	Put(ctx context.Context, path string, value any) (json.RawMessage, error)

	// Patch merges the given top-level fields into the subtree at path.
	Patch(ctx context.Context, path string, fields map[string]any) (json.RawMessage, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrStoreRead is the sentinel behind every *ReadError.
	ErrStoreRead = errors.New("store read failed")

	// ErrStoreWrite is the sentinel behind every *WriteError.
	ErrStoreWrite = errors.New("store write failed")
)

// ReadError reports a failed Get. Status carries the transport status
// (HTTP status for REST, 0 for driver failures).
type ReadError struct {
	Path   string
	Status int
	Err    error
}

func (e *ReadError) Error() string {
	msg := fmt.Sprintf("DB read failed (%d) at %q", e.Status, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStoreRead}
	}
	return []error{ErrStoreRead, e.Err}
}

// WriteError reports a failed Put or Patch.
type WriteError struct {
	Op     string // "put" or "patch"
	Path   string
	Status int
	Err    error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("DB %s failed (%d) at %q", e.Op, e.Status, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStoreWrite}
	}
	return []error{ErrStoreWrite, e.Err}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ErrInvalidPath is returned by CheckPath for segments the store forbids.
var ErrInvalidPath = errors.New("invalid path segment")

// Join builds a path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split breaks a path into its non-empty segments.
func Split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// CheckPath rejects segments containing characters the Realtime Database
// does not allow in keys. Non-REST backends call it so they fail the same
// way the hosted database does.
func CheckPath(path string) error {
	for _, s := range Split(path) {
		if strings.ContainsAny(s, ".$#[]") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
	}
	return nil
}

// =============================================================================
// DECODING
// =============================================================================

// IsNull reports whether raw holds no value.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals raw into v. It returns false, leaving v untouched,
// when raw is absent or null.
func Decode(raw json.RawMessage, v any) (bool, error) {
	if IsNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode record: %w", err)
	}
	return true, nil
}

// Fields returns the members of a JSON object, or nil when raw is anything
// else. Malformed members stay raw for the caller to judge one by one.
func Fields(raw json.RawMessage) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// String reads a JSON string; any other value reads as "".
func String(raw json.RawMessage) string {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}
