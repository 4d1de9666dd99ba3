// Package object defines the immutable content object model (entropy's
// ContentObject / entropy.store.ImmutableObject) shared by every backend.
package object

import (
	"bytes"
	"context"
	"io"
	"time"
)

// DefaultContentType is substituted on ingestion when no Content-Type is
// supplied, matching entropy/ientropy.py's IWriteBackend contract.
const DefaultContentType = "application/octet-stream"

// Object is the read-side contract every backend's lookup result satisfies:
// IContentObject in entropy/ientropy.py. getContent() in the original is
// documented as "eventually yields the bytes, not blocks the caller" — Open
// returning an io.ReadCloser is the Go-native expression of that: large
// objects can be streamed instead of buffered.
type Object interface {
	// ObjectID returns "<algorithm>:<hex-digest>".
	ObjectID() string
	ContentType() string
	Created() time.Time
	// Metadata is always empty in this implementation; the field exists so
	// callers that round-trip it (the migration engine re-storing an
	// object elsewhere) have something to pass through.
	Metadata() map[string]string
	// Open returns a reader over the object's bytes. Callers must Close it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Verifier is implemented by objects that can recheck their own bytes
// against a recorded digest (local.FileObject). Objects retrieved from a
// remote or cloud backend (Memory) have no independent digest to recheck
// against and do not implement it.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Memory is an in-memory Object, used for objects retrieved from a remote
// or cloud backend that need to be held temporarily (entropy/util.py's
// MemoryObject, and the identical type duplicated in
// entropy/backends/remoteentropy.py and entropy/s3.py).
type Memory struct {
	ID       string
	Type     string
	At       time.Time
	Meta     map[string]string
	Contents []byte
}

var _ Object = (*Memory)(nil)

func (m *Memory) ObjectID() string           { return m.ID }
func (m *Memory) ContentType() string        { return m.Type }
func (m *Memory) Created() time.Time         { return m.At }
func (m *Memory) Metadata() map[string]string {
	if m.Meta == nil {
		return map[string]string{}
	}
	return m.Meta
}

func (m *Memory) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Contents)), nil
}

// ReadAll reads an Object fully into memory. Used by callers (the upload
// scheduler, the migration engine) that must hand the whole payload to a
// backend's StoreObject in one call.
func ReadAll(ctx context.Context, obj Object) ([]byte, error) {
	r, err := obj.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
