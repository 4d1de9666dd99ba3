// Package backend declares the capability interfaces a storage destination
// may implement (entropy/ientropy.py's IReadBackend / IWriteBackend /
// IWriteLaterBackend / IBackendStore), mirrored here as small, mixable Go
// interfaces rather than a single monolithic one.
package backend

import (
	"context"
	"time"

	"github.com/fusionapp/entropy/pkg/object"
)

// ReadBackend can look an object up by id. A miss is reported as
// *entropyerr.NonexistentObject, never a nil, nil return.
type ReadBackend interface {
	Name() string
	GetObject(ctx context.Context, objectID string) (object.Object, error)
}

// StoreOptions carries everything storeObject needs; ObjectID is optional
// for content-addressed backends (they compute and verify it) and required
// for opaque-addressed ones (S3).
type StoreOptions struct {
	Content     []byte
	ContentType string
	Metadata    map[string]string
	Created     time.Time
	ObjectID    string
}

// WriteBackend can persist an object and return its id. Non-empty Metadata
// is rejected with *entropyerr.NotImplemented, per spec.
type WriteBackend interface {
	Name() string
	StoreObject(ctx context.Context, opts StoreOptions) (string, error)
}

// DeferredWriteBackend is a WriteBackend whose writes are queued by the
// upload scheduler rather than invoked synchronously from storeObject. It is
// a pure marker capability: entropy/ientropy.py's IWriteLaterBackend carries
// no extra methods either.
type DeferredWriteBackend interface {
	WriteBackend
	Deferred() bool
}

// Migratable is implemented by backends that can report the current extent
// of their object space, the minimum needed to bound a migration snapshot
// (spec.md §4.4's migrateTo). Backends that cannot enumerate their own
// objects (remote, cloud) do not implement it; the migration engine takes a
// *local.Store source directly rather than type-asserting this interface.
type Migratable interface {
	MaxOrdinal(ctx context.Context) (int64, error)
}

// Row is the fact set the migration engine needs about one locally stored
// object: its ordinal position, id and digest, without exposing the whole
// indexed-table row type.
type Row struct {
	Ordinal       int64
	ObjectID      string
	Hash          string
	ContentDigest string
	ContentType   string
	Created       time.Time
}

// SourceStore is the local backend's migration-facing capability: the
// ability to resolve the next not-yet-migrated object past a given ordinal,
// transactionally, so N concurrent callers never observe the same object
// twice (spec.md §4.9's `_nextObject`).
type SourceStore interface {
	Migratable
	ReadBackend
	// NextObjectAfter finds the smallest-ordinal row with Ordinal > current
	// and Ordinal <= end. found is false once the range is exhausted.
	NextObjectAfter(ctx context.Context, current, end int64) (row Row, found bool, err error)
}
