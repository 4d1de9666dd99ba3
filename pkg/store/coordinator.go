// Package store implements the C7 storage coordinator: the user-facing
// IContentStore that composes ordered read/write/deferred-write backend
// lists into one surface, grounded on entropy/util.py's getAppStore and
// the priority-fallback shape of the teacher's
// pkg/serve/registry/combined.go (combinedBlobStore's Get/Stat, which tries
// each backend in order and returns the first hit).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/object"
)

// Prober is implemented by backends that can check presence without
// transferring the object's bytes (remote.Backend's HEAD request). Backends
// without it fall back to a full GetObject in Coordinator.Exists.
type Prober interface {
	Exists(ctx context.Context, objectID string) (bool, error)
}

// Waker is notified whenever a deferred write is enqueued, so the upload
// scheduler can re-evaluate immediately instead of waiting for its next
// timer (spec.md §4.8's "on external event 'new upload created'").
type Waker interface {
	Wake()
}

// Coordinator is the C7 storage coordinator.
type Coordinator struct {
	local            *local.Store
	readBackends     []backend.ReadBackend
	writeBackends    []backend.WriteBackend
	deferredBackends []backend.DeferredWriteBackend
	waker            Waker
	log              zerolog.Logger
}

// New builds a Coordinator. local is the authoritative C4 backend used for
// best-effort import-on-miss and as the durable queue for deferred writes;
// it is conventionally also the first entry in readBackends and always an
// entry in writeBackends, but this is not enforced.
func New(localStore *local.Store, readBackends []backend.ReadBackend, writeBackends []backend.WriteBackend, deferredBackends []backend.DeferredWriteBackend, waker Waker, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		local:            localStore,
		readBackends:     readBackends,
		writeBackends:    writeBackends,
		deferredBackends: deferredBackends,
		waker:            waker,
		log:              log.With().Str("component", "coordinator").Logger(),
	}
}

// GetObject implements spec.md §4.7's getObject: try each ReadBackend in
// configured order, continuing past NonexistentObject, surfacing any other
// error immediately. A hit from a non-local backend is best-effort
// imported into the local store before being returned.
func (c *Coordinator) GetObject(ctx context.Context, objectID string) (object.Object, error) {
	if len(c.readBackends) == 0 {
		return nil, &entropyerr.NoReadBackends{}
	}
	for _, rb := range c.readBackends {
		obj, err := rb.GetObject(ctx, objectID)
		if err == nil {
			if !c.isLocal(rb) {
				c.importBestEffort(ctx, objectID, obj)
			}
			return obj, nil
		}
		var nonexistent *entropyerr.NonexistentObject
		if errors.As(err, &nonexistent) {
			continue
		}
		return nil, err
	}
	return nil, &entropyerr.NonexistentObject{ObjectID: objectID}
}

func (c *Coordinator) isLocal(rb backend.ReadBackend) bool {
	ls, ok := rb.(*local.Store)
	return ok && ls == c.local
}

// importBestEffort re-stores a remotely-fetched object into the local
// backend so subsequent reads are served locally. Failure is logged, never
// surfaced, per spec.md §4.7.
func (c *Coordinator) importBestEffort(ctx context.Context, objectID string, obj object.Object) {
	if c.local == nil {
		return
	}
	content, err := object.ReadAll(ctx, obj)
	if err != nil {
		c.log.Warn().Err(err).Str("object_id", objectID).Msg("import-on-miss: reading fetched object failed")
		return
	}
	if _, err := c.local.StoreObject(ctx, backend.StoreOptions{
		Content:     content,
		ContentType: obj.ContentType(),
		ObjectID:    objectID,
	}); err != nil {
		c.log.Warn().Err(err).Str("object_id", objectID).Msg("import-on-miss: storing into local backend failed")
	}
}

// Exists is the coordinator-level operation supplementing spec.md §4 from
// the original client.py's Endpoint.exists (see SPEC_FULL.md §4): the same
// priority search as GetObject, stopping at the first backend that confirms
// presence without requiring the full body be transferred.
func (c *Coordinator) Exists(ctx context.Context, objectID string) (bool, error) {
	if len(c.readBackends) == 0 {
		return false, &entropyerr.NoReadBackends{}
	}
	for _, rb := range c.readBackends {
		var (
			ok  bool
			err error
		)
		if prober, supports := rb.(Prober); supports {
			ok, err = prober.Exists(ctx, objectID)
		} else {
			_, getErr := rb.GetObject(ctx, objectID)
			ok, err = getErr == nil, getErr
			var nonexistent *entropyerr.NonexistentObject
			if errors.As(err, &nonexistent) {
				ok, err = false, nil
			}
		}
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// StoreObject implements spec.md §4.7's storeObject: synchronous writes in
// order (first failure surfaces, no rollback of earlier successes — content
// addressing makes re-storing idempotent and safe), then one PendingUpload
// per deferred backend.
func (c *Coordinator) StoreObject(ctx context.Context, opts backend.StoreOptions) (string, error) {
	if len(c.writeBackends) == 0 {
		return "", &entropyerr.NoWriteBackends{}
	}
	var (
		objectID  string
		succeeded []string
	)
	for _, wb := range c.writeBackends {
		id, err := wb.StoreObject(ctx, opts)
		if err != nil {
			return "", &entropyerr.PartialWriteFailure{
				ObjectID:  objectID,
				Succeeded: succeeded,
				Failed:    wb.Name(),
				Cause:     err,
			}
		}
		objectID = id
		succeeded = append(succeeded, wb.Name())
	}

	for _, db := range c.deferredBackends {
		if err := c.local.CreatePendingUpload(ctx, objectID, db.Name(), time.Now().UTC()); err != nil {
			return "", fmt.Errorf("enqueueing deferred write to %s: %w", db.Name(), err)
		}
	}
	if len(c.deferredBackends) > 0 && c.waker != nil {
		c.waker.Wake()
	}

	return objectID, nil
}
