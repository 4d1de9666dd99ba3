// Package migrate implements the C9 migration engine: snapshot-bounded
// replication or verify-and-repair of every object in the local backend
// against one or more peers, grounded on
// entropy/backends/localaxiom.py's LocalStoreMigration (`_nextObject`,
// `run`, `PendingMigration.attemptMigration`). The bounded worker pool
// follows uber-kraken's origin/blobserver/repair.go shape (a shared cursor
// pulled by N goroutines) reimplemented with golang.org/x/sync/errgroup,
// per SPEC_FULL.md's domain-stack wiring.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/hash"
	"github.com/fusionapp/entropy/pkg/object"
)

// Engine drives one source local backend's migrations. destination is nil
// in verification mode; participants are the additional backends consulted
// (and, where they are also WriteBackends, repaired) during verification.
type Engine struct {
	source        *local.Store
	destination    backend.WriteBackend
	participants  []backend.ReadBackend
	quarantineDir string
	log           zerolog.Logger

	mu      sync.Mutex
	running map[uint64]bool
}

// New builds an Engine. quarantineDir receives the bytes of any copy found
// corrupt during verification, for forensics, per spec.md's glossary entry
// for "quarantine path".
func New(source *local.Store, destination backend.WriteBackend, participants []backend.ReadBackend, quarantineDir string, log zerolog.Logger) *Engine {
	return &Engine{
		source:        source,
		destination:   destination,
		participants:  participants,
		quarantineDir: quarantineDir,
		log:           log.With().Str("component", "migration-engine").Logger(),
		running:       make(map[uint64]bool),
	}
}

// CreateMigration implements source.migrateTo(destination) (spec.md §4.4):
// end = current max ordinal, current = start-1. destination == nil
// (verification mode) is recorded as an empty destination name.
func (e *Engine) CreateMigration(ctx context.Context, concurrency int) (uint64, error) {
	name := ""
	if e.destination != nil {
		name = e.destination.Name()
	}
	rec, err := e.source.CreateMigration(ctx, name, concurrency)
	return rec.ID, err
}

// Run implements spec.md §4.9's run(): idempotent and re-entrant, guarded
// by the transient running flag. Returns nil immediately if already
// running for this migrationID.
func (e *Engine) Run(ctx context.Context, migrationID uint64) error {
	e.mu.Lock()
	if e.running[migrationID] {
		e.mu.Unlock()
		return nil
	}
	e.running[migrationID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, migrationID)
		e.mu.Unlock()
	}()

	rec, err := e.source.GetMigration(ctx, migrationID)
	if err != nil {
		return fmt.Errorf("migration %d: %w", migrationID, err)
	}
	existing, err := e.source.ExistingPendingMigrations(ctx, migrationID)
	if err != nil {
		return fmt.Errorf("migration %d: listing pending rows: %w", migrationID, err)
	}

	work := make(chan local.PendingMigrationRow)
	g, gctx := errgroup.WithContext(ctx)

	// Single producer: pre-existing rows first, then the lazy _nextObject
	// sequence. Both halves feed the same channel so workers cooperate on
	// one shared iterator, per spec.md §4.9 step 2-3.
	g.Go(func() error {
		defer close(work)
		for _, row := range existing {
			select {
			case work <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		for {
			row, ok, err := e.source.NextMigrationObject(gctx, migrationID)
			if err != nil {
				return fmt.Errorf("migration %d: _nextObject: %w", migrationID, err)
			}
			if !ok {
				return nil
			}
			select {
			case work <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	concurrency := rec.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for row := range work {
				// Per-object failures are recorded on the PendingMigration
				// row and never abort the migration as a whole (spec.md
				// §4.9's failure semantics); only a genuinely unexpected
				// bookkeeping error propagates.
				if err := e.attemptMigration(gctx, row); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// attemptMigration implements spec.md §4.9's attemptMigration: replicate to
// destination, or run the verification protocol when destination is nil.
func (e *Engine) attemptMigration(ctx context.Context, row local.PendingMigrationRow) error {
	if e.destination != nil {
		return e.replicate(ctx, row)
	}
	return e.verify(ctx, row)
}

func (e *Engine) replicate(ctx context.Context, row local.PendingMigrationRow) error {
	objectID := row.Object.ObjectID
	obj, err := e.source.GetObject(ctx, objectID)
	if err != nil {
		return e.recordFailure(ctx, row, fmt.Errorf("reading source object: %w", err))
	}
	content, err := object.ReadAll(ctx, obj)
	if err != nil {
		return e.recordFailure(ctx, row, fmt.Errorf("reading source content: %w", err))
	}
	_, err = e.destination.StoreObject(ctx, backend.StoreOptions{
		Content:     content,
		ContentType: obj.ContentType(),
		Created:     obj.Created(),
		ObjectID:    objectID,
	})
	if err != nil {
		return e.recordFailure(ctx, row, fmt.Errorf("storing to %s: %w", e.destination.Name(), err))
	}
	return e.complete(ctx, row)
}

type copyStatus int

const (
	statusMissing copyStatus = iota
	statusGood
	statusCorrupt
)

type replicaCopy struct {
	backendName string
	writer      backend.WriteBackend // nil if this backend cannot be repaired
	status      copyStatus
	content     []byte
}

// verify implements spec.md §4.9's verification protocol.
func (e *Engine) verify(ctx context.Context, row local.PendingMigrationRow) error {
	objectID := row.Object.ObjectID
	expectedDigest := row.Object.ContentDigest
	hashAlgo := row.Object.Hash

	allBackends := append([]backend.ReadBackend{e.source}, e.participants...)
	copies := make([]replicaCopy, 0, len(allBackends))

	for _, b := range allBackends {
		obj, err := b.GetObject(ctx, objectID)
		var nonexistent *entropyerr.NonexistentObject
		switch {
		case errors.As(err, &nonexistent):
			copies = append(copies, replicaCopy{backendName: b.Name(), writer: asWriter(b), status: statusMissing})
			continue
		case err != nil:
			return e.recordFailure(ctx, row, fmt.Errorf("fetching from %s: %w", b.Name(), err))
		}
		// A backend claiming a different object id than requested is
		// returning the wrong object entirely: a backend bug, not
		// corruption of this object's bytes.
		if obj.ObjectID() != objectID {
			return e.recordFailure(ctx, row, &entropyerr.UnexpectedDigest{ObjectID: objectID})
		}
		content, err := object.ReadAll(ctx, obj)
		if err != nil {
			return e.recordFailure(ctx, row, fmt.Errorf("reading content from %s: %w", b.Name(), err))
		}
		actual, err := hash.Digest(hashAlgo, content)
		if err != nil {
			return e.recordFailure(ctx, row, err)
		}
		status := statusCorrupt
		if actual == expectedDigest {
			status = statusGood
		} else {
			e.quarantine(objectID, b.Name(), content)
		}
		copies = append(copies, replicaCopy{backendName: b.Name(), writer: asWriter(b), status: status, content: content})
	}

	var goodContent []byte
	for _, c := range copies {
		if c.status == statusGood {
			goodContent = c.content
			break
		}
	}
	if goodContent == nil {
		return e.recordFailure(ctx, row, &entropyerr.NoGoodCopies{ObjectID: objectID})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range copies {
		if c.status == statusGood || c.writer == nil {
			continue
		}
		writer := c.writer
		g.Go(func() error {
			_, err := writer.StoreObject(gctx, backend.StoreOptions{
				Content:     goodContent,
				ContentType: row.Object.ContentType,
				Created:     row.Object.Created,
				ObjectID:    objectID,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return e.recordFailure(ctx, row, fmt.Errorf("repair: %w", err))
	}
	return e.complete(ctx, row)
}

func asWriter(rb backend.ReadBackend) backend.WriteBackend {
	if wb, ok := rb.(backend.WriteBackend); ok {
		return wb
	}
	return nil
}

func (e *Engine) quarantine(objectID, backendName string, content []byte) {
	if e.quarantineDir == "" {
		return
	}
	if err := os.MkdirAll(e.quarantineDir, 0o755); err != nil {
		e.log.Warn().Err(err).Msg("creating quarantine directory failed")
		return
	}
	safeID := filepath.Base(objectID)
	name := fmt.Sprintf("%s-%s-%s", safeID, backendName, uuid.NewString())
	path := filepath.Join(e.quarantineDir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		e.log.Warn().Err(err).Str("object_id", objectID).Msg("writing quarantine copy failed")
	}
}

// complete deletes a PendingMigration row after a successful attempt.
func (e *Engine) complete(ctx context.Context, row local.PendingMigrationRow) error {
	if err := e.source.DeletePendingMigration(ctx, row.ID); err != nil {
		return fmt.Errorf("pending migration %d: deleting completed row: %w", row.ID, err)
	}
	return nil
}

// recordFailure persists the failure trace on the PendingMigration row and
// leaves it in place for the next run, per spec.md §7's propagation policy:
// logged and recorded, never escaping to abort the whole migration.
func (e *Engine) recordFailure(ctx context.Context, row local.PendingMigrationRow, cause error) error {
	e.log.Warn().Err(cause).Str("object_id", row.Object.ObjectID).Uint64("pending_migration_id", row.ID).Msg("migration attempt failed")
	if err := e.source.RecordMigrationFailure(ctx, row.ID, cause.Error()); err != nil {
		return fmt.Errorf("pending migration %d: recording failure: %w", row.ID, err)
	}
	return nil
}
