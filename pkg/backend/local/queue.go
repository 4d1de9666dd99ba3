package local

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fusionapp/entropy/pkg/backend"
)

// PendingUpload is a durable row recording one deferred-write backend's
// still-outstanding copy of an object (C8's PendingUpload, spec.md §3).
type PendingUpload struct {
	ID        uint64
	ObjectID  string
	Backend   string
	Scheduled time.Time
}

type pendingUploadRow struct {
	ObjectID  string    `json:"object_id"`
	Backend   string    `json:"backend"`
	Scheduled time.Time `json:"scheduled"`
}

// CreatePendingUpload enqueues one deferred-write intent, per spec.md
// §4.7's storeObject step 2.
func (s *Store) CreatePendingUpload(ctx context.Context, objectID, backendName string, scheduled time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingUploads)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(pendingUploadRow{ObjectID: objectID, Backend: backendName, Scheduled: scheduled})
		if err != nil {
			return err
		}
		return b.Put(be64(int64(id)), encoded)
	})
}

// NextPendingUpload returns the earliest-scheduled PendingUpload row
// regardless of whether it is due yet; the upload scheduler (C8) decides
// what to do with the result. found is false when the queue is empty.
func (s *Store) NextPendingUpload(ctx context.Context) (PendingUpload, bool, error) {
	var (
		out   PendingUpload
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingUploads)
		c := b.Cursor()
		var best *PendingUpload
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row pendingUploadRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			candidate := PendingUpload{ID: binary.BigEndian.Uint64(k), ObjectID: row.ObjectID, Backend: row.Backend, Scheduled: row.Scheduled}
			if best == nil || candidate.Scheduled.Before(best.Scheduled) {
				c := candidate
				best = &c
			}
		}
		if best != nil {
			out, found = *best, true
		}
		return nil
	})
	return out, found, err
}

// DeletePendingUpload removes a row after a successful deferred write.
func (s *Store) DeletePendingUpload(ctx context.Context, id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingUploads).Delete(be64(int64(id)))
	})
}

// ReschedulePendingUpload advances a row's scheduled time after a failed
// attempt, per spec.md §4.8's back-off.
func (s *Store) ReschedulePendingUpload(ctx context.Context, id uint64, scheduled time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingUploads)
		raw := b.Get(be64(int64(id)))
		if raw == nil {
			return fmt.Errorf("pending upload %d no longer exists", id)
		}
		var row pendingUploadRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		row.Scheduled = scheduled
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(be64(int64(id)), encoded)
	})
}

// MigrationRecord is the persisted form of a Migration (spec.md §3): a
// snapshot-bounded replication or verification job.
type MigrationRecord struct {
	ID          uint64
	Destination string // empty => verification-only mode
	Start       int64
	Current     int64
	End         int64
	Concurrency int
}

type migrationRow struct {
	Destination string `json:"destination"`
	Start       int64  `json:"start"`
	Current     int64  `json:"current"`
	End         int64  `json:"end"`
	Concurrency int    `json:"concurrency"`
}

// CreateMigration persists a new Migration with end = MaxOrdinal() at
// creation time (the snapshot bound) and current = start-1, per spec.md
// §4.4's migrateTo.
func (s *Store) CreateMigration(ctx context.Context, destination string, concurrency int) (MigrationRecord, error) {
	end, err := s.MaxOrdinal(ctx)
	if err != nil {
		return MigrationRecord{}, err
	}
	rec := MigrationRecord{Destination: destination, Start: 0, Current: -1, End: end, Concurrency: concurrency}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMigrations)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id
		encoded, err := json.Marshal(migrationRow{Destination: rec.Destination, Start: rec.Start, Current: rec.Current, End: rec.End, Concurrency: rec.Concurrency})
		if err != nil {
			return err
		}
		return b.Put(be64(int64(id)), encoded)
	})
	return rec, err
}

func (s *Store) GetMigration(ctx context.Context, id uint64) (MigrationRecord, error) {
	var rec MigrationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMigrations).Get(be64(int64(id)))
		if raw == nil {
			return fmt.Errorf("migration %d not found", id)
		}
		var row migrationRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		rec = MigrationRecord{ID: id, Destination: row.Destination, Start: row.Start, Current: row.Current, End: row.End, Concurrency: row.Concurrency}
		return nil
	})
	return rec, err
}

// PendingMigrationRow is the per-object tracking record for one migration
// attempt (spec.md §3's PendingMigration).
type PendingMigrationRow struct {
	ID          uint64
	MigrationID uint64
	Object      backend.Row
	LastFailure string
}

type pendingMigrationRowJSON struct {
	MigrationID uint64      `json:"migration_id"`
	Object      backend.Row `json:"object"`
	LastFailure string      `json:"last_failure"`
}

// ExistingPendingMigrations lists every PendingMigration already recorded
// for a migration, the "pre-existing rows" half of spec.md §4.9's run()
// work stream (the rows a previous, interrupted run left behind).
func (s *Store) ExistingPendingMigrations(ctx context.Context, migrationID uint64) ([]PendingMigrationRow, error) {
	var out []PendingMigrationRow
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPendingMigrations).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row pendingMigrationRowJSON
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.MigrationID != migrationID {
				continue
			}
			out = append(out, PendingMigrationRow{ID: binary.BigEndian.Uint64(k), MigrationID: row.MigrationID, Object: row.Object, LastFailure: row.LastFailure})
		}
		return nil
	})
	return out, err
}

// NextMigrationObject is spec.md §4.9's `_nextObject`: in one read-write
// transaction it finds the smallest-ordinal not-yet-migrated object,
// advances the Migration's current, and creates the PendingMigration row.
// This is the primitive that makes N concurrent workers safe: two workers
// racing this call can never observe the same object, because current only
// moves inside this transaction.
func (s *Store) NextMigrationObject(ctx context.Context, migrationID uint64) (PendingMigrationRow, bool, error) {
	var (
		out   PendingMigrationRow
		found bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		migrations := tx.Bucket(bucketMigrations)
		key := be64(int64(migrationID))
		raw := migrations.Get(key)
		if raw == nil {
			return fmt.Errorf("migration %d not found", migrationID)
		}
		var mrow migrationRow
		if err := json.Unmarshal(raw, &mrow); err != nil {
			return err
		}

		row, ok, err := nextObjectAfterTx(tx, mrow.Current, mrow.End)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		mrow.Current = row.Ordinal
		encoded, err := json.Marshal(mrow)
		if err != nil {
			return err
		}
		if err := migrations.Put(key, encoded); err != nil {
			return err
		}

		pending := tx.Bucket(bucketPendingMigrations)
		id, err := pending.NextSequence()
		if err != nil {
			return err
		}
		pmEncoded, err := json.Marshal(pendingMigrationRowJSON{MigrationID: migrationID, Object: row})
		if err != nil {
			return err
		}
		if err := pending.Put(be64(int64(id)), pmEncoded); err != nil {
			return err
		}
		out = PendingMigrationRow{ID: id, MigrationID: migrationID, Object: row}
		found = true
		return nil
	})
	return out, found, err
}

// DeletePendingMigration removes a row after a successful migrate/verify
// attempt.
func (s *Store) DeletePendingMigration(ctx context.Context, id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingMigrations).Delete(be64(int64(id)))
	})
}

// RecordMigrationFailure leaves a PendingMigration row in place but updates
// its LastFailure trace, so the object is retried on the next run.
func (s *Store) RecordMigrationFailure(ctx context.Context, id uint64, failure string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPendingMigrations)
		key := be64(int64(id))
		raw := b.Get(key)
		if raw == nil {
			return fmt.Errorf("pending migration %d no longer exists", id)
		}
		var row pendingMigrationRowJSON
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		row.LastFailure = failure
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}
