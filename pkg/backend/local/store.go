// Package local implements the authoritative on-disk backend (C4): blob
// files under a bucketed directory tree, plus an indexed row table and
// durable work queues (PendingUpload, PendingMigration) kept in the same
// embedded transactional store, following entropy/backends/localaxiom.py's
// AxiomStore/ImmutableObject design. The row table engine is
// go.etcd.io/bbolt, grounded on cuemby-warren's pkg/storage/boltdb.go
// (bucket-per-kind, JSON-marshaled values, Update/View transactions).
package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/hash"
	"github.com/fusionapp/entropy/pkg/object"
)

var (
	bucketObjects           = []byte("objects")             // objectID -> objectRow (json)
	bucketObjectsByOrdinal  = []byte("objects_by_ordinal")  // ordinal (be64) -> objectID
	bucketPendingUploads    = []byte("pending_uploads")     // id (be64) -> pendingUploadRow (json)
	bucketMigrations        = []byte("migrations")          // id (be64) -> migrationRow (json)
	bucketPendingMigrations = []byte("pending_migrations")  // id (be64) -> pendingMigrationRow (json)
)

// Store is the C4 local backend: it satisfies backend.ReadBackend,
// backend.WriteBackend and backend.SourceStore.
type Store struct {
	db       *bolt.DB
	baseDir  string
	hashAlgo string
	name     string
}

var (
	_ backend.ReadBackend  = (*Store)(nil)
	_ backend.WriteBackend = (*Store)(nil)
	_ backend.SourceStore  = (*Store)(nil)
)

// Open opens (creating if absent) the bbolt database at dbPath and prepares
// the on-disk blob tree under baseDir. name identifies this backend in logs
// and PendingUpload/migration bookkeeping.
func Open(name, dbPath, baseDir, hashAlgorithm string) (*Store, error) {
	if !hash.Known(hashAlgorithm) {
		return nil, &entropyerr.UnknownHashAlgorithm{Algorithm: hashAlgorithm}
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("local backend %s: creating base dir: %w", name, err)
	}
	db, err := bolt.Open(dbPath, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("local backend %s: opening index: %w", name, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketObjectsByOrdinal, bucketPendingUploads, bucketMigrations, bucketPendingMigrations} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("local backend %s: preparing buckets: %w", name, err)
	}
	return &Store{db: db, baseDir: baseDir, hashAlgo: hashAlgorithm, name: name}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return s.name }

// objectRow is the persisted shape of a ContentObject row.
type objectRow struct {
	Ordinal       int64     `json:"ordinal"`
	Hash          string    `json:"hash"`
	ContentDigest string    `json:"content_digest"`
	ContentType   string    `json:"content_type"`
	Created       time.Time `json:"created"`
}

func (r objectRow) objectID() string { return r.Hash + ":" + r.ContentDigest }

func (r objectRow) toRow(objectID string) backend.Row {
	return backend.Row{
		Ordinal:       r.Ordinal,
		ObjectID:      objectID,
		Hash:          r.Hash,
		ContentDigest: r.ContentDigest,
		ContentType:   r.ContentType,
		Created:       r.Created,
	}
}

func be64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// blobPath returns the on-disk path for a (hashAlgo, digest) pair, bucketed
// by the digest's first 3 hex characters to cap directory fan-out, per
// spec.md §6's on-disk layout.
func (s *Store) blobPath(hashAlgo, digest string) string {
	bucket := digest
	if len(bucket) > 3 {
		bucket = bucket[:3]
	}
	return filepath.Join(s.baseDir, "objects", "immutable", bucket, hashAlgo+":"+digest)
}

// writeBlobAtomic writes content to path via temp-file-then-rename so a
// reader never observes a partially written blob.
func writeBlobAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// StoreObject implements spec.md §4.4's storeObject algorithm: hash the
// content, look the (hash, digest) pair up, update-in-place on a hit
// (rewriting the blob if its on-disk bytes differ from the content), or
// allocate a fresh ordinal, blob file and row on a miss. Metadata is
// rejected since this core never implements it.
func (s *Store) StoreObject(ctx context.Context, opts backend.StoreOptions) (string, error) {
	if len(opts.Metadata) > 0 {
		return "", &entropyerr.NotImplemented{Reason: "non-empty metadata"}
	}
	digest, err := hash.Digest(s.hashAlgo, opts.Content)
	if err != nil {
		return "", err
	}
	objectID := s.hashAlgo + ":" + digest
	if opts.ObjectID != "" && opts.ObjectID != objectID {
		return "", fmt.Errorf("local backend %s: supplied objectID %q does not match computed id %q", s.name, opts.ObjectID, objectID)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = object.DefaultContentType
	}
	created := opts.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	path := s.blobPath(s.hashAlgo, digest)
	var blobWritten bool

	err = s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		existing := objects.Get([]byte(objectID))
		if existing != nil {
			var row objectRow
			if err := json.Unmarshal(existing, &row); err != nil {
				return fmt.Errorf("decoding existing row for %s: %w", objectID, err)
			}
			// A missing or damaged blob is rewritten from the supplied
			// content, which has just hashed to this digest; this is how a
			// verification pass repairs a corrupt local copy.
			if onDisk, err := os.ReadFile(path); err != nil || !bytes.Equal(onDisk, opts.Content) {
				if err := writeBlobAtomic(path, opts.Content); err != nil {
					return fmt.Errorf("rewriting blob for %s: %w", objectID, err)
				}
			}
			row.ContentType = contentType
			row.Created = created
			encoded, err := json.Marshal(row)
			if err != nil {
				return err
			}
			return objects.Put([]byte(objectID), encoded)
		}

		// Blob bytes must exist on disk before the row becomes visible, so
		// write it inside the transaction but before the row insert: a
		// crash between these two steps leaves an orphan blob, never a row
		// pointing at missing bytes.
		if err := writeBlobAtomic(path, opts.Content); err != nil {
			return fmt.Errorf("writing blob for %s: %w", objectID, err)
		}
		blobWritten = true

		ordinal, err := objects.NextSequence()
		if err != nil {
			return err
		}
		row := objectRow{
			Ordinal:       int64(ordinal),
			Hash:          s.hashAlgo,
			ContentDigest: digest,
			ContentType:   contentType,
			Created:       created,
		}
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := objects.Put([]byte(objectID), encoded); err != nil {
			return err
		}
		ordinals := tx.Bucket(bucketObjectsByOrdinal)
		return ordinals.Put(be64(row.Ordinal), []byte(objectID))
	})
	if err != nil {
		if blobWritten {
			os.Remove(path)
		}
		return "", err
	}
	return objectID, nil
}

// GetObject implements spec.md §4.4's getObject: split "algo:digest" and
// look the row up; a miss is *entropyerr.NonexistentObject.
func (s *Store) GetObject(ctx context.Context, objectID string) (object.Object, error) {
	row, err := s.lookup(objectID)
	if err != nil {
		return nil, err
	}
	return &FileObject{
		path:          s.blobPath(row.Hash, row.ContentDigest),
		id:            objectID,
		hash:          row.Hash,
		contentDigest: row.ContentDigest,
		contentType:   row.ContentType,
		created:       row.Created,
	}, nil
}

func (s *Store) lookup(objectID string) (objectRow, error) {
	var row objectRow
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketObjects).Get([]byte(objectID))
		if raw == nil {
			return &entropyerr.NonexistentObject{ObjectID: objectID}
		}
		return json.Unmarshal(raw, &row)
	})
	return row, err
}

// BlobPath returns the on-disk path of objectID's blob, for admin tooling
// and tests that need to tamper with bytes directly (spec.md §8's
// corrupt-the-blob-file scenarios).
func (s *Store) BlobPath(objectID string) (string, error) {
	row, err := s.lookup(objectID)
	if err != nil {
		return "", err
	}
	return s.blobPath(row.Hash, row.ContentDigest), nil
}

// MaxOrdinal returns the current maximum assigned ordinal id, used as the
// snapshot bound when a migration is created.
func (s *Store) MaxOrdinal(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObjectsByOrdinal).Cursor()
		k, _ := c.Last()
		if k == nil {
			max = 0
			return nil
		}
		max = int64(binary.BigEndian.Uint64(k))
		return nil
	})
	return max, err
}

// NextObjectAfter implements spec.md §4.9's `_nextObject` object-selection
// half (its transactional pairing with PendingMigration creation lives in
// queue.go's NextMigrationObject, which wraps this in the same bbolt
// transaction as the row insert).
func (s *Store) NextObjectAfter(ctx context.Context, current, end int64) (backend.Row, bool, error) {
	var (
		row   backend.Row
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		r, ok, err := nextObjectAfterTx(tx, current, end)
		row, found = r, ok
		return err
	})
	return row, found, err
}

// nextObjectAfterTx is the shared implementation used both standalone (View
// transaction, above) and from within queue.go's read-write migration
// transaction.
func nextObjectAfterTx(tx *bolt.Tx, current, end int64) (backend.Row, bool, error) {
	c := tx.Bucket(bucketObjectsByOrdinal).Cursor()
	k, v := c.Seek(be64(current + 1))
	if k == nil {
		return backend.Row{}, false, nil
	}
	ordinal := int64(binary.BigEndian.Uint64(k))
	if ordinal > end {
		return backend.Row{}, false, nil
	}
	objectID := string(v)
	raw := tx.Bucket(bucketObjects).Get(v)
	if raw == nil {
		return backend.Row{}, false, fmt.Errorf("local backend: dangling ordinal index entry for %s", objectID)
	}
	var row objectRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return backend.Row{}, false, err
	}
	return row.toRow(objectID), true, nil
}
