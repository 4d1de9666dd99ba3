package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/object"
)

func newLocal(t *testing.T, name string) *local.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := local.Open(name, filepath.Join(dir, "index.db"), dir, "sha256")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestReplicateMigration is spec.md §8's scenario 6: two pre-existing
// objects are migrated; an object stored after CreateMigration is outside
// the snapshot and must not be replicated.
func TestReplicateMigration(t *testing.T) {
	ctx := context.Background()
	source := newLocal(t, "L")
	dest := newLocal(t, "M")

	_, err := source.StoreObject(ctx, backend.StoreOptions{Content: []byte("object1")})
	require.NoError(t, err)
	_, err = source.StoreObject(ctx, backend.StoreOptions{Content: []byte("object2")})
	require.NoError(t, err)

	engine := New(source, dest, nil, "", zerolog.Nop())
	migrationID, err := engine.CreateMigration(ctx, 4)
	require.NoError(t, err)

	// Stored after the snapshot: must not be migrated by this run.
	_, err = source.StoreObject(ctx, backend.StoreOptions{Content: []byte("object3-after-snapshot")})
	require.NoError(t, err)

	require.NoError(t, engine.Run(ctx, migrationID))

	got1, err := dest.GetObject(ctx, mustID(t, source, "object1"))
	require.NoError(t, err)
	content1, err := readAll(ctx, got1)
	require.NoError(t, err)
	assert.Equal(t, "object1", string(content1))

	_, err = dest.GetObject(ctx, mustID(t, source, "object3-after-snapshot"))
	assert.Error(t, err, "objects created after the snapshot must never be migrated")
}

// TestReplicateMigrationNotReentrant is spec.md §8's scenario 6's second
// half: calling Run again while a migration is already running is a no-op.
func TestReplicateMigrationNotReentrant(t *testing.T) {
	ctx := context.Background()
	source := newLocal(t, "L")
	dest := newLocal(t, "M")
	_, err := source.StoreObject(ctx, backend.StoreOptions{Content: []byte("object1")})
	require.NoError(t, err)

	engine := New(source, dest, nil, "", zerolog.Nop())
	migrationID, err := engine.CreateMigration(ctx, 1)
	require.NoError(t, err)

	engine.mu.Lock()
	engine.running[migrationID] = true
	engine.mu.Unlock()

	require.NoError(t, engine.Run(ctx, migrationID)) // no-op: already running

	engine.mu.Lock()
	engine.running[migrationID] = false
	engine.mu.Unlock()
}

// TestVerifyAndRepair is spec.md §8's scenario 4: L1 and L2 both hold the
// object; L1's blob is corrupted; a verification run repairs L1 from L2.
func TestVerifyAndRepair(t *testing.T) {
	ctx := context.Background()
	l1 := newLocal(t, "L1")
	l2 := newLocal(t, "L2")

	objectID, err := l1.StoreObject(ctx, backend.StoreOptions{Content: []byte("somecontent")})
	require.NoError(t, err)
	_, err = l2.StoreObject(ctx, backend.StoreOptions{Content: []byte("somecontent")})
	require.NoError(t, err)

	corruptBlob(t, l1, objectID)

	quarantineDir := t.TempDir()
	engine := New(l1, nil, []backend.ReadBackend{l2}, quarantineDir, zerolog.Nop())
	migrationID, err := engine.CreateMigration(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, engine.Run(ctx, migrationID))

	obj, err := l1.GetObject(ctx, objectID)
	require.NoError(t, err)
	content, err := readAll(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "somecontent", string(content))

	entries, err := os.ReadDir(quarantineDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "the corrupt copy must be preserved for forensics")

	remaining, err := l1.ExistingPendingMigrations(ctx, migrationID)
	require.NoError(t, err)
	assert.Empty(t, remaining, "a successful repair must clear the tracking row")
}

// TestVerifyNoGoodCopies covers spec.md §7's NoGoodCopies fatal-per-object
// handling: when every participating backend is missing or corrupt, the
// PendingMigration row is kept with its LastFailure populated.
func TestVerifyNoGoodCopies(t *testing.T) {
	ctx := context.Background()
	l1 := newLocal(t, "L1")

	objectID, err := l1.StoreObject(ctx, backend.StoreOptions{Content: []byte("onlycopy")})
	require.NoError(t, err)
	corruptBlob(t, l1, objectID)

	engine := New(l1, nil, nil, t.TempDir(), zerolog.Nop())
	migrationID, err := engine.CreateMigration(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, engine.Run(ctx, migrationID))

	remaining, err := l1.ExistingPendingMigrations(ctx, migrationID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Contains(t, remaining[0].LastFailure, "no good copies")
}

func mustID(t *testing.T, source *local.Store, content string) string {
	t.Helper()
	id, err := source.StoreObject(context.Background(), backend.StoreOptions{Content: []byte(content)})
	require.NoError(t, err)
	return id
}

func corruptBlob(t *testing.T, s *local.Store, objectID string) {
	t.Helper()
	path, err := s.BlobPath(objectID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("corrupted-bytes"), 0o644))
}

func readAll(ctx context.Context, obj object.Object) ([]byte, error) {
	return object.ReadAll(ctx, obj)
}
