package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/entropyerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open("L1", filepath.Join(dir, "index.db"), dir, "sha256")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreObjectIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StoreObject(ctx, backend.StoreOptions{
		Content:     []byte("blahblah some data blahblah"),
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256:9aef0e119873bb0aab04e941d8f76daf21dedcd79e2024004766ee3b22ca9862", id)

	obj, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, obj.ObjectID())
	assert.Equal(t, "application/octet-stream", obj.ContentType())

	r, err := obj.Open(ctx)
	require.NoError(t, err)
	defer r.Close()
	content := make([]byte, 64)
	n, _ := r.Read(content)
	assert.Equal(t, "blahblah some data blahblah", string(content[:n]))
}

func TestStoreObjectDeterminism(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.StoreObject(ctx, backend.StoreOptions{Content: []byte("somecontent"), ContentType: "text/plain"})
	require.NoError(t, err)
	id2, err := s.StoreObject(ctx, backend.StoreOptions{Content: []byte("somecontent"), ContentType: "application/json"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "objectId must be a pure function of bytes and hash algorithm")
}

func TestStoreObjectUpdateSemantics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StoreObject(ctx, backend.StoreOptions{Content: []byte("data"), ContentType: "text/plain"})
	require.NoError(t, err)

	row1, err := s.lookup(id)
	require.NoError(t, err)

	_, err = s.StoreObject(ctx, backend.StoreOptions{Content: []byte("data"), ContentType: "text/html"})
	require.NoError(t, err)

	row2, err := s.lookup(id)
	require.NoError(t, err)

	assert.Equal(t, row1.Ordinal, row2.Ordinal, "re-ingestion must not allocate a new ordinal")
	assert.Equal(t, "text/html", row2.ContentType)
}

func TestGetObjectMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetObject(context.Background(), "sha256:deadbeef")
	var nonexistent *entropyerr.NonexistentObject
	assert.ErrorAs(t, err, &nonexistent)
}

func TestVerifySoundness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StoreObject(ctx, backend.StoreOptions{Content: []byte("somecontent"), ContentType: "text/plain"})
	require.NoError(t, err)

	obj, err := s.GetObject(ctx, id)
	require.NoError(t, err)
	fileObj := obj.(*FileObject)
	require.NoError(t, fileObj.Verify(ctx))

	path, err := s.BlobPath(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage!"), 0o644))

	var corrupt *entropyerr.CorruptObject
	assert.ErrorAs(t, fileObj.Verify(ctx), &corrupt)
}

func TestNextObjectAfterRespectsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.StoreObject(ctx, backend.StoreOptions{Content: []byte("object1")})
	require.NoError(t, err)
	_, err = s.StoreObject(ctx, backend.StoreOptions{Content: []byte("object2")})
	require.NoError(t, err)

	end, err := s.MaxOrdinal(ctx)
	require.NoError(t, err)

	// An object stored after the snapshot must not appear in (0, end].
	_, err = s.StoreObject(ctx, backend.StoreOptions{Content: []byte("object3-after-snapshot")})
	require.NoError(t, err)

	var seen []string
	current := int64(-1)
	for {
		row, ok, err := s.NextObjectAfter(ctx, current, end)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, row.ObjectID)
		current = row.Ordinal
	}

	assert.Len(t, seen, 2)
	assert.Equal(t, id1, seen[0])
}
