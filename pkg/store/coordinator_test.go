package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/object"
)

// fakeBackend lets tests control exactly which backend answers a GET, to
// exercise the coordinator's priority-search ordering.
type fakeBackend struct {
	name      string
	objects   map[string]object.Object
	calls     *[]string
	storeFn   func(opts backend.StoreOptions) (string, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) GetObject(ctx context.Context, objectID string) (object.Object, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	obj, ok := f.objects[objectID]
	if !ok {
		return nil, &entropyerr.NonexistentObject{ObjectID: objectID}
	}
	return obj, nil
}

func (f *fakeBackend) StoreObject(ctx context.Context, opts backend.StoreOptions) (string, error) {
	if f.storeFn != nil {
		return f.storeFn(opts)
	}
	return opts.ObjectID, nil
}

func (f *fakeBackend) Deferred() bool { return true }

func newLocalForTest(t *testing.T) *local.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := local.Open("L1", filepath.Join(dir, "index.db"), dir, "sha256")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCoordinatorBackendSearchOrder(t *testing.T) {
	ctx := context.Background()
	var calls []string

	l1 := &fakeBackend{name: "L1", calls: &calls, objects: map[string]object.Object{}}
	l2 := &fakeBackend{name: "L2", calls: &calls, objects: map[string]object.Object{
		"sha256:abc": &object.Memory{ID: "sha256:abc", Type: "text/plain", Contents: []byte("hi")},
	}}
	l3 := &fakeBackend{name: "L3", calls: &calls, objects: map[string]object.Object{
		"sha256:abc": &object.Memory{ID: "sha256:abc", Type: "text/plain", Contents: []byte("should not be reached")},
	}}

	c := New(nil, []backend.ReadBackend{l1, l2, l3}, nil, nil, nil, zerolog.Nop())
	obj, err := c.GetObject(ctx, "sha256:abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2"}, calls, "L3 must not be consulted once L2 answers")

	content, err := object.ReadAll(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestCoordinatorGetObjectAllMiss(t *testing.T) {
	c := New(nil, []backend.ReadBackend{&fakeBackend{name: "L1", objects: map[string]object.Object{}}}, nil, nil, nil, zerolog.Nop())
	_, err := c.GetObject(context.Background(), "sha256:missing")
	var nonexistent *entropyerr.NonexistentObject
	assert.ErrorAs(t, err, &nonexistent)
}

func TestCoordinatorNoReadBackends(t *testing.T) {
	c := New(nil, nil, nil, nil, nil, zerolog.Nop())
	_, err := c.GetObject(context.Background(), "sha256:abc")
	var noBackends *entropyerr.NoReadBackends
	assert.ErrorAs(t, err, &noBackends)
}

type wakeCounter struct{ n int }

func (w *wakeCounter) Wake() { w.n++ }

func TestCoordinatorDeferredWriteFanOut(t *testing.T) {
	ctx := context.Background()
	l := newLocalForTest(t)
	waker := &wakeCounter{}

	d1 := &fakeBackend{name: "s3-primary"}
	d2 := &fakeBackend{name: "s3-secondary"}

	c := New(l, []backend.ReadBackend{l}, []backend.WriteBackend{l}, []backend.DeferredWriteBackend{d1, d2}, waker, zerolog.Nop())

	objectID, err := c.StoreObject(ctx, backend.StoreOptions{Content: []byte("data"), ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, 1, waker.n)

	var found int
	for {
		row, ok, err := l.NextPendingUpload(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Equal(t, objectID, row.ObjectID)
		require.NoError(t, l.DeletePendingUpload(ctx, row.ID))
		found++
	}
	assert.Equal(t, 2, found, "exactly one PendingUpload row per deferred backend")
}

func TestCoordinatorPartialWriteFailureSurfacesFirstFailure(t *testing.T) {
	ctx := context.Background()
	okBackend := &fakeBackend{name: "ok", storeFn: func(opts backend.StoreOptions) (string, error) {
		return "sha256:abc", nil
	}}
	failingBackend := &fakeBackend{name: "bad", storeFn: func(opts backend.StoreOptions) (string, error) {
		return "", assert.AnError
	}}

	c := New(nil, nil, []backend.WriteBackend{okBackend, failingBackend}, nil, nil, zerolog.Nop())
	_, err := c.StoreObject(ctx, backend.StoreOptions{Content: []byte("x")})

	var partial *entropyerr.PartialWriteFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"ok"}, partial.Succeeded)
	assert.Equal(t, "bad", partial.Failed)
}
