package httpapi

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/store"
)

func newTestHandler(t *testing.T) (*Handler, *local.Store) {
	t.Helper()
	dir := t.TempDir()
	l, err := local.Open("L1", filepath.Join(dir, "index.db"), dir, "sha256")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	coordinator := store.New(l, []backend.ReadBackend{l}, []backend.WriteBackend{l}, nil, nil, zerolog.Nop())
	return New(coordinator, zerolog.Nop()), l
}

func TestRootRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewInfoRoute(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/new", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPutAndGetRoundTrip exercises spec.md §8's scenario 1/2 byte sequences
// through the actual HTTP routes.
func TestPutAndGetRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)
	content := []byte("blahblah some data blahblah")

	putReq := httptest.NewRequest(http.MethodPut, "/new", bytes.NewReader(content))
	putReq.Header.Set("Content-Type", "text/plain")
	putW := httptest.NewRecorder()
	h.Routes().ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)
	objectID := putW.Body.String()
	assert.Equal(t, "sha256:9aef0e119873bb0aab04e941d8f76daf21dedcd79e2024004766ee3b22ca9862", objectID)

	getReq := httptest.NewRequest(http.MethodGet, "/"+objectID, nil)
	getW := httptest.NewRecorder()
	h.Routes().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
	assert.Equal(t, "text/plain", getW.Header().Get("Content-Type"))
	assert.Equal(t, content, getW.Body.Bytes())
}

func TestPutContentMD5Mismatch(t *testing.T) {
	h, _ := newTestHandler(t)
	content := []byte("some bytes")
	wrongSum := md5.Sum([]byte("different bytes"))

	req := httptest.NewRequest(http.MethodPut, "/new", bytes.NewReader(content))
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(wrongSum[:]))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutContentMD5Match(t *testing.T) {
	h, _ := newTestHandler(t)
	content := []byte("some bytes")
	sum := md5.Sum(content)

	req := httptest.NewRequest(http.MethodPut, "/new", bytes.NewReader(content))
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetMissingObject(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sha256:deadbeef", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeadObject(t *testing.T) {
	h, l := newTestHandler(t)
	id, err := l.StoreObject(context.Background(), backend.StoreOptions{Content: []byte("data"), ContentType: "text/plain"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodHead, "/"+id, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes(), "HEAD must not return a body")
}

// TestGetCorruptObjectReturns500 is spec.md §6's "Corrupt -> 500
// (IrreparableError)" route contract.
func TestGetCorruptObjectReturns500(t *testing.T) {
	h, l := newTestHandler(t)
	id, err := l.StoreObject(context.Background(), backend.StoreOptions{Content: []byte("somecontent")})
	require.NoError(t, err)

	path, err := l.BlobPath(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage!"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/"+id, nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/new", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
