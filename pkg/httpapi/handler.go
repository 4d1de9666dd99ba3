// Package httpapi is the thin HTTP collaborator spec.md §1 and §6 describe:
// request parsing, Content-MD5 validation and method dispatch live here,
// outside the storage coordinator itself. Built on stdlib net/http,
// following img_tool/cmd/registry/registry.go's http.Server-with-explicit-
// timeouts pattern; routing uses the standard library's method-qualified
// ServeMux patterns rather than a third-party router, since the route set
// is five entries.
package httpapi

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/entropylog"
	"github.com/fusionapp/entropy/pkg/object"
	"github.com/fusionapp/entropy/pkg/store"
)

// Handler serves spec.md §6's HTTP API over one storage coordinator.
type Handler struct {
	coordinator *store.Coordinator
	log         zerolog.Logger
}

// New builds a Handler.
func New(coordinator *store.Coordinator, log zerolog.Logger) *Handler {
	return &Handler{coordinator: coordinator, log: log.With().Str("component", "httpapi").Logger()}
}

// Routes returns the request mux, ready to hand to an http.Server.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /new", h.newInfo)
	mux.HandleFunc("PUT /new", h.put)
	// A GET pattern also matches HEAD requests, and the method-less
	// catch-all below also answers other methods on /new; separate
	// "HEAD /{objectID...}" or "/new" patterns would conflict with these
	// and make ServeMux panic at registration.
	mux.HandleFunc("GET /{objectID...}", h.get)
	mux.HandleFunc("/{objectID...}", methodNotAllowed)
	return withRequestID(mux)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := r.Context()
		log := entropylog.WithRequestID(id)
		r = r.WithContext(withLogger(ctx, log))
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Entropy")
}

func (h *Handler) newInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "PUT data here to create an object.")
}

// put implements spec.md §6's PUT /new.
func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body failed", http.StatusBadRequest)
		return
	}

	if want := r.Header.Get("Content-MD5"); want != "" {
		sum := md5.Sum(body)
		got := base64.StdEncoding.EncodeToString(sum[:])
		if got != want {
			http.Error(w, (&entropyerr.DigestMismatch{}).Error(), http.StatusBadRequest)
			return
		}
	}

	contentType := r.Header.Get("Content-Type")
	objectID, err := h.coordinator.StoreObject(r.Context(), backend.StoreOptions{
		Content:     body,
		ContentType: contentType,
	})
	if err != nil {
		loggerFrom(r.Context(), h.log).Error().Err(err).Msg("storeObject failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, objectID)
}

// get implements spec.md §6's GET/HEAD /<objectId>.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	objectID := r.PathValue("objectID")
	obj, err := h.coordinator.GetObject(r.Context(), objectID)
	if err != nil {
		h.respondError(r, w, objectID, err)
		return
	}
	if verifier, ok := obj.(object.Verifier); ok {
		if verifyErr := verifier.Verify(r.Context()); verifyErr != nil {
			h.respondError(r, w, objectID, &entropyerr.IrreparableError{ObjectID: objectID, Cause: verifyErr})
			return
		}
	}
	reader, err := obj.Open(r.Context())
	if err != nil {
		h.respondError(r, w, objectID, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", obj.ContentType())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, reader); err != nil {
		h.log.Warn().Err(err).Str("object_id", objectID).Msg("streaming response body failed")
	}
}

func (h *Handler) respondError(r *http.Request, w http.ResponseWriter, objectID string, err error) {
	log := loggerFrom(r.Context(), h.log)
	var nonexistent *entropyerr.NonexistentObject
	var irreparable *entropyerr.IrreparableError
	switch {
	case errors.As(err, &nonexistent):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &irreparable):
		log.Error().Err(err).Str("object_id", objectID).Msg("object is irreparably corrupt")
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		log.Error().Err(err).Str("object_id", objectID).Msg("getObject failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// NewServer wraps Routes() in an http.Server with explicit timeouts,
// matching img_tool/cmd/registry/registry.go's bootstrap pattern.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
