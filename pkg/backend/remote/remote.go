// Package remote implements the C5 backend: an HTTP client speaking the
// same wire format the service itself serves (spec.md §6), grounded on
// entropy/backends/remoteentropy.py's RemoteEntropyStore. The original's
// Content-MD5 computation referenced an undefined `data` symbol (spec.md
// §9 flags this as a bug, not a design choice); this client computes MD5
// from the actual request body.
package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/object"
)

// Backend is a client for one peer Entropy service.
type Backend struct {
	name    string
	baseURL string
	client  *http.Client
}

var (
	_ backend.ReadBackend  = (*Backend)(nil)
	_ backend.WriteBackend = (*Backend)(nil)
)

// New builds a client against baseURL (no trailing slash). A nil client
// gets a default with a 30s timeout, matching the conservative bound the
// upload scheduler and migration engine expect for a retryable peer call.
func New(name, baseURL string, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend{name: name, baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (b *Backend) Name() string { return b.name }

// StoreObject implements spec.md §4.5: PUT <base>/new with Content-Type and
// Content-MD5, body = raw bytes; the 2xx response body is the object id.
func (b *Backend) StoreObject(ctx context.Context, opts backend.StoreOptions) (string, error) {
	if len(opts.Metadata) > 0 {
		return "", &entropyerr.NotImplemented{Reason: "non-empty metadata"}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = object.DefaultContentType
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+"/new", bytes.NewReader(opts.Content))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	sum := md5.Sum(opts.Content)
	req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	req.ContentLength = int64(len(opts.Content))

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote backend %s: storeObject: %w", b.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", statusError(resp.StatusCode, string(body), "")
	}
	objectID := strings.TrimSpace(string(body))
	if opts.ObjectID != "" && opts.ObjectID != objectID {
		return "", &entropyerr.UnexpectedDigest{ObjectID: opts.ObjectID}
	}
	return objectID, nil
}

// GetObject implements spec.md §4.5's getObject: GET <base>/<objectId>,
// Content-Type header carries the MIME type, 404 maps to NonexistentObject.
func (b *Backend) GetObject(ctx context.Context, objectID string) (object.Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/"+objectID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote backend %s: getObject(%s): %w", b.name, objectID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &entropyerr.NonexistentObject{ObjectID: objectID}
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp.StatusCode, string(body), "")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = object.DefaultContentType
	}
	return &object.Memory{ID: objectID, Type: contentType, At: time.Now().UTC(), Contents: body}, nil
}

// Exists implements the original client.py's Endpoint.exists / spec.md
// §6's HEAD route: check presence without transferring the body.
func (b *Backend) Exists(ctx context.Context, objectID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.baseURL+"/"+objectID, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("remote backend %s: exists(%s): %w", b.name, objectID, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode/100 == 2:
		return true, nil
	default:
		return false, statusError(resp.StatusCode, "", "")
	}
}

func statusError(code int, message, reason string) error {
	if message == "" {
		message = "http " + strconv.Itoa(code)
	}
	return &entropyerr.APIError{Code: code, Message: message, Reason: reason}
}
