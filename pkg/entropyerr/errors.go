// Package entropyerr defines the error taxonomy shared by every Entropy
// backend, the storage coordinator, the upload scheduler and the migration
// engine.
package entropyerr

import "fmt"

// UnknownHashAlgorithm is returned by the hash registry when asked for an
// algorithm it does not recognize.
type UnknownHashAlgorithm struct {
	Algorithm string
}

func (e *UnknownHashAlgorithm) Error() string {
	return fmt.Sprintf("unknown hash algorithm: %q", e.Algorithm)
}

// NonexistentObject is returned by a ReadBackend when the requested object
// id is not present. The storage coordinator treats this specially: it is
// the only error that allows the priority search to continue to the next
// backend.
type NonexistentObject struct {
	ObjectID string
}

func (e *NonexistentObject) Error() string {
	return fmt.Sprintf("object does not exist: %s", e.ObjectID)
}

// CorruptObject is returned by ContentObject.Verify when the on-disk bytes
// no longer hash to the recorded digest.
type CorruptObject struct {
	Expected string
	Actual   string
}

func (e *CorruptObject) Error() string {
	return fmt.Sprintf("corrupt object: expected digest %q, got %q", e.Expected, e.Actual)
}

// DigestMismatch is returned by the HTTP layer when a supplied Content-MD5
// header does not match the uploaded body.
type DigestMismatch struct{}

func (e *DigestMismatch) Error() string {
	return "Content-MD5 does not match request body"
}

// APIError wraps a non-2xx response from a remote or cloud backend.
type APIError struct {
	Code    int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// NotImplemented is returned for operations a backend does not support;
// every backend's StoreObject returns it for non-empty metadata.
type NotImplemented struct {
	Reason string
}

func (e *NotImplemented) Error() string {
	return "not implemented: " + e.Reason
}

// NoReadBackends / NoWriteBackends are configuration errors: the
// coordinator was invoked but has no backend able to serve the request.
type NoReadBackends struct{}

func (e *NoReadBackends) Error() string { return "no read backends configured" }

type NoWriteBackends struct{}

func (e *NoWriteBackends) Error() string { return "no write backends configured" }

// NoGoodCopies is returned by the migration engine's verification protocol
// when no backend holds bytes matching the expected digest.
type NoGoodCopies struct {
	ObjectID string
}

func (e *NoGoodCopies) Error() string {
	return fmt.Sprintf("no good copies of %s found among participating backends", e.ObjectID)
}

// UnexpectedDigest is returned when a backend reports its own digest for an
// object that doesn't match the digest we asked it for — the backend
// returned the wrong object, which is a bug in that backend, not a
// corruption of the object itself.
type UnexpectedDigest struct {
	ObjectID string
}

func (e *UnexpectedDigest) Error() string {
	return fmt.Sprintf("backend returned unexpected digest for %s", e.ObjectID)
}

// IrreparableError wraps the Verify failure of an object about to be
// served; surfaced to HTTP as a 500. No reconstruction from other backends
// is attempted before it is returned.
type IrreparableError struct {
	ObjectID string
	Cause    error
}

func (e *IrreparableError) Error() string {
	return fmt.Sprintf("object %s is irreparably corrupt: %v", e.ObjectID, e.Cause)
}

func (e *IrreparableError) Unwrap() error { return e.Cause }

// PartialWriteFailure is returned by the coordinator when at least one
// synchronous write backend failed. Earlier, already-successful backends
// are not rolled back: content addressing makes that safe, since re-storing
// the same bytes is idempotent.
type PartialWriteFailure struct {
	ObjectID  string
	Succeeded []string
	Failed    string
	Cause     error
}

func (e *PartialWriteFailure) Error() string {
	return fmt.Sprintf(
		"storeObject(%s): backend %q failed after %d backend(s) succeeded: %v",
		e.ObjectID, e.Failed, len(e.Succeeded), e.Cause)
}

func (e *PartialWriteFailure) Unwrap() error { return e.Cause }
