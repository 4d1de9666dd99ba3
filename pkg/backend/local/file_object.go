package local

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/hash"
	"github.com/fusionapp/entropy/pkg/object"
)

// FileObject is the local backend's object.Object: a lazily opened on-disk
// blob plus the recorded digest needed for Verify. It mirrors
// entropy/backends/localaxiom.py's ImmutableObject.
type FileObject struct {
	path          string
	id            string
	hash          string
	contentDigest string
	contentType   string
	created       time.Time
}

var _ object.Object = (*FileObject)(nil)

func (f *FileObject) ObjectID() string            { return f.id }
func (f *FileObject) ContentType() string         { return f.contentType }
func (f *FileObject) Created() time.Time          { return f.created }
func (f *FileObject) Metadata() map[string]string { return map[string]string{} }

func (f *FileObject) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &entropyerr.NonexistentObject{ObjectID: f.id}
		}
		return nil, err
	}
	return file, nil
}

// Verify re-reads the blob and recomputes its digest, per spec.md §4.2.
// A mismatch is *entropyerr.CorruptObject. pkg/httpapi's GET handler
// calls it (via the Verifier interface) before streaming a response, per
// spec.md §6's "Corrupt → 500 (IrreparableError)".
func (f *FileObject) Verify(ctx context.Context) error {
	content, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &entropyerr.CorruptObject{Expected: f.contentDigest, Actual: "(missing)"}
		}
		return err
	}
	actual, err := hash.Digest(f.hash, content)
	if err != nil {
		return err
	}
	if actual != f.contentDigest {
		return &entropyerr.CorruptObject{Expected: f.contentDigest, Actual: actual}
	}
	return nil
}
