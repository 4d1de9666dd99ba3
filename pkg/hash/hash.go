// Package hash is the process-wide registry mapping a hash algorithm name
// to a constructor for it. It mirrors entropy/hash.py's _hashes table: a
// small static map, no registration API exposed to callers.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/fusionapp/entropy/pkg/entropyerr"
)

// Hasher is the subset of hash.Hash that callers of this package need: feed
// it bytes, then ask for the lowercase hex digest.
type Hasher interface {
	Write(p []byte) (int, error)
	HexDigest() string
}

type wrapped struct {
	h hash.Hash
}

func (w *wrapped) Write(p []byte) (int, error) { return w.h.Write(p) }

func (w *wrapped) HexDigest() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Constructor builds a fresh Hasher for one algorithm.
type Constructor func() Hasher

var registry = map[string]Constructor{
	"sha256": func() Hasher { return &wrapped{h: sha256.New()} },
}

// Get looks up a hasher constructor by name. Unknown names fail with
// *entropyerr.UnknownHashAlgorithm, matching entropy/hash.py's getHash.
func Get(algorithm string) (Constructor, error) {
	ctor, ok := registry[algorithm]
	if !ok {
		return nil, &entropyerr.UnknownHashAlgorithm{Algorithm: algorithm}
	}
	return ctor, nil
}

// Digest hashes data in one call with the named algorithm and returns the
// lowercase hex digest.
func Digest(algorithm string, data []byte) (string, error) {
	ctor, err := Get(algorithm)
	if err != nil {
		return "", err
	}
	h := ctor()
	if _, err := h.Write(data); err != nil {
		return "", err
	}
	return h.HexDigest(), nil
}

// Known reports whether algorithm is a registered hash name, without
// constructing a hasher.
func Known(algorithm string) bool {
	_, ok := registry[algorithm]
	return ok
}
