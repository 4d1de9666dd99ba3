package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/entropyerr"
)

func TestDigestSHA256(t *testing.T) {
	digest, err := Digest("sha256", []byte("blahblah some data blahblah"))
	require.NoError(t, err)
	assert.Equal(t, "9aef0e119873bb0aab04e941d8f76daf21dedcd79e2024004766ee3b22ca9862", digest)
}

func TestDigestUnknownAlgorithm(t *testing.T) {
	_, err := Digest("md5", []byte("x"))
	var unknown *entropyerr.UnknownHashAlgorithm
	assert.ErrorAs(t, err, &unknown)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("sha256"))
	assert.False(t, Known("md5"))
}
