package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionapp/entropy/pkg/entropylog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entropy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":8080"
read_backends:
  - name: L1
    type: local
    base_dir: /var/lib/entropy/l1
    db_path: /var/lib/entropy/l1/index.db
write_backends:
  - name: L1
    type: local
    base_dir: /var/lib/entropy/l1
    db_path: /var/lib/entropy/l1/index.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256", cfg.HashAlgorithm, "hash_algorithm must default to sha256")
	assert.Equal(t, entropylog.InfoLevel, cfg.Log.Level, "log level must default to info")
}

func TestLoadRejectsMissingReadBackends(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":8080"
write_backends:
  - name: L1
    type: local
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "read_backends")
}

func TestLoadRejectsMissingWriteBackends(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":8080"
read_backends:
  - name: L1
    type: local
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "write_backends")
}

func TestLoadFullDocument(t *testing.T) {
	path := writeConfig(t, `
hash_algorithm: sha1
listen_addr: ":9090"
read_backends:
  - name: L1
    type: local
    base_dir: /data/l1
    db_path: /data/l1/index.db
  - name: peer
    type: remote
    peer_url: http://peer.example:8080
    timeout: 30s
write_backends:
  - name: L1
    type: local
    base_dir: /data/l1
    db_path: /data/l1/index.db
deferred_write_backends:
  - name: s3
    type: objectstore
    bucket: entropy-objects
    region: us-east-1
migrations:
  - name: l1-to-s3
    source: L1
    destination: s3
    concurrency: 4
log:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sha1", cfg.HashAlgorithm)
	require.Len(t, cfg.ReadBackends, 2)
	assert.Equal(t, KindRemote, cfg.ReadBackends[1].Type)
	assert.Equal(t, "http://peer.example:8080", cfg.ReadBackends[1].PeerURL)
	require.Len(t, cfg.DeferredWriteBackends, 1)
	assert.Equal(t, KindObjectStore, cfg.DeferredWriteBackends[0].Type)
	assert.Equal(t, "entropy-objects", cfg.DeferredWriteBackends[0].Bucket)
	require.Len(t, cfg.Migrations, 1)
	assert.Equal(t, "L1", cfg.Migrations[0].Source)
	assert.Equal(t, "s3", cfg.Migrations[0].Destination)
	assert.Equal(t, entropylog.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}
