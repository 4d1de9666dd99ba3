// Package config loads the structured configuration document spec.md §6
// describes: hash algorithm, base directory, and ordered read/write/
// deferred-write backend lists with a type discriminator and per-backend
// options. Parsing follows cuemby-warren's cmd/warren/apply.go
// (yaml.Unmarshal into a typed struct); unlike warren's free-form
// map[string]interface{} spec, every backend kind here has a concrete
// options struct since the kind set is small and fixed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fusionapp/entropy/pkg/entropylog"
)

// BackendKind discriminates the backend descriptor's Type field.
type BackendKind string

const (
	KindLocal       BackendKind = "local"
	KindRemote      BackendKind = "remote"
	KindObjectStore BackendKind = "objectstore"
)

// BackendConfig is one entry in read_backends / write_backends /
// deferred_write_backends. Fields not relevant to Type are left zero.
type BackendConfig struct {
	Name string      `yaml:"name"`
	Type BackendKind `yaml:"type"`

	// local
	BaseDir string `yaml:"base_dir,omitempty"`
	DBPath  string `yaml:"db_path,omitempty"`

	// remote
	PeerURL string        `yaml:"peer_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// objectstore
	Bucket          string `yaml:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// MigrationConfig configures one background migration/verification job.
type MigrationConfig struct {
	Name          string   `yaml:"name"`
	Source        string   `yaml:"source"`                // backend Name of the local source store
	Destination   string   `yaml:"destination,omitempty"` // backend Name, empty = verification
	Participants  []string `yaml:"participants,omitempty"`
	Concurrency   int      `yaml:"concurrency,omitempty"`
	QuarantineDir string   `yaml:"quarantine_dir,omitempty"`
}

// Config is the top-level document, per spec.md §6's configuration list.
type Config struct {
	HashAlgorithm         string            `yaml:"hash_algorithm"`
	ListenAddr            string            `yaml:"listen_addr"`
	ReadBackends          []BackendConfig   `yaml:"read_backends"`
	WriteBackends         []BackendConfig   `yaml:"write_backends"`
	DeferredWriteBackends []BackendConfig   `yaml:"deferred_write_backends"`
	Migrations            []MigrationConfig `yaml:"migrations,omitempty"`
	Log                   LogConfig         `yaml:"log,omitempty"`
}

// LogConfig maps directly onto entropylog.Config.
type LogConfig struct {
	Level entropylog.Level `yaml:"level,omitempty"`
	JSON  bool              `yaml:"json,omitempty"`
}

// Load reads and parses a YAML configuration file, defaulting
// hash_algorithm to "sha256" when absent, per spec.md §6.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = "sha256"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = entropylog.InfoLevel
	}
	if len(cfg.ReadBackends) == 0 {
		return nil, fmt.Errorf("config %s: read_backends must be non-empty", path)
	}
	if len(cfg.WriteBackends) == 0 {
		return nil, fmt.Errorf("config %s: write_backends must be non-empty", path)
	}
	return &cfg, nil
}
