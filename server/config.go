package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annidx/annidx/resource"
)

// Config holds the server configuration. It is typically loaded from a
// YAML file and overridden by flags.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// Index configures the in-process vector index.
	Index IndexConfig `yaml:"index"`

	// Embedding configures the optional embedding collaborator. When
	// unset, the text endpoints return an error.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Snapshot configures snapshot storage.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Limits configures admission control.
	Limits resource.Config `yaml:"limits"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
}

// IndexConfig holds the index parameters.
type IndexConfig struct {
	Dimension      int    `yaml:"dimension"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EFConstruction int    `yaml:"ef_construction"`
	EFSearch       int    `yaml:"ef_search"`
	MaxElements    int    `yaml:"max_elements"`
	Compression    string `yaml:"compression"`
}

// EmbeddingConfig holds the embedding service settings.
type EmbeddingConfig struct {
	// URL is the base URL of the embedding service. Empty disables the
	// text endpoints.
	URL string `yaml:"url"`

	// Timeout for embedding requests.
	Timeout time.Duration `yaml:"timeout"`
}

// SnapshotConfig holds snapshot storage settings.
type SnapshotConfig struct {
	// Backend selects the storage backend: "local", "s3" or "minio".
	Backend string `yaml:"backend"`

	// Name is the blob name snapshots are written to.
	Name string `yaml:"name"`

	// Dir is the root directory for the local backend.
	Dir string `yaml:"dir"`

	// Bucket and Prefix apply to the s3 and minio backends.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Region applies to the s3 backend.
	Region string `yaml:"region"`

	// Endpoint, AccessKey, SecretKey and Secure apply to the minio
	// backend.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr: ":8080",
		Index: IndexConfig{
			Dimension:   384,
			Metric:      "cosine",
			MaxElements: 10000,
		},
		Snapshot: SnapshotConfig{
			Backend: "local",
			Name:    "vector_index.bin",
			Dir:     "data",
		},
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		LogFormat:       "text",
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	switch c.Snapshot.Backend {
	case "", "local", "s3", "minio":
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend == "s3" || c.Snapshot.Backend == "minio" {
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket is required for backend %q", c.Snapshot.Backend)
		}
	}
	return nil
}
