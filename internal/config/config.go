// Package config reads and writes the archive configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the config file location relative to the working
// directory.
const DefaultPath = ".freebck/config.toml"

// DefaultChunkSize is the fixed chunk window used when the config does
// not set one.
const DefaultChunkSize = 4 << 20

// Config is the archive configuration: what to back up, under which
// archive name, and into which storage backend.
type Config struct {
	// Name keys this archive's snapshots ("<name>/<n>").
	Name string `toml:"name"`
	// Path is the directory tree to back up and the default restore
	// target.
	Path string `toml:"path"`
	// ChunkSize is the fixed chunk window in bytes.
	ChunkSize int64 `toml:"chunk_size"`
	// LogDir, when set, receives freebck.log in addition to stderr.
	LogDir  string        `toml:"log_dir"`
	Storage StorageConfig `toml:"storage"`
}

// StorageConfig selects and configures a storage backend. This uses a
// tagged union pattern - the Type field determines which other fields
// are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "file", "sqlite" or "memory"

	// Path is the storage root for type=file, or the database file
	// for type=sqlite.
	Path string `toml:"path,omitempty"`
}

// Default returns a config with defaults filled in for the given
// archive name.
func Default(name string) *Config {
	return &Config{
		Name:      name,
		Path:      "..",
		ChunkSize: DefaultChunkSize,
		Storage: StorageConfig{
			Type: "file",
			Path: ".freebck/storage",
		},
	}
}

// ReadFromFile reads and validates a config file, applying defaults
// for fields the file leaves unset.
func ReadFromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if cfg.Path == "" {
		cfg.Path = ".."
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.Type == "file" && cfg.Storage.Path == "" {
		cfg.Storage.Path = ".freebck/storage"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the invariants the engine depends on.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("archive name must not be empty")
	}
	if strings.Contains(c.Name, "/") {
		return fmt.Errorf("archive name must not contain %q: %s", "/", c.Name)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	switch c.Storage.Type {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be set for type %q", c.Storage.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}

// Init writes cfg to path, creating parent directories. It refuses to
// overwrite an existing file.
func Init(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
