package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"freebck-go/internal/config"
)

// NewFromConfig creates the storage backend the config selects.
func NewFromConfig(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "file":
		return NewFileStorage(cfg.Path)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		return NewSQLiteStorage(cfg.Path)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}
