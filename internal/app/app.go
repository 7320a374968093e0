// Package app wires configuration, storage, logging and the engine
// together for the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"freebck-go/internal/config"
	"freebck-go/internal/freebck"
	"freebck-go/internal/storage"
)

// App owns one configured engine and its resources for the duration of
// a CLI command. The caller must call Close when done.
type App struct {
	cfg     *config.Config
	storage storage.Storage
	engine  *freebck.Engine
	logFile *os.File
}

// New creates a fully wired App from the given config.
func New(cfg *config.Config) (*App, error) {
	st, err := storage.NewFromConfig(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	runID := uuid.NewString()[:8]
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		closeStorage(st)
		return nil, err
	}

	engine, err := freebck.NewEngine(st, cfg.Name, &slogAdapter{l: logger}, freebck.RealClock{}, freebck.Options{
		ChunkSize: int(cfg.ChunkSize),
	})
	if err != nil {
		closeStorage(st)
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return &App{
		cfg:     cfg,
		storage: st,
		engine:  engine,
		logFile: logFile,
	}, nil
}

// Backup runs a backup of the configured path and returns the new
// snapshot key.
func (a *App) Backup(ctx context.Context) (string, error) {
	return a.engine.Backup(ctx, a.cfg.Path)
}

// Restore restores snapshotID into target, or into the configured
// backup path when target is empty.
func (a *App) Restore(ctx context.Context, snapshotID, target string, keepGoing, noOverwrite bool) error {
	if target == "" {
		target = a.cfg.Path
	}
	return a.engine.Restore(ctx, snapshotID, target, freebck.RestoreOptions{
		KeepGoing: keepGoing,
		Overwrite: !noOverwrite,
	})
}

// Snapshots lists the archive's snapshots in ascending number order.
func (a *App) Snapshots() ([]freebck.SnapshotInfo, error) {
	return a.engine.Snapshots()
}

// Close releases the app's resources.
func (a *App) Close() error {
	closeStorage(a.storage)
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

func closeStorage(st storage.Storage) {
	if c, ok := st.(io.Closer); ok {
		c.Close()
	}
}
