// Package freebck implements the backup engine: the concurrent tree
// builder, the snapshot registrar and the tree reconstructor, all on
// top of the storage.Storage abstraction.
package freebck

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"freebck-go/internal/model"
	"freebck-go/internal/storage"
)

const (
	// DefaultChunkSize is the fixed chunk window when Options leaves
	// it unset.
	DefaultChunkSize = 4 << 20

	// fileOpenSlots bounds how many files the engine holds open at
	// once during the concurrent fan-out, so a wide tree cannot
	// exhaust OS file-descriptor limits.
	fileOpenSlots = 16

	// registerAttempts bounds the snapshot registration retry loop.
	registerAttempts = 100
)

// fileOpenPool is shared by every engine in the process. The limit
// guards a process-wide resource (open descriptors), so concurrent
// engines must share one pool.
var fileOpenPool = semaphore.NewWeighted(fileOpenSlots)

// Engine performs backup and restore runs for one archive against one
// storage backend.
type Engine struct {
	storage   storage.Storage
	archive   string
	logger    Logger
	clock     Clock
	chunkSize int
	filePool  *semaphore.Weighted
}

// Options tunes an Engine. The zero value selects defaults.
type Options struct {
	// ChunkSize is the fixed chunk window in bytes.
	ChunkSize int

	// FileOpenSlots, when positive, gives the engine a dedicated
	// file-open pool of that size instead of the process-wide pool.
	// Intended for tests.
	FileOpenSlots int64
}

// NewEngine creates an engine for the named archive.
func NewEngine(st storage.Storage, archive string, logger Logger, clock Clock, opts Options) (*Engine, error) {
	if archive == "" {
		return nil, newError(KindUser, "archive name must not be empty")
	}
	if strings.Contains(archive, "/") {
		return nil, newError(KindUser, fmt.Sprintf("archive name must not contain %q: %s", "/", archive))
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, newError(KindUser, fmt.Sprintf("chunk size must be positive, got %d", chunkSize))
	}

	pool := fileOpenPool
	if opts.FileOpenSlots > 0 {
		pool = semaphore.NewWeighted(opts.FileOpenSlots)
	}

	return &Engine{
		storage:   st,
		archive:   archive,
		logger:    logger,
		clock:     clock,
		chunkSize: chunkSize,
		filePool:  pool,
	}, nil
}

// writeBlob stores data under its content address. A duplicate write
// means identical bytes are already present and counts as success.
func (e *Engine) writeBlob(hash string, data []byte) error {
	err := e.storage.Write(storage.Blob, hash, bytes.NewReader(data))
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return wrapError(KindSystem, "writing blob", err)
	}
	return nil
}

// fetchDirEntry reads and decodes a directory tree stored standalone in
// the blob collection.
func (e *Engine) fetchDirEntry(hash string) (*model.DirEntry, error) {
	var buf bytes.Buffer
	if err := e.storage.Read(storage.Blob, hash, &buf); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wrapError(KindCorrupt, fmt.Sprintf("missing dir entry %s", hash), err)
		}
		return nil, wrapError(KindSystem, fmt.Sprintf("reading dir entry %s", hash), err)
	}
	var dir model.DirEntry
	if err := model.Unmarshal(buf.Bytes(), &dir); err != nil {
		return nil, wrapError(KindCorrupt, fmt.Sprintf("decoding dir entry %s", hash), err)
	}
	return &dir, nil
}

// readSnapshot reads and decodes the snapshot stored under key.
// An absent key is a user-facing NotFound.
func (e *Engine) readSnapshot(key string) (*model.Snapshot, error) {
	var buf bytes.Buffer
	if err := e.storage.Read(storage.Snapshot, key, &buf); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wrapError(KindUser, fmt.Sprintf("snapshot not found: %s", key), err)
		}
		return nil, wrapError(KindSystem, fmt.Sprintf("reading snapshot %s", key), err)
	}
	var snap model.Snapshot
	if err := model.Unmarshal(buf.Bytes(), &snap); err != nil {
		return nil, wrapError(KindCorrupt, fmt.Sprintf("decoding snapshot %s", key), err)
	}
	return &snap, nil
}
