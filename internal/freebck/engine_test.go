package freebck_test

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"freebck-go/internal/freebck"
	"freebck-go/internal/storage"
)

const testArchive = "testarchive"

func newTestEngine(t *testing.T, st storage.Storage, chunkSize int) *freebck.Engine {
	t.Helper()
	engine, err := freebck.NewEngine(st, testArchive, freebck.NewNopLogger(), freebck.RealClock{}, freebck.Options{
		ChunkSize:     chunkSize,
		FileOpenSlots: 8,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

// countingStorage records which blob keys were written and read, so
// tests can verify the builder's reuse tiers and restore's skip path.
type countingStorage struct {
	storage.Storage

	mu         sync.Mutex
	blobWrites []string
	blobReads  []string
}

func newCountingStorage(inner storage.Storage) *countingStorage {
	return &countingStorage{Storage: inner}
}

func (c *countingStorage) Write(col storage.Collection, key string, r io.Reader) error {
	if col == storage.Blob {
		c.mu.Lock()
		c.blobWrites = append(c.blobWrites, key)
		c.mu.Unlock()
	}
	return c.Storage.Write(col, key, r)
}

func (c *countingStorage) Read(col storage.Collection, key string, w io.Writer) error {
	if col == storage.Blob {
		c.mu.Lock()
		c.blobReads = append(c.blobReads, key)
		c.mu.Unlock()
	}
	return c.Storage.Read(col, key, w)
}

func (c *countingStorage) reset() {
	c.mu.Lock()
	c.blobWrites = nil
	c.blobReads = nil
	c.mu.Unlock()
}

// writesExcluding returns recorded blob writes minus the given keys
// (typically the root tree hash, which every backup rewrites).
func (c *countingStorage) writesExcluding(exclude ...string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, key := range c.blobWrites {
		skip := false
		for _, ex := range exclude {
			if key == ex {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, key)
		}
	}
	return out
}

// recordingLogger captures warnings for assertions.
type recordingLogger struct {
	freebck.NopLogger

	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s parent: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// readTree returns every regular file below root keyed by slash-joined
// relative path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return tree
}

// rootHashOf returns the root tree hash of the archive's latest
// snapshot.
func rootHashOf(t *testing.T, engine *freebck.Engine) string {
	t.Helper()
	infos, err := engine.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(infos) == 0 {
		t.Fatal("archive has no snapshots")
	}
	return infos[len(infos)-1].Snapshot.RootHash
}
