package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStorage is the sharded filesystem backend. Items live at
//
//	<root>/<collection>/<shard>/<key>
//
// where shard is the two-character name from shardOf. Writes are staged
// in <root>/tmp and published atomically, so readers never observe a
// partially written item.
type FileStorage struct {
	root   string
	tmpDir string
}

// NewFileStorage creates a file storage rooted at the given directory,
// creating it and its temp directory as needed.
func NewFileStorage(root string) (*FileStorage, error) {
	tmpDir := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FileStorage{root: root, tmpDir: tmpDir}, nil
}

// itemPath maps a collection and key to the sharded path. Keys may
// contain slashes (snapshot keys do); each segment becomes a path
// component below the shard directory.
func (s *FileStorage) itemPath(c Collection, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, c.Name(), shardOf(key), filepath.FromSlash(key)), nil
}

func (s *FileStorage) Write(c Collection, key string, r io.Reader) error {
	path, err := s.itemPath(c, key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.Name(), key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tw, err := newTempWriter(s.tmpDir)
	if err != nil {
		return err
	}
	defer tw.cleanup()

	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("writing %s/%s: %w", c.Name(), key, err)
	}
	if err := tw.publish(path); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.Name(), key)
		}
		return fmt.Errorf("publishing %s/%s: %w", c.Name(), key, err)
	}
	return nil
}

func (s *FileStorage) Read(c Collection, key string, w io.Writer) error {
	path, err := s.itemPath(c, key)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, c.Name(), key)
		}
		return fmt.Errorf("opening %s/%s: %w", c.Name(), key, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading %s/%s: %w", c.Name(), key, err)
	}
	return nil
}

// List walks every shard directory and yields the path below it as the
// key, slash-joined. Entries that are not regular files are skipped.
func (s *FileStorage) List(c Collection, fn func(key string) error) error {
	dir := filepath.Join(s.root, c.Name())
	shards, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing %s: %w", c.Name(), err)
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(dir, shard.Name())
		err := filepath.WalkDir(shardDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(shardDir, path)
			if err != nil {
				return err
			}
			return fn(filepath.ToSlash(rel))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// tempWriter stages an item in the temp directory. The staged file is
// removed on cleanup unless publish completed, so an abort at any point
// cannot leak temp files.
type tempWriter struct {
	f    *os.File
	path string
	done bool
}

func newTempWriter(dir string) (*tempWriter, error) {
	path := filepath.Join(dir, uuid.NewString())
	// O_EXCL: a colliding random name means something is very wrong,
	// surface it instead of silently sharing the file.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &tempWriter{f: f, path: path}, nil
}

func (t *tempWriter) Write(p []byte) (int, error) {
	return t.f.Write(p)
}

// publish fsyncs the staged bytes and links them into place. Linking
// instead of renaming means a concurrent write of the same key fails
// with EEXIST rather than silently replacing the winner, which is the
// signal the snapshot registrar's optimistic concurrency depends on.
func (t *tempWriter) publish(dest string) error {
	if err := t.f.Sync(); err != nil {
		return err
	}
	if err := t.f.Close(); err != nil {
		return err
	}
	if err := os.Link(t.path, dest); err != nil {
		return err
	}
	t.done = true
	// The item is durable at this point; a failed unlink of the
	// staged hard link must not fail the write.
	os.Remove(t.path)
	return nil
}

// cleanup releases the write handle and removes the staged file unless
// publish succeeded first. Safe to call more than once.
func (t *tempWriter) cleanup() {
	if t.done {
		return
	}
	t.done = true
	t.f.Close()
	os.Remove(t.path)
}
