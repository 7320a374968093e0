package freebck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"freebck-go/internal/model"
	"freebck-go/internal/storage"
)

// RestoreOptions controls conflict and partial-failure handling.
type RestoreOptions struct {
	// KeepGoing logs and skips entries that fail to restore instead
	// of aborting the whole run.
	KeepGoing bool

	// Overwrite allows replacing files that exist at the target but
	// differ from the snapshot.
	Overwrite bool
}

// Restore materializes the named snapshot's tree under target. The
// snapshot identifier is either an exact key ("<archive>/<n>") or a
// bare archive name, which resolves to that archive's latest snapshot.
func (e *Engine) Restore(ctx context.Context, snapshotID, target string, opts RestoreOptions) error {
	key, err := e.resolveSnapshotID(snapshotID)
	if err != nil {
		return err
	}

	snap, err := e.readSnapshot(key)
	if err != nil {
		return err
	}
	root, err := e.fetchDirEntry(snap.RootHash)
	if err != nil {
		return err
	}

	e.logger.Info("restore starting", "snapshot", key, "target", target)
	if err := e.restoreDir(ctx, root, target, opts); err != nil {
		return err
	}
	e.logger.Info("restore complete", "snapshot", key, "target", target)
	return nil
}

// resolveSnapshotID expands a bare archive name to its latest snapshot
// key; anything containing a slash is taken verbatim.
func (e *Engine) resolveSnapshotID(id string) (string, error) {
	if id == "" {
		return "", newError(KindUser, "snapshot name must not be empty")
	}
	if strings.Contains(id, "/") {
		return id, nil
	}
	highest, err := e.highestSnapshot(id)
	if err != nil {
		return "", err
	}
	if highest == 0 {
		return "", newError(KindUser, fmt.Sprintf("archive has no snapshots: %s", id))
	}
	return fmt.Sprintf("%s/%d", id, highest), nil
}

// restoreDir recreates one directory level, reconstructing every child
// concurrently. A child failure is subject to the keep-going policy;
// siblings already in flight finish their own work either way.
func (e *Engine) restoreDir(ctx context.Context, dir *model.DirEntry, target string, opts RestoreOptions) error {
	info, err := os.Stat(target)
	switch {
	case err == nil && !info.IsDir():
		return newError(KindConflict, fmt.Sprintf("%s exists and is not a directory", target))
	case err == nil:
		// Already a directory, proceed.
	case os.IsNotExist(err):
		if err := os.MkdirAll(target, 0o755); err != nil {
			return wrapError(KindSystem, fmt.Sprintf("creating directory %s", target), err)
		}
	default:
		return wrapError(KindSystem, fmt.Sprintf("stat %s", target), err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range dir.SubDir {
		sub := &dir.SubDir[i]
		g.Go(func() error {
			if err := validateEntryName(sub.Name); err != nil {
				return e.keepGoingOrErr(err, target, opts)
			}
			childTarget := filepath.Join(target, sub.Name)
			err := func() error {
				child, err := e.resolveSubDir(sub)
				if err != nil {
					return err
				}
				return e.restoreDir(ctx, child, childTarget, opts)
			}()
			return e.keepGoingOrErr(err, childTarget, opts)
		})
	}
	for i := range dir.File {
		file := &dir.File[i]
		g.Go(func() error {
			if err := validateEntryName(file.Name); err != nil {
				return e.keepGoingOrErr(err, target, opts)
			}
			childTarget := filepath.Join(target, file.Name)
			return e.keepGoingOrErr(e.restoreFile(ctx, file, childTarget, opts), childTarget, opts)
		})
	}
	return g.Wait()
}

// keepGoingOrErr applies the partial-failure policy to one child's
// outcome: log and absorb under keep-going, propagate otherwise.
func (e *Engine) keepGoingOrErr(err error, target string, opts RestoreOptions) error {
	if err == nil || !opts.KeepGoing {
		return err
	}
	e.logger.Warn("failed to restore, continuing", "target", target, "error", err)
	return nil
}

// validateEntryName rejects stored names that could escape the target
// directory. Such a name can only come from a damaged or hostile tree.
func validateEntryName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/"+string(os.PathSeparator)) {
		return newError(KindCorrupt, fmt.Sprintf("malformed entry name %q", name))
	}
	return nil
}

// restoreFile reconstructs one file from its chunk list. A file that
// already matches the entry's size and mtime is left alone, which makes
// restore idempotent; an existing file that differs is a conflict
// unless overwriting is allowed.
func (e *Engine) restoreFile(ctx context.Context, entry *model.FileEntry, target string, opts RestoreOptions) error {
	e.logger.Debug("restoring file", "target", target)

	info, err := os.Lstat(target)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return wrapError(KindSystem, fmt.Sprintf("stat %s", target), err)
	}
	if exists {
		if info.IsDir() {
			return newError(KindConflict, fmt.Sprintf("%s exists and is a directory", target))
		}
		if info.Mode().IsRegular() &&
			uint64(info.Size()) == entry.Size &&
			info.ModTime().Unix() == entry.Modified {
			e.logger.Debug("file already restored", "target", target)
			return nil
		}
		if !opts.Overwrite {
			return newError(KindConflict, fmt.Sprintf("%s already exists", target))
		}
	}

	if err := e.filePool.Acquire(ctx, 1); err != nil {
		return wrapError(KindSystem, fmt.Sprintf("acquiring file slot for %s", target), err)
	}
	defer e.filePool.Release(1)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return newError(KindConflict, fmt.Sprintf("%s already exists", target))
		}
		return wrapError(KindSystem, fmt.Sprintf("creating %s", target), err)
	}
	defer f.Close()

	for _, hash := range entry.ChunkHash {
		if err := e.storage.Read(storage.Blob, hash, f); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return wrapError(KindCorrupt, fmt.Sprintf("missing chunk %s for %s", hash, target), err)
			}
			return wrapError(KindSystem, fmt.Sprintf("reading chunk %s for %s", hash, target), err)
		}
	}

	modified := time.Unix(entry.Modified, 0)
	if err := os.Chtimes(target, modified, modified); err != nil {
		return wrapError(KindSystem, fmt.Sprintf("setting times on %s", target), err)
	}
	if err := f.Sync(); err != nil {
		return wrapError(KindSystem, fmt.Sprintf("syncing %s", target), err)
	}
	return nil
}
