package freebck

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"freebck-go/internal/model"
)

// Backup walks source, uploads new content, and registers a new
// snapshot for the engine's archive. It returns the snapshot key.
//
// The previous snapshot's tree, when one exists, is used to skip
// unchanged files; its absence simply means a full backup. Any failure
// during the walk aborts the run before a snapshot is registered: a
// backup is complete or not recorded at all.
func (e *Engine) Backup(ctx context.Context, source string) (string, error) {
	e.logger.Info("backup starting", "archive", e.archive, "source", source)
	started := e.clock.Now().Unix()

	previous, err := e.previousRoot()
	if err != nil {
		return "", err
	}

	root, err := e.backupDir(ctx, source, previous)
	if err != nil {
		return "", err
	}

	encoded, err := model.Marshal(root)
	if err != nil {
		return "", wrapError(KindProgram, "encoding root dir entry", err)
	}
	rootHash := HashBytes(encoded)
	if err := e.writeBlob(rootHash, encoded); err != nil {
		return "", err
	}

	snap := model.Snapshot{
		RootHash: rootHash,
		Started:  started,
		Finished: e.clock.Now().Unix(),
	}
	key, err := e.registerSnapshot(snap)
	if err != nil {
		return "", err
	}

	e.logger.Info("backup complete", "snapshot", key, "root", rootHash, "size", root.Size)
	return key, nil
}

// previousRoot resolves the most recent snapshot's root tree, or nil
// when the archive has no snapshots yet.
func (e *Engine) previousRoot() (*model.DirEntry, error) {
	highest, err := e.highestSnapshot(e.archive)
	if err != nil {
		return nil, err
	}
	if highest == 0 {
		e.logger.Info("no previous snapshot, performing full backup", "archive", e.archive)
		return nil, nil
	}

	key := fmt.Sprintf("%s/%d", e.archive, highest)
	snap, err := e.readSnapshot(key)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("using previous snapshot", "snapshot", key, "root", snap.RootHash)
	return e.fetchDirEntry(snap.RootHash)
}

// backupDir produces the DirEntry for one directory, processing every
// child concurrently and joining before it returns. Children are
// emitted sorted by name so the encoded tree (and its hash) is
// deterministic regardless of scheduling.
func (e *Engine) backupDir(ctx context.Context, dir string, previous *model.DirEntry) (model.DirEntry, error) {
	e.logger.Debug("backing up directory", "path", dir)

	prevSubDirs := make(map[string]*model.SubDirEntry)
	prevFiles := make(map[string]*model.FileEntry)
	if previous != nil {
		for i := range previous.SubDir {
			prevSubDirs[previous.SubDir[i].Name] = &previous.SubDir[i]
		}
		for i := range previous.File {
			prevFiles[previous.File[i].Name] = &previous.File[i]
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return model.DirEntry{}, wrapError(KindSystem, fmt.Sprintf("reading directory %s", dir), err)
	}

	var subDirEnts, fileEnts []os.DirEntry
	for _, ent := range entries {
		switch {
		case ent.IsDir():
			subDirEnts = append(subDirEnts, ent)
		case ent.Type().IsRegular():
			fileEnts = append(fileEnts, ent)
		default:
			return model.DirEntry{}, newError(KindProgram,
				fmt.Sprintf("unsupported file type: %s", filepath.Join(dir, ent.Name())))
		}
	}

	subDirs := make([]model.SubDirEntry, len(subDirEnts))
	files := make([]model.FileEntry, len(fileEnts))

	g, ctx := errgroup.WithContext(ctx)
	for i, ent := range subDirEnts {
		i, ent := i, ent
		g.Go(func() error {
			name := ent.Name()
			prev, err := e.resolveSubDir(prevSubDirs[name])
			if err != nil {
				return err
			}
			child, err := e.backupDir(ctx, filepath.Join(dir, name), prev)
			if err != nil {
				return err
			}
			subDirs[i] = model.SubDirEntry{Name: name, Content: model.Inline{Dir: child}}
			return nil
		})
	}
	for i, ent := range fileEnts {
		i, ent := i, ent
		g.Go(func() error {
			name := ent.Name()
			entry, err := e.backupFile(ctx, filepath.Join(dir, name), name, prevFiles[name])
			if err != nil {
				return err
			}
			files[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.DirEntry{}, err
	}

	slices.SortFunc(subDirs, func(a, b model.SubDirEntry) int { return cmp.Compare(a.Name, b.Name) })
	slices.SortFunc(files, func(a, b model.FileEntry) int { return cmp.Compare(a.Name, b.Name) })

	var size uint64
	for i := range subDirs {
		size += subDirs[i].Content.(model.Inline).Dir.Size
	}
	for i := range files {
		size += files[i].Size
	}

	return model.DirEntry{SubDir: subDirs, File: files, Size: size}, nil
}

// resolveSubDir materializes a previous sub-directory entry's tree:
// inline content is used directly, by-hash content is fetched from the
// blob collection, and a missing entry means no baseline.
func (e *Engine) resolveSubDir(prev *model.SubDirEntry) (*model.DirEntry, error) {
	if prev == nil {
		return nil, nil
	}
	switch c := prev.Content.(type) {
	case model.Inline:
		return &c.Dir, nil
	case model.ByHash:
		return e.fetchDirEntry(c.Hash)
	default:
		return nil, newError(KindCorrupt, fmt.Sprintf("sub dir entry %q without content", prev.Name))
	}
}

// backupFile produces the FileEntry for one file, doing the least work
// change detection allows: matching size and mtime reuses the previous
// entry outright; a matching whole-file hash reuses the previous chunk
// list; only genuinely new content is chunked and uploaded.
func (e *Engine) backupFile(ctx context.Context, path, name string, previous *model.FileEntry) (model.FileEntry, error) {
	e.logger.Debug("backing up file", "path", path)

	info, err := os.Stat(path)
	if err != nil {
		return model.FileEntry{}, wrapError(KindSystem, fmt.Sprintf("stat %s", path), err)
	}
	modified := info.ModTime().Unix()
	size := uint64(info.Size())

	if previous != nil && previous.Modified == modified && previous.Size == size {
		return *previous, nil
	}

	if err := e.filePool.Acquire(ctx, 1); err != nil {
		return model.FileEntry{}, wrapError(KindSystem, fmt.Sprintf("acquiring file slot for %s", path), err)
	}
	defer e.filePool.Release(1)

	f, err := os.Open(path)
	if err != nil {
		return model.FileEntry{}, wrapError(KindSystem, fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	contentHash, err := HashReader(f)
	if err != nil {
		return model.FileEntry{}, wrapError(KindSystem, fmt.Sprintf("hashing %s", path), err)
	}

	if previous != nil && previous.ContentHash == contentHash {
		// Content unchanged, only metadata moved (e.g. a touch).
		return model.FileEntry{
			Name:        name,
			ContentHash: contentHash,
			ChunkHash:   previous.ChunkHash,
			Size:        size,
			Modified:    modified,
		}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return model.FileEntry{}, wrapError(KindSystem, fmt.Sprintf("rewinding %s", path), err)
	}

	chunks, err := e.uploadChunks(f, path)
	if err != nil {
		return model.FileEntry{}, err
	}

	return model.FileEntry{
		Name:        name,
		ContentHash: contentHash,
		ChunkHash:   chunks,
		Size:        size,
		Modified:    modified,
	}, nil
}

// uploadChunks reads r in fixed-size windows, writing each chunk to the
// blob collection under its hash. Windows stay full across short reads;
// only the final chunk may be shorter.
func (e *Engine) uploadChunks(r io.Reader, path string) ([]string, error) {
	buf := make([]byte, e.chunkSize)
	var chunks []string
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			hash := HashBytes(buf[:n])
			if werr := e.writeBlob(hash, buf[:n]); werr != nil {
				return nil, werr
			}
			chunks = append(chunks, hash)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, wrapError(KindSystem, fmt.Sprintf("reading chunk from %s", path), err)
		}
	}
}
