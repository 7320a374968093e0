package freebck

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"freebck-go/internal/model"
	"freebck-go/internal/storage"
)

// registerSnapshot assigns the next snapshot number for the archive
// using optimistic concurrency: find the highest existing number, try
// to write max+1, and retry from scratch when a concurrent writer wins
// that number. Exhausting the retry budget signals persistent
// contention or a misbehaving store and is fatal.
func (e *Engine) registerSnapshot(snap model.Snapshot) (string, error) {
	data, err := model.Marshal(snap)
	if err != nil {
		return "", wrapError(KindProgram, "encoding snapshot", err)
	}

	for attempt := 0; attempt < registerAttempts; attempt++ {
		highest, err := e.highestSnapshot(e.archive)
		if err != nil {
			return "", err
		}

		key := fmt.Sprintf("%s/%d", e.archive, highest+1)
		err = e.storage.Write(storage.Snapshot, key, bytes.NewReader(data))
		if err == nil {
			return key, nil
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			e.logger.Debug("snapshot number taken by concurrent writer, retrying", "key", key)
			continue
		}
		return "", wrapError(KindSystem, fmt.Sprintf("writing snapshot %s", key), err)
	}

	return "", newError(KindProgram,
		fmt.Sprintf("failed to register snapshot after %d attempts", registerAttempts))
}

// highestSnapshot returns the highest snapshot number recorded for the
// archive, or zero when it has none. Malformed keys are warned about
// and skipped; they never fail the run.
func (e *Engine) highestSnapshot(archive string) (uint64, error) {
	var highest uint64
	err := e.storage.List(storage.Snapshot, func(key string) error {
		keyArchive, n, ok := parseSnapshotKey(key)
		if !ok {
			e.logger.Warn("ignoring malformed snapshot key", "key", key)
			return nil
		}
		if keyArchive == archive && n > highest {
			highest = n
		}
		return nil
	})
	if err != nil {
		return 0, wrapError(KindSystem, "listing snapshots", err)
	}
	return highest, nil
}

// parseSnapshotKey splits "<archive>/<n>" and reports whether the key
// has exactly that shape with a positive number.
func parseSnapshotKey(key string) (archive string, n uint64, ok bool) {
	archive, num, found := strings.Cut(key, "/")
	if !found || archive == "" || strings.Contains(num, "/") {
		return "", 0, false
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil || n == 0 {
		return "", 0, false
	}
	return archive, n, true
}

// SnapshotInfo describes one registered snapshot of the archive.
type SnapshotInfo struct {
	Key      string
	Number   uint64
	Snapshot model.Snapshot
}

// Snapshots lists the archive's snapshots in ascending number order.
func (e *Engine) Snapshots() ([]SnapshotInfo, error) {
	var infos []SnapshotInfo
	err := e.storage.List(storage.Snapshot, func(key string) error {
		keyArchive, n, ok := parseSnapshotKey(key)
		if !ok || keyArchive != e.archive {
			return nil
		}
		infos = append(infos, SnapshotInfo{Key: key, Number: n})
		return nil
	})
	if err != nil {
		return nil, wrapError(KindSystem, "listing snapshots", err)
	}

	for i := range infos {
		snap, err := e.readSnapshot(infos[i].Key)
		if err != nil {
			return nil, err
		}
		infos[i].Snapshot = *snap
	}

	slices.SortFunc(infos, func(a, b SnapshotInfo) int { return cmp.Compare(a.Number, b.Number) })
	return infos, nil
}
