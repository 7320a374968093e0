package freebck_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"freebck-go/internal/freebck"
	"freebck-go/internal/model"
	"freebck-go/internal/storage"
)

// seedSnapshot writes a decodable snapshot under key whose root tree is
// an empty directory.
func seedSnapshot(t *testing.T, st storage.Storage, key string) {
	t.Helper()

	rootData, err := model.Marshal(model.DirEntry{})
	if err != nil {
		t.Fatalf("encoding root: %v", err)
	}
	rootHash := freebck.HashBytes(rootData)
	if err := st.Write(storage.Blob, rootHash, bytes.NewReader(rootData)); err != nil {
		t.Fatalf("seeding root blob: %v", err)
	}

	snapData, err := model.Marshal(model.Snapshot{RootHash: rootHash, Started: 1, Finished: 2})
	if err != nil {
		t.Fatalf("encoding snapshot: %v", err)
	}
	if err := st.Write(storage.Snapshot, key, bytes.NewReader(snapData)); err != nil {
		t.Fatalf("seeding snapshot %s: %v", key, err)
	}
}

func TestRegisterNumbersFromHighestExisting(t *testing.T) {
	st := storage.NewMemoryStorage()
	seedSnapshot(t, st, testArchive+"/3")
	seedSnapshot(t, st, "other/9")

	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hi")

	engine := newTestEngine(t, st, freebck.DefaultChunkSize)
	key, err := engine.Backup(context.Background(), source)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	// Numbering continues from this archive's highest; the other
	// archive's 9 is irrelevant.
	if key != testArchive+"/4" {
		t.Errorf("Backup() key = %q, want %q", key, testArchive+"/4")
	}
}

func TestRegisterSkipsMalformedKeys(t *testing.T) {
	st := storage.NewMemoryStorage()
	seedSnapshot(t, st, testArchive+"/2")
	for _, bad := range []string{"noslash", testArchive + "/0", testArchive + "/abc", testArchive + "/1/extra"} {
		if err := st.Write(storage.Snapshot, bad, strings.NewReader("junk")); err != nil {
			t.Fatalf("seeding malformed key %s: %v", bad, err)
		}
	}

	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hi")

	logger := &recordingLogger{}
	engine, err := freebck.NewEngine(st, testArchive, logger, freebck.RealClock{}, freebck.Options{FileOpenSlots: 8})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	key, err := engine.Backup(context.Background(), source)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if key != testArchive+"/3" {
		t.Errorf("Backup() key = %q, want %q", key, testArchive+"/3")
	}
	if len(logger.warnings()) == 0 {
		t.Error("malformed snapshot keys produced no warnings")
	}
}

func TestConcurrentBackupsGetUniqueNumbers(t *testing.T) {
	const runs = 8

	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "hi")

	st := storage.NewMemoryStorage()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []string
	)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine := newTestEngine(t, st, freebck.DefaultChunkSize)
			key, err := engine.Backup(context.Background(), source)
			if err != nil {
				errs[i] = err
				return
			}
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("backup %d error = %v", i, err)
		}
	}

	sort.Strings(keys)
	want := make([]string, 0, runs)
	for n := 1; n <= runs; n++ {
		want = append(want, testArchive+"/"+strconv.Itoa(n))
	}
	sort.Strings(want)
	if len(keys) != runs {
		t.Fatalf("got %d snapshot keys, want %d", len(keys), runs)
	}
	for i := range keys {
		if keys[i] != want[i] {
			t.Fatalf("snapshot keys = %v, want %v", keys, want)
		}
	}
}

func TestSnapshotsSortedAscending(t *testing.T) {
	source := t.TempDir()
	path := filepath.Join(source, "a.txt")

	st := storage.NewMemoryStorage()
	engine := newTestEngine(t, st, freebck.DefaultChunkSize)

	for _, content := range []string{"one", "two", "three"} {
		writeFile(t, path, content)
		if _, err := engine.Backup(context.Background(), source); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
	}

	infos, err := engine.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Snapshots() returned %d entries, want 3", len(infos))
	}
	for i, info := range infos {
		wantNumber := uint64(i + 1)
		if info.Number != wantNumber {
			t.Errorf("Snapshots()[%d].Number = %d, want %d", i, info.Number, wantNumber)
		}
	}
}
