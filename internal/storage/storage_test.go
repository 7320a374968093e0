package storage_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"freebck-go/internal/storage"
)

// testStorageContract exercises the Storage contract every backend must
// honor. Backend test files call it with their own constructor.
func testStorageContract(t *testing.T, newStorage func(t *testing.T) storage.Storage) {
	t.Run("write then read round-trips", func(t *testing.T) {
		st := newStorage(t)
		content := []byte("hello world")

		if err := st.Write(storage.Blob, "somekey", bytes.NewReader(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		var buf bytes.Buffer
		if err := st.Read(storage.Blob, "somekey", &buf); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), content) {
			t.Errorf("Read() = %q, want %q", buf.Bytes(), content)
		}
	})

	t.Run("duplicate write reports ErrAlreadyExists", func(t *testing.T) {
		st := newStorage(t)

		if err := st.Write(storage.Blob, "dupkey", strings.NewReader("first")); err != nil {
			t.Fatalf("first Write() error = %v", err)
		}
		err := st.Write(storage.Blob, "dupkey", strings.NewReader("second"))
		if !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("second Write() error = %v, want ErrAlreadyExists", err)
		}

		// The original content must be intact.
		var buf bytes.Buffer
		if err := st.Read(storage.Blob, "dupkey", &buf); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got := buf.String(); got != "first" {
			t.Errorf("Read() after duplicate write = %q, want %q", got, "first")
		}
	})

	t.Run("read of absent key reports ErrNotFound", func(t *testing.T) {
		st := newStorage(t)
		err := st.Read(storage.Blob, "missing", &bytes.Buffer{})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Read() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("collections are independent", func(t *testing.T) {
		st := newStorage(t)
		if err := st.Write(storage.Blob, "shared", strings.NewReader("blob data")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		err := st.Read(storage.Snapshot, "shared", &bytes.Buffer{})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Read() from other collection error = %v, want ErrNotFound", err)
		}
		if err := st.Write(storage.Snapshot, "shared", strings.NewReader("snap data")); err != nil {
			t.Errorf("Write() to other collection error = %v", err)
		}
	})

	t.Run("invalid keys are rejected", func(t *testing.T) {
		st := newStorage(t)
		keys := []string{"", "ab", "bad key", "a/../b", "//x", "trailing/", "naïve"}
		for _, key := range keys {
			if err := st.Write(storage.Blob, key, strings.NewReader("x")); !errors.Is(err, storage.ErrInvalidKey) {
				t.Errorf("Write(%q) error = %v, want ErrInvalidKey", key, err)
			}
		}
	})

	t.Run("list of empty collection yields nothing", func(t *testing.T) {
		st := newStorage(t)
		err := st.List(storage.Snapshot, func(key string) error {
			t.Errorf("unexpected key %q in empty collection", key)
			return nil
		})
		if err != nil {
			t.Errorf("List() error = %v", err)
		}
	})

	t.Run("list yields every key including slash keys", func(t *testing.T) {
		st := newStorage(t)
		want := map[string]bool{
			"8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4": false,
			"myarchive/1": false,
			"myarchive/2": false,
			"other/1":     false,
		}
		for key := range want {
			c := storage.Snapshot
			if !strings.Contains(key, "/") {
				c = storage.Blob
			}
			if err := st.Write(c, key, strings.NewReader("data")); err != nil {
				t.Fatalf("Write(%q) error = %v", key, err)
			}
		}

		for _, c := range []storage.Collection{storage.Blob, storage.Snapshot} {
			err := st.List(c, func(key string) error {
				seen, ok := want[key]
				if !ok {
					t.Errorf("List(%s) yielded unexpected key %q", c.Name(), key)
				}
				if seen {
					t.Errorf("List(%s) yielded %q twice", c.Name(), key)
				}
				want[key] = true
				return nil
			})
			if err != nil {
				t.Fatalf("List(%s) error = %v", c.Name(), err)
			}
		}
		for key, seen := range want {
			if !seen {
				t.Errorf("List() never yielded %q", key)
			}
		}
	})

	t.Run("list stops on callback error", func(t *testing.T) {
		st := newStorage(t)
		if err := st.Write(storage.Blob, "key-one", strings.NewReader("x")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		sentinel := errors.New("stop")
		if err := st.List(storage.Blob, func(string) error { return sentinel }); !errors.Is(err, sentinel) {
			t.Errorf("List() error = %v, want sentinel", err)
		}
	})

	t.Run("concurrent identical writes never corrupt", func(t *testing.T) {
		st := newStorage(t)
		content := []byte("identical bytes")

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = st.Write(storage.Blob, "racedkey", bytes.NewReader(content))
			}()
		}
		wg.Wait()

		var wins int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrAlreadyExists):
			default:
				t.Errorf("concurrent Write() error = %v", err)
			}
		}
		if wins != 1 {
			t.Errorf("concurrent writes succeeded %d times, want exactly 1", wins)
		}

		var buf bytes.Buffer
		if err := st.Read(storage.Blob, "racedkey", &buf); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if !bytes.Equal(buf.Bytes(), content) {
			t.Errorf("Read() after race = %q, want %q", buf.Bytes(), content)
		}
	})
}
