// Package storage provides durable, write-once blob storage addressed
// by collection and key, with file-backed, SQLite-backed and in-memory
// implementations.
package storage

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Collection is one of the two logical key spaces a Storage holds.
type Collection int

const (
	// Blob holds content-addressed data: file chunks and encoded
	// directory trees, keyed by their hex SHA-256.
	Blob Collection = iota
	// Snapshot holds named snapshot pointers, keyed "<archive>/<n>".
	Snapshot
)

// Name returns the collection's stable on-disk name.
func (c Collection) Name() string {
	switch c {
	case Blob:
		return "blob"
	case Snapshot:
		return "snapshot"
	default:
		panic(fmt.Sprintf("storage: unknown collection %d", int(c)))
	}
}

var (
	// ErrAlreadyExists reports a write to a key that already has
	// content. For content-addressed data this is an expected
	// outcome, not a failure: identical bytes are already present.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrNotFound reports a read of an absent key.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey reports a key that does not meet the length or
	// charset constraints.
	ErrInvalidKey = errors.New("invalid key")
)

// Storage is the capability interface every backend implements.
// Implementations must be safe for concurrent use; callers hold this
// abstract handle, never a concrete backend type.
type Storage interface {
	// Write durably persists the reader's bytes under key. It fails
	// with ErrAlreadyExists if the key already has content and with
	// ErrInvalidKey if the key is malformed. Writes are atomic: a
	// concurrent reader observes either no content or all of it.
	Write(c Collection, key string, r io.Reader) error

	// Read streams the content stored under key to w. It fails with
	// ErrNotFound if the key is absent.
	Read(c Collection, key string, w io.Writer) error

	// List calls fn once for every key currently present in the
	// collection, in unspecified order. A collection with no entries
	// yields no calls and no error. A non-nil error from fn stops
	// the enumeration and is returned.
	List(c Collection, fn func(key string) error) error
}

// ValidateKey checks the storage key contract: longer than two bytes,
// slash-separated segments of filesystem-safe characters, and no
// relative-path segments.
func ValidateKey(key string) error {
	if len(key) <= 2 {
		return fmt.Errorf("%w: %q is too short", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q contains a relative segment", ErrInvalidKey, key)
		}
		for i := 0; i < len(seg); i++ {
			if !isKeyByte(seg[i]) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, seg[i])
			}
		}
	}
	return nil
}

func isKeyByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '-' || b == '_':
		return true
	}
	return false
}
