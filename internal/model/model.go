// Package model defines the hash-linked entities that make up a backup:
// directory trees, file entries and snapshots. Values are immutable once
// encoded; their deterministic CBOR bytes, hashed, become their storage
// addresses.
package model

import (
	"fmt"
)

// FileEntry records one regular file inside a directory tree.
//
// ContentHash is the SHA-256 of the whole file and is used for cheap
// change detection. ChunkHash names the file's fixed-size chunks in
// order; concatenating those chunks yields exactly Size bytes whose
// hash is ContentHash.
type FileEntry struct {
	Name        string   `cbor:"1,keyasint"`
	ContentHash string   `cbor:"2,keyasint"`
	ChunkHash   []string `cbor:"3,keyasint"`
	Size        uint64   `cbor:"4,keyasint"`
	// Modified is seconds since the epoch, signed so pre-1970
	// timestamps survive a round trip.
	Modified int64 `cbor:"5,keyasint"`
}

// DirEntry is one directory level of the tree. Both child sequences are
// sorted by name, so the encoded bytes (and therefore the content
// address) are deterministic for a given logical tree.
type DirEntry struct {
	SubDir []SubDirEntry `cbor:"1,keyasint"`
	File   []FileEntry   `cbor:"2,keyasint"`
	// Size is the sum of all descendant file sizes.
	Size uint64 `cbor:"3,keyasint"`
}

// SubDirEntry names a child directory. Its content is either embedded
// inline or referenced by the hash of a separately stored DirEntry.
type SubDirEntry struct {
	Name    string
	Content SubDirContent
}

// SubDirContent is the two-variant content of a SubDirEntry: Inline or
// ByHash. A decoded entry always carries exactly one of them.
type SubDirContent interface {
	isSubDirContent()
}

// Inline embeds the subtree directly in the parent entry.
type Inline struct {
	Dir DirEntry
}

// ByHash references a subtree stored standalone in the blob collection.
type ByHash struct {
	Hash string
}

func (Inline) isSubDirContent() {}
func (ByHash) isSubDirContent() {}

// subDirEntryWire is the encoded shape of a SubDirEntry. Exactly one of
// Inline and Hash is present.
type subDirEntryWire struct {
	Name   string    `cbor:"1,keyasint"`
	Inline *DirEntry `cbor:"2,keyasint,omitempty"`
	Hash   string    `cbor:"3,keyasint,omitempty"`
}

// MarshalCBOR encodes the entry with its content variant tagged by
// field number.
func (e SubDirEntry) MarshalCBOR() ([]byte, error) {
	w := subDirEntryWire{Name: e.Name}
	switch c := e.Content.(type) {
	case Inline:
		w.Inline = &c.Dir
	case ByHash:
		w.Hash = c.Hash
	case nil:
		return nil, fmt.Errorf("sub dir entry %q without content", e.Name)
	default:
		return nil, fmt.Errorf("sub dir entry %q has unknown content type %T", e.Name, e.Content)
	}
	return Marshal(w)
}

// UnmarshalCBOR decodes the entry, rejecting structures that carry
// neither or both content variants.
func (e *SubDirEntry) UnmarshalCBOR(data []byte) error {
	var w subDirEntryWire
	if err := Unmarshal(data, &w); err != nil {
		return err
	}
	e.Name = w.Name
	switch {
	case w.Inline != nil && w.Hash != "":
		return fmt.Errorf("sub dir entry %q has both inline and hash content", w.Name)
	case w.Inline != nil:
		e.Content = Inline{Dir: *w.Inline}
	case w.Hash != "":
		e.Content = ByHash{Hash: w.Hash}
	default:
		return fmt.Errorf("sub dir entry %q without content", w.Name)
	}
	return nil
}

// Snapshot points at one root directory tree and the time bounds of the
// backup run that produced it. Snapshots are immutable once written;
// they are keyed "<archive>/<n>" in the snapshot collection.
type Snapshot struct {
	RootHash string `cbor:"1,keyasint"`
	Started  int64  `cbor:"2,keyasint"`
	Finished int64  `cbor:"3,keyasint"`
}
