package freebck

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashBufferSize is the read window for streaming hashes.
const hashBufferSize = 1 << 20

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, hashBufferSize)); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
