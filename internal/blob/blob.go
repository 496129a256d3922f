// Package blob implements content-addressed storage of variable-length
// payloads referenced by BlobHash, with reference-counted lifetime.
package blob

import (
	"github.com/spacetime-core/storage/pkg/storeerr"
	"lukechampine.com/blake3"
)

// InlineThreshold is the var-len column size, in bytes, at or above which a
// value spills to the blob store instead of being inlined in its row.
const InlineThreshold = 256

// Hash is a 32-byte BLAKE3 content address of a byte sequence.
type Hash [32]byte

// String renders the hash as lowercase hex, the form used for the
// content-addressed object file names under a snapshot directory.
func (h Hash) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

// HashOf computes the BlobHash of a byte slice.
func HashOf(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Store maps a BlobHash to its bytes with a reference count per entry. A
// single-writer/many-reader implementation must never let a reader observe
// a torn entry.
type Store interface {
	// Insert computes the hash of data, creating an entry with usage count
	// 1 or incrementing an existing entry's count, and returns the hash.
	Insert(data []byte) (Hash, error)
	// Clone increments the usage count of an existing entry.
	Clone(h Hash) error
	// Retrieve borrows the bytes for h without changing its usage count.
	Retrieve(h Hash) ([]byte, error)
	// Free decrements the usage count of h; at zero the entry is dropped.
	Free(h Hash) error
	// Count reports the current usage count for h, or 0 if absent.
	Count(h Hash) int
	// Close releases any handles the store holds open. It is safe to call
	// on a store that owns nothing to close.
	Close() error
}

func noSuchBlob(h Hash) error {
	return storeerr.NewNoSuchBlob(h.String())
}
