package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// keySeparator sits between preamble and body so that ("AB", "") and
// ("A", "B") hash differently.
const keySeparator = 0x00

// Key identifies one render result in the cache.
type Key struct {
	// Hash is the content hash of preamble and body (64 hex chars).
	Hash string

	// Format is the output format identifier (e.g. "png").
	Format string

	// Ext is the file extension including the leading dot (e.g. ".png").
	Ext string
}

// NewKey derives the cache key for a preamble/body pair rendered in format.
// The same inputs always produce the same key, across process restarts.
// Extra parts (renderer options) are hashed after the body.
func NewKey(preamble, body, format, ext string, extra ...string) Key {
	return Key{
		Hash:   ContentHash(preamble, body, extra...),
		Format: format,
		Ext:    ext,
	}
}

// Filename returns the on-disk name of the entry: {hash}-{format}{ext}.
func (k Key) Filename() string {
	return k.Hash + "-" + k.Format + k.Ext
}

// String returns the filename, which is unique per key.
func (k Key) String() string { return k.Filename() }

// ContentHash computes the SHA-256 of preamble || 0x00 || body, followed by
// 0x00 || part for each extra part.
func ContentHash(preamble, body string, extra ...string) string {
	h := sha256.New()
	h.Write([]byte(preamble))
	h.Write([]byte{keySeparator})
	h.Write([]byte(body))
	for _, part := range extra {
		h.Write([]byte{keySeparator})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
