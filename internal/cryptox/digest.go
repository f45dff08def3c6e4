// Package cryptox holds the digests cfghost relies on: SHA-256 for
// name-derived storage keys and BLAKE2b-256 for artifact checksums.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// KeyLength is the length of a hex-encoded SHA-256 digest.
const KeyLength = sha256.Size * 2

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Checksum returns the lowercase hex BLAKE2b-256 of b.
func Checksum(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewChecksumHash returns a streaming BLAKE2b-256; finish it with HexSum.
func NewChecksumHash() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return h
}

// HexSum formats the current sum of h.
func HexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum reports whether b hashes to want. An empty want is treated
// as "not recorded" and always verifies.
func VerifyChecksum(b []byte, want string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(Checksum(b)), []byte(want)) == 1
}
