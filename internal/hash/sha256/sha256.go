// Package sha256 derives stable content keys from SHA-256 digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyLength is the number of hex characters kept for asset keys.
const KeyLength = 16

// Hex returns the full hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key returns the first KeyLength hex characters of the digest of s.
func Key(s string) string {
	return Hex([]byte(s))[:KeyLength]
}
