package checksum

import (
	"crypto"
	"encoding/hex"

	// Ensure SHA256 is linked for DefaultFunction.
	_ "crypto/sha256"
)

// DefaultFunction is the hash behind every digest produced by this package.
// It has to match the sums array the packaging tooling verifies (sha256sums).
const DefaultFunction crypto.Hash = crypto.SHA256

// Size is the length of a hex digest produced by Digest.
const Size = 2 * 32

// Digest returns the lowercase hex digest of data.
func Digest(data []byte) string {
	hasher := DefaultFunction.New()
	// hash.Hash.Write never returns an error.
	_, _ = hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil))
}

// IsDigest reports whether s looks like a digest produced by Digest.
func IsDigest(s string) bool {
	if len(s) != Size {
		return false
	}

	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}

	return true
}
