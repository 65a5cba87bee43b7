package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashSeparator joins hash inputs.
const HashSeparator = "|"

// Hash returns the hex SHA-256 digest of fields joined by HashSeparator.
// Field order matters: ("a", "b") and ("b", "a") hash differently.
func Hash(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, HashSeparator)))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex SHA-256 digest of raw file content.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
