package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString returns a 32 hex character digest, short enough for varchar(64) keys.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "\x1f"))
}
