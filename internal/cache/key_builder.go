package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashImage returns the hex SHA-256 digest of the exact image bytes.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildContentKey builds the cache key for an image. Identical bytes always
// map to the same key regardless of caller.
func BuildContentKey(data []byte, versionID string) ContentKey {
	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		versionID = "v1"
	}
	return ContentKey{
		VersionID: versionID,
		Hash:      HashImage(data),
	}
}
