package cache

import (
	"context"
	"fmt"
	"time"
)

// ContentKey addresses a cached analysis by the digest of the image bytes.
// VersionID lets a deploy invalidate every entry written by an older
// apportionment or prompt revision.
type ContentKey struct {
	VersionID string
	Hash      string
}

// String converts the structured key into the string used in Redis/map.
func (k ContentKey) String() string {
	// content:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("content:%s:%s", k.VersionID, k.Hash)
}

// Store is a byte-oriented key/value store with TTL.
// Implemented by memory store (dev, single instance) and Redis store (shared).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
