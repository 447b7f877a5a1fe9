package domain

import (
	"crypto/sha1"
	"encoding/hex"
)

// UniqueID returns the 8-hex-digit prefix of
// SHA1("{paintSeed}-{paintIndex}-{paintWear}-{defIndex}") used as the asset
// upsert key (spec §3, invariant 4 in §8).
func UniqueID(r InspectResult) string {
	sum := sha1.Sum([]byte(r.UniqueIDSeed()))
	return hex.EncodeToString(sum[:])[:8]
}
