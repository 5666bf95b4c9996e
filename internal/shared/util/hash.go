package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ownerPrefixLen keeps object keys short while leaving 64 bits of spread.
const ownerPrefixLen = 16

// OwnerPrefix is the storage directory for an owner's objects. Raw owner IDs
// ("guest:<id>", JWT subjects) never appear in object keys.
func OwnerPrefix(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:ownerPrefixLen/2])
}
