package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSaleID computes a deterministic sale_id using SHA256.
// Formula: SHA256(item|listing|buyer|price|occurred_at)
// Returns hex-encoded hash (64 characters).
func ComputeSaleID(
	item string,
	listing string,
	buyer string,
	price uint64,
	occurredAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		item,
		listing,
		buyer,
		price,
		occurredAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
