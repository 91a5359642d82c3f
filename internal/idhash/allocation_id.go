package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeAllocationID computes a deterministic allocation_id using SHA256.
// Formula: SHA256(symbol|version|sell_order_id|buy_order_id|sequence)
// An unmatched remainder uses an empty buy_order_id.
// Returns hex-encoded hash (64 characters).
func ComputeAllocationID(
	symbol string,
	version int,
	sellOrderID string,
	buyOrderID string,
	sequence int,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%d",
		symbol,
		version,
		sellOrderID,
		buyOrderID,
		sequence,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
