package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeFillID computes a deterministic fill_id using SHA256.
// Formula: SHA256(request_id|caller|market|discipline|max_tick|amount_in|timestamp_ms)
// Returns hex-encoded hash (64 characters).
func ComputeFillID(
	requestID string,
	caller string,
	market string,
	discipline string,
	maxTick int64,
	amountIn uint64,
	timestampMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d",
		requestID,
		caller,
		market,
		discipline,
		maxTick,
		amountIn,
		timestampMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
