package session

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultDedupWindow is the bucket width for derived request IDs. Retries of
// the same utterance within one window hash to the same ID and are dropped by
// TryRegisterRequest.
const DefaultDedupWindow = 3 * time.Second

// MakeRequestID derives a deterministic request ID from the user, the
// utterance text and the time bucket containing nowMs. Identical text from the
// same user inside one window produces the same ID.
func MakeRequestID(userID, text string, nowMs int64, window time.Duration) string {
	bucket := nowMs / window.Milliseconds()
	sum := sha1.Sum([]byte(userID + "|" + text + "|" + strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(sum[:])
}

// NewRequestID derives a request ID for the current time using the default
// window.
func NewRequestID(userID, text string) string {
	return MakeRequestID(userID, text, time.Now().UnixMilli(), DefaultDedupWindow)
}
