// Package idempotency deduplicates retried webhook deliveries. A replayed
// request gets the originally recorded response instead of re-running
// routing, so platform retries never double-advance round-robin state or
// double-forward events.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultMaxBody is the body-size ceiling used when a store is created
// without an explicit one. Responses over the ceiling are recorded
// metadata-only and replays get a generic acknowledgment.
const DefaultMaxBody = 64 * 1024

// Record is the stored outcome of a processed request.
type Record struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body,omitempty"`
	Oversized   bool      `json:"oversized,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store persists processed-request records. A store failure is treated as
// a miss by callers: processing again is safer than failing the call.
type Store interface {
	Lookup(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, rec Record) error
}

// Key derives the deduplication key for a request. When the platform sends
// an explicit idempotency token it wins; otherwise the raw body stands in,
// so byte-identical redeliveries collapse onto one key.
func Key(route, tenantID, token string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	if token != "" {
		h.Write([]byte(token))
	} else {
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clamp prepares a record for storage, dropping bodies over maxBody.
// A non-positive maxBody falls back to DefaultMaxBody.
func Clamp(rec Record, maxBody int) Record {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	if len(rec.Body) > maxBody {
		rec.Body = nil
		rec.Oversized = true
	}
	return rec
}
