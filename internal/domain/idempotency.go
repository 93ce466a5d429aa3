package domain

import "time"

// IdempotencyRecord stores the first response produced under a client
// supplied key. Write-once: later submissions with the same key replay the
// stored response regardless of their body.
type IdempotencyRecord struct {
	Key        string
	UserID     *string
	Response   []byte
	StatusCode int
	CreatedAt  time.Time
}
