package domain

import "time"

// IdempotencyStatus is the lifecycle of an idempotency record.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencySucceeded IdempotencyStatus = "succeeded"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord is keyed by (account_id, idempotency_key). Once
// Succeeded, ResponseData is replayed verbatim for any duplicate request
// whose RequestHash matches.
type IdempotencyRecord struct {
	AccountID       string
	IdempotencyKey  string
	RequestHash     string
	Status          IdempotencyStatus
	ResponseData    []byte // serialized OrderResult, present once Succeeded or Failed
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the lease window for a Pending record has elapsed.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
