// Package common defines shared constants and sentinel errors used across
// photocatalog components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository / object store errors.
	ErrNotFound = errors.New("not found")

	// Transient errors are safe to retry (network, throttling, lock contention).
	ErrTransient = errors.New("transient error")

	// Integrity errors: checksum mismatch, malformed manifest or pointer.
	ErrIntegrity = errors.New("integrity error")

	// The remote pointer moved since the last pull; pull before pushing.
	ErrRemoteChanged = errors.New("remote catalog changed")

	// Logical errors indicate a caller bug or local data corruption.
	ErrInvalidContentHash = errors.New("invalid content hash")
	ErrShardNotFound      = errors.New("shard not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrTruncated          = errors.New("stream ended before expected size")

	// Batch-level errors, never retried automatically.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrBatchCancelled = errors.New("batch cancelled")
)

// IsBatchFatal reports whether err should stop a whole upload batch instead
// of being recorded against a single item.
func IsBatchFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrQuotaExceeded)
}
