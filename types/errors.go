package types

import "errors"

// Error taxonomy for the protection subsystem. Call sites wrap these with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	// ErrValidation marks input that can never produce a valid identity
	// (empty name or store, malformed fields). Never retried.
	ErrValidation = errors.New("invalid product record")

	// ErrStorage wraps any backend failure (redis, s3, gcs). Transient by
	// assumption; call sites retry with bounded backoff before surfacing it.
	ErrStorage = errors.New("storage operation failed")

	// ErrCollisionConflict is returned when an upsert loses the optimistic
	// write race more times than the retry budget allows.
	ErrCollisionConflict = errors.New("upsert conflict: retry budget exhausted")

	// ErrBackupFailure means a snapshot could not be written. Operations
	// gated on a backup must abort when they see it.
	ErrBackupFailure = errors.New("backup could not be written")

	// ErrRestoreCorruption is returned when a backup payload yields no
	// decodable entries at all. Partial corruption is reported per entry
	// instead of failing the whole restore.
	ErrRestoreCorruption = errors.New("backup payload unreadable")

	// ErrNotFound marks an absent record or blob.
	ErrNotFound = errors.New("not found")
)
