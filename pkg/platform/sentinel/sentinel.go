package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors.
//
//   - ErrNotFound: record does not exist
//   - ErrAlreadyUsed: a unique key (voter email, idempotency key) is taken
//   - ErrConflict: a conditional write lost to a concurrent writer
//   - ErrInvalidState: record is in the wrong state for the write
//   - ErrUnavailable: backend unreachable or timed out; safe to retry
//   - ErrPartial: a multi-document write applied only in part
//
// Validation failures belong in pkg/domain-errors, not here.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrPartial      = errors.New("partially applied")
)
