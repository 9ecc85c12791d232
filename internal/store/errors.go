package store

import "errors"

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	// ErrStaleStatus means an occurrence no longer had the status a change expected, so
	// the change was not applied.
	ErrStaleStatus = errors.New("occurrence status changed concurrently")
)
