package database

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrJobActive is returned by JobStore.Create when the video already has
	// a non-terminal extraction job. Queueing the same video twice would
	// produce duplicate detection rows.
	ErrJobActive = errors.New("video already has an active extraction job")

	// ErrDimensionMismatch is returned when an embedding's dimension does not
	// match the reference gallery. This is a configuration error, not a
	// per-request failure.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
