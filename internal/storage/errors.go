package storage

import "errors"

// Domain errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound means the experiment directory, or a file it must
	// contain, does not exist.
	ErrNotFound = errors.New("storage: experiment not found")

	// ErrInvalidRequest means the request arguments were rejected.
	ErrInvalidRequest = errors.New("storage: invalid request")

	// ErrUnavailable means the storage root cannot be read.
	ErrUnavailable = errors.New("storage: storage root unavailable")

	// ErrCorrupt means an experiment file exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: experiment data is corrupt")
)
