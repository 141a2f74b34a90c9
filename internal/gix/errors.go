package gix

import "errors"

var (
	// ErrReadOnly is returned by any mutating call on a Gix opened ReadOnly.
	ErrReadOnly = errors.New("index is read-only")
	// ErrMissingIndex is returned when the backing SQLite file does not exist
	// and the caller asked to open (not create) an index.
	ErrMissingIndex = errors.New("index file missing")
	// ErrIndexCorrupt wraps a SQLite-level failure reading back posting rows.
	ErrIndexCorrupt = errors.New("index corrupt")
)
