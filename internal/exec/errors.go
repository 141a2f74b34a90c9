package exec

import "errors"

// Errors the executor can return (spec §7 "Query errors" plus execution
// lifecycle).
var (
	ErrCancelled    = errors.New("query cancelled")
	ErrUnknownNode  = errors.New("unknown query node kind")
	ErrJoinOnLeaf   = errors.New("join operand is not a record set")
	ErrMissingLimit = errors.New("geo nearest-neighbor query requires a limit")
)
