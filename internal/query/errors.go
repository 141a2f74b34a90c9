package query

import "errors"

// Query error kinds (spec §7 "Query errors").
var (
	ErrMalformedQuery = errors.New("malformed query")
	ErrUnknownQueryOp = errors.New("unknown query operator")
	ErrStoreMismatch  = errors.New("store mismatch")
	ErrUnorderedLeaf  = errors.New("unordered leaf")
)
