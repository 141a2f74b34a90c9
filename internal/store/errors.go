package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")

	// ErrNullViolation reports a missing value for a field not flagged
	// nullable at AddRec time.
	ErrNullViolation = errors.New("null value for non-nullable field")
	ErrReadOnly       = errors.New("store is read-only")
	ErrRecordCorrupt  = errors.New("record data corrupt")
	ErrDeletedRecord  = errors.New("record deleted")

	// ErrMissingPrimaryKey reports a RecByPrimaryKey call against a store
	// with no field flagged schema.FieldFlags{Primary: true}.
	ErrMissingPrimaryKey = errors.New("store has no primary field")
)
