// Package schema holds the pure data descriptors for stores, fields, joins
// and index keys (spec §3-4.5). It owns validation and cross-linking
// bookkeeping only; it has no notion of live records or posting lists.
package schema

import (
	"fmt"
	"unicode"
)

// FieldType is the typed variant a FieldDesc carries.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldInt
	FieldIntSeq
	FieldUInt64
	FieldStr
	FieldStrSeq
	FieldBool
	FieldFlt
	FieldFltPair
	FieldFltSeq
	FieldTimestamp
	FieldNumericSparse
	FieldBowSparse
)

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "Int"
	case FieldIntSeq:
		return "IntSeq"
	case FieldUInt64:
		return "UInt64"
	case FieldStr:
		return "Str"
	case FieldStrSeq:
		return "StrSeq"
	case FieldBool:
		return "Bool"
	case FieldFlt:
		return "Flt"
	case FieldFltPair:
		return "FltPair"
	case FieldFltSeq:
		return "FltSeq"
	case FieldTimestamp:
		return "Timestamp"
	case FieldNumericSparse:
		return "NumericSparse"
	case FieldBowSparse:
		return "BowSparse"
	default:
		return "Unknown"
	}
}

// FieldID identifies a field within its owning store.
type FieldID int

// FieldFlags are the boolean modifiers a field may carry.
type FieldFlags struct {
	Primary  bool // record-name <-> rec-id map uses this field
	Nullable bool
	Internal bool // allocated by the schema itself (e.g. field-join bookkeeping)
}

// FieldDesc is immutable after registration (spec §3).
type FieldDesc struct {
	ID       FieldID
	Name     string
	Type     FieldType
	Flags    FieldFlags
	KeyIDs   []int // linked IndexKey ids, set once the key is registered
}

// ValidName enforces the "empty, invalid-first-char, disallowed character"
// invalid-name error class from spec §7.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	r := []rune(name)
	if !unicode.IsLetter(r[0]) && r[0] != '_' {
		return fmt.Errorf("%w: %q must start with a letter or underscore", ErrInvalidName, name)
	}
	for _, c := range r[1:] {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			return fmt.Errorf("%w: %q contains disallowed character %q", ErrInvalidName, name, c)
		}
	}
	return nil
}
