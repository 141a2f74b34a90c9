package store

import (
	"fmt"
	"strconv"
	"time"

	"qminer/internal/schema"
)

// FieldValue is a tagged union holding one field's value; Type selects
// which member is meaningful, mirroring the FieldType enum in schema
// (spec §3 Field value domain).
type FieldValue struct {
	Type      schema.FieldType
	Int       int64           `json:",omitempty"`
	IntSeq    []int64         `json:",omitempty"`
	UInt64    uint64          `json:",omitempty"`
	Str       string          `json:",omitempty"`
	StrSeq    []string        `json:",omitempty"`
	Bool      bool            `json:",omitempty"`
	Flt       float64         `json:",omitempty"`
	FltPair   [2]float64      `json:",omitempty"`
	FltSeq    []float64       `json:",omitempty"`
	Timestamp time.Time       `json:",omitempty"`
	Sparse    map[int]float64 `json:",omitempty"`
}

func IntValue(v int64) FieldValue                { return FieldValue{Type: schema.FieldInt, Int: v} }
func IntSeqValue(v []int64) FieldValue            { return FieldValue{Type: schema.FieldIntSeq, IntSeq: v} }
func UInt64Value(v uint64) FieldValue             { return FieldValue{Type: schema.FieldUInt64, UInt64: v} }
func StrValue(v string) FieldValue                { return FieldValue{Type: schema.FieldStr, Str: v} }
func StrSeqValue(v []string) FieldValue           { return FieldValue{Type: schema.FieldStrSeq, StrSeq: v} }
func BoolValue(v bool) FieldValue                 { return FieldValue{Type: schema.FieldBool, Bool: v} }
func FltValue(v float64) FieldValue               { return FieldValue{Type: schema.FieldFlt, Flt: v} }
func FltPairValue(lat, lon float64) FieldValue    { return FieldValue{Type: schema.FieldFltPair, FltPair: [2]float64{lat, lon}} }
func FltSeqValue(v []float64) FieldValue          { return FieldValue{Type: schema.FieldFltSeq, FltSeq: v} }
func TimestampValue(v time.Time) FieldValue       { return FieldValue{Type: schema.FieldTimestamp, Timestamp: v} }
func NumericSparseValue(v map[int]float64) FieldValue { return FieldValue{Type: schema.FieldNumericSparse, Sparse: v} }
func BowSparseValue(v map[int]float64) FieldValue { return FieldValue{Type: schema.FieldBowSparse, Sparse: v} }

func (v FieldValue) checkType(want schema.FieldType) error {
	if v.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", schema.ErrTypeMismatch, want, v.Type)
	}
	return nil
}

func (v FieldValue) AsInt() (int64, error) {
	if err := v.checkType(schema.FieldInt); err != nil {
		return 0, err
	}
	return v.Int, nil
}

func (v FieldValue) AsUInt64() (uint64, error) {
	if err := v.checkType(schema.FieldUInt64); err != nil {
		return 0, err
	}
	return v.UInt64, nil
}

func (v FieldValue) AsStr() (string, error) {
	if err := v.checkType(schema.FieldStr); err != nil {
		return "", err
	}
	return v.Str, nil
}

func (v FieldValue) AsStrSeq() ([]string, error) {
	if err := v.checkType(schema.FieldStrSeq); err != nil {
		return nil, err
	}
	return v.StrSeq, nil
}

func (v FieldValue) AsBool() (bool, error) {
	if err := v.checkType(schema.FieldBool); err != nil {
		return false, err
	}
	return v.Bool, nil
}

func (v FieldValue) AsFlt() (float64, error) {
	if err := v.checkType(schema.FieldFlt); err != nil {
		return 0, err
	}
	return v.Flt, nil
}

func (v FieldValue) AsFltPair() (lat, lon float64, err error) {
	if err := v.checkType(schema.FieldFltPair); err != nil {
		return 0, 0, err
	}
	return v.FltPair[0], v.FltPair[1], nil
}

func (v FieldValue) AsTimestamp() (time.Time, error) {
	if err := v.checkType(schema.FieldTimestamp); err != nil {
		return time.Time{}, err
	}
	return v.Timestamp, nil
}

// IndexWords returns the string form(s) this value should be interned
// under for a Value or Text index key. Sequence/sparse/pair fields that
// have no single-word representation return nil (they back geo or
// similarity keys instead, not a vocabulary).
func (v FieldValue) IndexWords() []string {
	switch v.Type {
	case schema.FieldStr:
		return []string{v.Str}
	case schema.FieldStrSeq:
		return v.StrSeq
	case schema.FieldInt:
		return []string{strconv.FormatInt(v.Int, 10)}
	case schema.FieldUInt64:
		return []string{strconv.FormatUint(v.UInt64, 10)}
	case schema.FieldFlt:
		return []string{strconv.FormatFloat(v.Flt, 'g', -1, 64)}
	case schema.FieldBool:
		return []string{strconv.FormatBool(v.Bool)}
	case schema.FieldTimestamp:
		return []string{v.Timestamp.UTC().Format(time.RFC3339Nano)}
	default:
		return nil
	}
}
