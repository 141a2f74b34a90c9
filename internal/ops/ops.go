// Package ops implements the record-set operators that run after a query
// has already narrowed a store down to a candidate RecordSet: linear
// filtering on a field that isn't indexed, partitioning by equal values
// of a field, and splitting a time-ordered set into runs bounded by a
// maximum gap.
package ops

import (
	"errors"
	"fmt"

	"qminer/internal/logging"
	"qminer/internal/store"
)

var (
	ErrUnknownOp         = errors.New("unknown comparison operator")
	ErrNotOrderable      = errors.New("field value is not comparable as a number")
	ErrUnknownOperator   = errors.New("unknown operator name")
	ErrDuplicateOperator = errors.New("operator name already registered")
)

// Op names a LinSearch comparison.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpGt
	OpRange
	OpIn
	OpNotIn
)

// numericValue widens Int/UInt64/Flt fields to float64, mirroring the
// same three-way fallback the stream-aggregate package uses for its own
// numeric fields.
func numericValue(v store.FieldValue) (float64, error) {
	if f, err := v.AsFlt(); err == nil {
		return f, nil
	}
	if i, err := v.AsInt(); err == nil {
		return float64(i), nil
	}
	if u, err := v.AsUInt64(); err == nil {
		return float64(u), nil
	}
	return 0, ErrNotOrderable
}

// stringValue widens any scalar field to its string form for Eq/Ne/In
// comparisons, so LinSearch can filter string, int and float fields alike.
func stringValue(v store.FieldValue) (string, error) {
	if s, err := v.AsStr(); err == nil {
		return s, nil
	}
	if i, err := v.AsInt(); err == nil {
		return fmt.Sprintf("%d", i), nil
	}
	if u, err := v.AsUInt64(); err == nil {
		return fmt.Sprintf("%d", u), nil
	}
	if f, err := v.AsFlt(); err == nil {
		return fmt.Sprintf("%v", f), nil
	}
	return "", ErrNotOrderable
}

// LinSearch scans rs and keeps only the records whose fieldName value
// satisfies op against the given literal(s). For OpRange, lo is the
// inclusive lower bound and hi is read from hiLiteral. For OpIn/OpNotIn,
// literal is ignored and values supplies the membership set.
type LinSearch struct {
	FieldName string
	Op        Op
	Literal   string
	HiLiteral string
	Values    []string
}

func (o LinSearch) Name() string { return "LinSearch" }

func (o LinSearch) Apply(rs store.RecordSet) (store.RecordSet, error) {
	timer := logging.StartTimer(logging.CategoryOps, "lin_search")
	defer timer.Stop()

	pred, err := o.predicate()
	if err != nil {
		return store.RecordSet{}, err
	}
	matched := rs.Filter(func(rec store.Record) bool {
		v, err := rec.Field(o.FieldName)
		if err != nil {
			return false
		}
		ok, err := pred(v)
		return err == nil && ok
	})
	return matched, nil
}

func (o LinSearch) predicate() (func(store.FieldValue) (bool, error), error) {
	switch o.Op {
	case OpEq:
		return func(v store.FieldValue) (bool, error) {
			s, err := stringValue(v)
			return s == o.Literal, err
		}, nil
	case OpNe:
		return func(v store.FieldValue) (bool, error) {
			s, err := stringValue(v)
			return s != o.Literal, err
		}, nil
	case OpLt:
		pivot, err := parseFloat(o.Literal)
		if err != nil {
			return nil, err
		}
		return func(v store.FieldValue) (bool, error) {
			x, err := numericValue(v)
			return x < pivot, err
		}, nil
	case OpGt:
		pivot, err := parseFloat(o.Literal)
		if err != nil {
			return nil, err
		}
		return func(v store.FieldValue) (bool, error) {
			x, err := numericValue(v)
			return x > pivot, err
		}, nil
	case OpRange:
		lo, err := parseFloat(o.Literal)
		if err != nil {
			return nil, err
		}
		hi, err := parseFloat(o.HiLiteral)
		if err != nil {
			return nil, err
		}
		return func(v store.FieldValue) (bool, error) {
			x, err := numericValue(v)
			return x >= lo && x <= hi, err
		}, nil
	case OpIn:
		set := toSet(o.Values)
		return func(v store.FieldValue) (bool, error) {
			s, err := stringValue(v)
			_, ok := set[s]
			return ok, err
		}, nil
	case OpNotIn:
		set := toSet(o.Values)
		return func(v store.FieldValue) (bool, error) {
			s, err := stringValue(v)
			_, ok := set[s]
			return !ok, err
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, o.Op)
	}
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

func parseFloat(s string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, fmt.Errorf("invalid numeric literal %q: %w", s, err)
	}
	return f, nil
}

// GroupBy partitions rs into one RecordSet per distinct value of an
// integer-valued field, preserving the order in which each group's value
// first appeared in rs.
func GroupBy(rs store.RecordSet, fieldName string) ([]store.RecordSet, error) {
	timer := logging.StartTimer(logging.CategoryOps, "group_by")
	defer timer.Stop()

	order := make([]int64, 0)
	groups := make(map[int64][]uint64)
	for i := 0; i < rs.Len(); i++ {
		rec := rs.At(i)
		v, err := rec.Field(fieldName)
		if err != nil {
			return nil, err
		}
		key, err := v.AsInt()
		if err != nil {
			return nil, fmt.Errorf("group field %q is not an integer: %w", fieldName, err)
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec.ID)
	}

	out := make([]store.RecordSet, 0, len(order))
	for _, key := range order {
		out = append(out, store.NewRecordSet(rs.Store(), groups[key]))
	}
	return out, nil
}

// SplitBy partitions rs -- assumed pre-sorted ascending by fieldName --
// into consecutive runs such that any two neighboring records within a
// run differ by no more than delta on that field. A gap strictly greater
// than delta starts a new run.
func SplitBy(rs store.RecordSet, fieldName string, delta float64) ([]store.RecordSet, error) {
	timer := logging.StartTimer(logging.CategoryOps, "split_by")
	defer timer.Stop()

	var runs []store.RecordSet
	var current []uint64
	hasPrev := false
	var prev float64

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, store.NewRecordSet(rs.Store(), current))
			current = nil
		}
	}

	for i := 0; i < rs.Len(); i++ {
		rec := rs.At(i)
		v, err := rec.Field(fieldName)
		if err != nil {
			return nil, err
		}
		x, err := splitValue(v)
		if err != nil {
			return nil, err
		}
		if hasPrev && x-prev > delta {
			flush()
		}
		current = append(current, rec.ID)
		prev = x
		hasPrev = true
	}
	flush()
	return runs, nil
}

func splitValue(v store.FieldValue) (float64, error) {
	if t, err := v.AsTimestamp(); err == nil {
		return float64(t.UnixMilli()), nil
	}
	return numericValue(v)
}
