// Package streamaggr implements the stream-aggregate pipeline: a named
// set of ever-updated views over a store, fed by a single trigger that
// fans every add/update/delete out to each registered aggregate (spec
// §4.9). Aggregates never rescan the store: add and update read only the
// record the event names, and a delete is applied from each aggregate's
// own cached values, since a delete's row is already gone by the time the
// trigger fires.
package streamaggr

import (
	"errors"
	"io"

	"qminer/internal/schema"
	"qminer/internal/store"
)

var (
	ErrDuplicateName = errors.New("stream aggregate name already registered")
	ErrUnknownAggr   = errors.New("unknown stream aggregate")
	ErrFieldNotFloat = errors.New("field is not numeric")
)

// Aggregate is the contract every stream aggregate implements (spec §4.9:
// on_add_rec/on_update_rec/on_delete_rec/save_state/load_state/is_init
// plus named-float/named-int output accessors).
type Aggregate interface {
	Name() string
	OnAddRec(rec store.Record) error
	OnUpdateRec(rec store.Record) error
	OnDeleteRec(storeID schema.StoreID, recID uint64) error
	IsInit() bool
	FloatOutputs() map[string]float64
	IntOutputs() map[string]int64
	SaveState(w io.Writer) error
	LoadState(r io.Reader) error
}

// FloatSource exposes an aggregate's float outputs to another aggregate
// chained on top of it (spec §4.9 "EMA-style (chained on top of another
// aggregate by name)"), without requiring the dependent to know the
// source aggregate's concrete type.
type FloatSource interface {
	FloatOutputs() map[string]float64
}

// numericValue widens Int/UInt64/Flt field values to float64; the
// numeric-family aggregates accept any of the three so a plain Int
// counter field doesn't need a schema change to be aggregated.
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
	return 0, ErrFieldNotFloat
}
