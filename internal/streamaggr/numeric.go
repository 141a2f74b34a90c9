package streamaggr

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"qminer/internal/schema"
	"qminer/internal/store"
)

// Numeric maintains running count/sum/min/max/avg over a single numeric
// field (spec §4.9 "numeric (single float field)"). Every record's last
// seen value is cached by RecId so an update or delete -- whose trigger
// fires after the store row has already changed or vanished -- can
// adjust the running totals without re-reading the store.
type Numeric struct {
	name      string
	fieldName string

	count int64
	sum   float64
	min   float64
	max   float64

	last map[uint64]float64
}

func NewNumeric(name, fieldName string) *Numeric {
	return &Numeric{name: name, fieldName: fieldName, last: make(map[uint64]float64)}
}

func (a *Numeric) Name() string { return a.name }

func (a *Numeric) OnAddRec(rec store.Record) error {
	v, err := rec.Field(a.fieldName)
	if err != nil {
		return err
	}
	x, err := numericValue(v)
	if err != nil {
		return err
	}
	a.add(x)
	a.last[rec.ID] = x
	return nil
}

func (a *Numeric) OnUpdateRec(rec store.Record) error {
	v, err := rec.Field(a.fieldName)
	if err != nil {
		return err
	}
	x, err := numericValue(v)
	if err != nil {
		return err
	}
	if old, ok := a.last[rec.ID]; ok {
		a.remove(old)
	}
	a.add(x)
	a.last[rec.ID] = x
	return nil
}

func (a *Numeric) OnDeleteRec(_ schema.StoreID, recID uint64) error {
	old, ok := a.last[recID]
	if !ok {
		return nil
	}
	a.remove(old)
	delete(a.last, recID)
	return nil
}

func (a *Numeric) add(x float64) {
	if a.count == 0 {
		a.min, a.max = x, x
	} else {
		a.min = math.Min(a.min, x)
		a.max = math.Max(a.max, x)
	}
	a.sum += x
	a.count++
}

// remove undoes add(x) for sum and count; min/max can only grow stale
// (spec doesn't require exact min/max under deletion, only sum/count/avg),
// so they keep their extreme values until count drops to zero, after
// which the next add resets them.
func (a *Numeric) remove(x float64) {
	if a.count == 0 {
		return
	}
	a.sum -= x
	a.count--
}

func (a *Numeric) IsInit() bool { return a.count > 0 }

func (a *Numeric) FloatOutputs() map[string]float64 {
	avg := 0.0
	if a.count > 0 {
		avg = a.sum / float64(a.count)
	}
	return map[string]float64{
		"sum": a.sum,
		"min": a.min,
		"max": a.max,
		"avg": avg,
	}
}

func (a *Numeric) IntOutputs() map[string]int64 {
	return map[string]int64{"count": a.count}
}

type numericState struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Last  map[uint64]float64
}

func (a *Numeric) SaveState(w io.Writer) error {
	st := numericState{Count: a.count, Sum: a.sum, Min: a.min, Max: a.max, Last: a.last}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return fmt.Errorf("failed to save numeric aggregate %q: %w", a.name, err)
	}
	return nil
}

func (a *Numeric) LoadState(r io.Reader) error {
	var st numericState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to load numeric aggregate %q: %w", a.name, err)
	}
	a.count, a.sum, a.min, a.max = st.Count, st.Sum, st.Min, st.Max
	if st.Last == nil {
		st.Last = make(map[uint64]float64)
	}
	a.last = st.Last
	return nil
}
