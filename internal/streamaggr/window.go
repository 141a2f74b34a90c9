package streamaggr

import (
	"container/list"
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"qminer/internal/schema"
	"qminer/internal/store"
)

type windowEntry struct {
	TimeMs int64
	Value  float64
}

// Window is a time-stream aggregate: it keeps a FIFO of (timestamp, value)
// pairs and drains entries older than windowMs relative to the most
// recently added timestamp, maintaining running sum/min/max/count over
// whatever remains (spec §4.9's sliding-window invariant: every entry in
// the queue is within windowMs of the newest one).
//
// Like the original stream it's modeled on, this is append-only: updating
// or deleting a record that already aged out of the window, or one still
// inside it, does not retroactively adjust the window, since a sliding
// window of historical entries is not addressable by record id once the
// FIFO has moved past it.
type Window struct {
	name       string
	fieldName  string
	timeField  string
	windowMs   int64

	entries *list.List // of *windowEntry, oldest at Front
	sum      float64
	count    int64
}

func NewWindow(name, fieldName, timeField string, windowMs int64) *Window {
	return &Window{name: name, fieldName: fieldName, timeField: timeField, windowMs: windowMs, entries: list.New()}
}

func (a *Window) Name() string { return a.name }

func (a *Window) OnAddRec(rec store.Record) error {
	tv, err := rec.Field(a.timeField)
	if err != nil {
		return err
	}
	ts, err := tv.AsTimestamp()
	if err != nil {
		return err
	}
	fv, err := rec.Field(a.fieldName)
	if err != nil {
		return err
	}
	x, err := numericValue(fv)
	if err != nil {
		return err
	}
	a.push(ts.UnixMilli(), x)
	return nil
}

// OnUpdateRec and OnDeleteRec are no-ops: see the Window doc comment.
func (a *Window) OnUpdateRec(rec store.Record) error                     { return nil }
func (a *Window) OnDeleteRec(storeID schema.StoreID, recID uint64) error { return nil }

func (a *Window) push(timeMs int64, x float64) {
	a.entries.PushBack(&windowEntry{TimeMs: timeMs, Value: x})
	a.sum += x
	a.count++
	a.drain(timeMs)
}

// drain pops entries strictly older than windowMs relative to nowMs: an
// entry exactly windowMs old is retained (P8: every surviving entry
// satisfies nowMs-entry.TimeMs <= windowMs).
func (a *Window) drain(nowMs int64) {
	for a.entries.Len() > 0 {
		front := a.entries.Front()
		e := front.Value.(*windowEntry)
		if nowMs-e.TimeMs <= a.windowMs {
			break
		}
		a.sum -= e.Value
		a.count--
		a.entries.Remove(front)
	}
}

func (a *Window) IsInit() bool { return a.entries.Len() > 0 }

func (a *Window) FloatOutputs() map[string]float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for el := a.entries.Front(); el != nil; el = el.Next() {
		v := el.Value.(*windowEntry).Value
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	avg := 0.0
	if a.count > 0 {
		avg = a.sum / float64(a.count)
	}
	if a.entries.Len() == 0 {
		min, max = 0, 0
	}
	return map[string]float64{"sum": a.sum, "avg": avg, "min": min, "max": max}
}

func (a *Window) IntOutputs() map[string]int64 {
	return map[string]int64{"count": a.count}
}

type windowState struct {
	Entries []windowEntry
	Sum     float64
	Count   int64
}

func (a *Window) SaveState(w io.Writer) error {
	st := windowState{Sum: a.sum, Count: a.count}
	for el := a.entries.Front(); el != nil; el = el.Next() {
		st.Entries = append(st.Entries, *el.Value.(*windowEntry))
	}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return fmt.Errorf("failed to save window aggregate %q: %w", a.name, err)
	}
	return nil
}

func (a *Window) LoadState(r io.Reader) error {
	var st windowState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to load window aggregate %q: %w", a.name, err)
	}
	a.entries = list.New()
	for i := range st.Entries {
		e := st.Entries[i]
		a.entries.PushBack(&e)
	}
	a.sum, a.count = st.Sum, st.Count
	return nil
}
