package streamaggr

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	"qminer/internal/schema"
	"qminer/internal/store"
)

// Item counts occurrences of each distinct string value seen in a field
// (spec §4.9 "item (discrete value counters)"), e.g. a histogram of a
// category field. Like Numeric it caches each record's last seen value so
// deletes and updates can decrement the right bucket without re-reading
// the store.
type Item struct {
	name      string
	fieldName string

	counts map[string]int64
	last   map[uint64]string
}

func NewItem(name, fieldName string) *Item {
	return &Item{name: name, fieldName: fieldName, counts: make(map[string]int64), last: make(map[uint64]string)}
}

func (a *Item) Name() string { return a.name }

func (a *Item) itemKey(rec store.Record) (string, error) {
	v, err := rec.Field(a.fieldName)
	if err != nil {
		return "", err
	}
	return groupKeyString(v)
}

func (a *Item) OnAddRec(rec store.Record) error {
	key, err := a.itemKey(rec)
	if err != nil {
		return err
	}
	a.counts[key]++
	a.last[rec.ID] = key
	return nil
}

func (a *Item) OnUpdateRec(rec store.Record) error {
	newKey, err := a.itemKey(rec)
	if err != nil {
		return err
	}
	if old, ok := a.last[rec.ID]; ok {
		a.decr(old)
	}
	a.counts[newKey]++
	a.last[rec.ID] = newKey
	return nil
}

func (a *Item) OnDeleteRec(_ schema.StoreID, recID uint64) error {
	old, ok := a.last[recID]
	if !ok {
		return nil
	}
	a.decr(old)
	delete(a.last, recID)
	return nil
}

func (a *Item) decr(key string) {
	a.counts[key]--
	if a.counts[key] <= 0 {
		delete(a.counts, key)
	}
}

func (a *Item) IsInit() bool { return len(a.counts) > 0 }

// FloatOutputs exposes the same counts as floats for uniformity with the
// rest of the pipeline (e.g. EMA chaining off an item's frequency).
func (a *Item) FloatOutputs() map[string]float64 {
	out := make(map[string]float64, len(a.counts))
	for k, v := range a.counts {
		out[k] = float64(v)
	}
	return out
}

func (a *Item) IntOutputs() map[string]int64 {
	out := make(map[string]int64, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Top returns the n most frequent values, highest count first, breaking
// ties by value for determinism.
func (a *Item) Top(n int) []string {
	keys := make([]string, 0, len(a.counts))
	for k := range a.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if a.counts[keys[i]] != a.counts[keys[j]] {
			return a.counts[keys[i]] > a.counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n >= 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

type itemState struct {
	Counts map[string]int64
	Last   map[uint64]string
}

func (a *Item) SaveState(w io.Writer) error {
	st := itemState{Counts: a.counts, Last: a.last}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return fmt.Errorf("failed to save item aggregate %q: %w", a.name, err)
	}
	return nil
}

func (a *Item) LoadState(r io.Reader) error {
	var st itemState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to load item aggregate %q: %w", a.name, err)
	}
	if st.Counts == nil {
		st.Counts = make(map[string]int64)
	}
	if st.Last == nil {
		st.Last = make(map[uint64]string)
	}
	a.counts, a.last = st.Counts, st.Last
	return nil
}
