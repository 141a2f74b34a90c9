package streamaggr

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"sort"
)

// StreamAggrBase owns the named set of aggregates attached to one store.
// Registration order is preserved for Names and All; SaveState writes the
// aggregates sorted by name so saved state round-trips deterministically.
type StreamAggrBase struct {
	order []string
	byName map[string]Aggregate
}

func NewStreamAggrBase() *StreamAggrBase {
	return &StreamAggrBase{byName: make(map[string]Aggregate)}
}

// Add registers aggr under its own Name(), failing if that name is
// already taken.
func (b *StreamAggrBase) Add(aggr Aggregate) error {
	name := aggr.Name()
	if _, exists := b.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	b.byName[name] = aggr
	b.order = append(b.order, name)
	return nil
}

// Get returns the aggregate registered under name.
func (b *StreamAggrBase) Get(name string) (Aggregate, error) {
	aggr, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggr, name)
	}
	return aggr, nil
}

// Names returns every registered aggregate name in registration order.
func (b *StreamAggrBase) Names() []string {
	return append([]string(nil), b.order...)
}

// All returns every registered aggregate in registration order.
func (b *StreamAggrBase) All() []Aggregate {
	out := make([]Aggregate, len(b.order))
	for i, name := range b.order {
		out[i] = b.byName[name]
	}
	return out
}

// savedAggr pairs a name with its persisted gob payload.
type savedAggr struct {
	Name  string
	State []byte
}

// SaveState serializes every registered aggregate's state, tagged by
// name, sorted for a deterministic on-disk encoding.
func (b *StreamAggrBase) SaveState(w io.Writer) error {
	names := append([]string(nil), b.order...)
	sort.Strings(names)

	saved := make([]savedAggr, 0, len(names))
	for _, name := range names {
		var buf bytes.Buffer
		if err := b.byName[name].SaveState(&buf); err != nil {
			return err
		}
		saved = append(saved, savedAggr{Name: name, State: buf.Bytes()})
	}
	if err := gob.NewEncoder(w).Encode(&saved); err != nil {
		return fmt.Errorf("failed to save stream aggregate base: %w", err)
	}
	return nil
}

// LoadState restores state into already-registered aggregates by name;
// an entry for an aggregate that was never registered on this base is
// skipped since the caller may be loading a superset of what it wired up.
func (b *StreamAggrBase) LoadState(r io.Reader) error {
	var saved []savedAggr
	if err := gob.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("failed to load stream aggregate base: %w", err)
	}
	for _, s := range saved {
		aggr, ok := b.byName[s.Name]
		if !ok {
			continue
		}
		if err := aggr.LoadState(bytes.NewReader(s.State)); err != nil {
			return err
		}
	}
	return nil
}
