package store

import (
	"fmt"
	"strconv"

	"qminer/internal/schema"
)

// Record is a by-reference handle: it does no I/O until a field is
// actually read, so passing one around (e.g. in a RecordSet) is cheap.
type Record struct {
	store *Store
	ID    uint64
}

func (r Record) StoreID() schema.StoreID { return r.store.desc.ID }
func (r Record) StoreName() string       { return r.store.desc.Name }

// Field reads one field's current value.
func (r Record) Field(name string) (FieldValue, error) {
	return r.store.GetField(r.ID, name)
}

// Detach snapshots every field into a value-type record that remains
// valid after the source record is deleted or mutated.
func (r Record) Detach() (*DetachedRecord, error) {
	values, err := r.store.GetAllFields(r.ID)
	if err != nil {
		return nil, err
	}
	return &DetachedRecord{StoreID: r.store.desc.ID, StoreName: r.store.desc.Name, ID: r.ID, Values: values}, nil
}

// Join follows joinName from this record, returning the joined records as
// a weighted RecordSet in the target store. A field-join copies this
// record's own stored freq field forward as the single target's Freq; an
// index-join uses each posting's own stored Freq (spec §9 "Mixed
// responsibility of Join" -- the two paths have distinct weight
// semantics and must not be collapsed into "ignore freq").
func (r Record) Join(joinName string) (RecordSet, error) {
	jd, err := r.store.desc.JoinByName(joinName)
	if err != nil {
		return RecordSet{}, err
	}
	targetStore, err := r.store.lookup.StoreByID(jd.TargetStoreID)
	if err != nil {
		return RecordSet{}, err
	}

	switch jd.Kind {
	case schema.FieldJoin:
		recField, err := r.store.desc.Field(jd.RecIDFieldID)
		if err != nil {
			return RecordSet{}, err
		}
		v, err := r.store.GetField(r.ID, recField.Name)
		if err != nil {
			return RecordSet{}, err
		}
		if v.Type != schema.FieldUInt64 || v.UInt64 == schema.NoJoinRecID {
			return RecordSet{store: targetStore, weighted: true}, nil
		}
		freqField, err := r.store.desc.Field(jd.FreqFieldID)
		if err != nil {
			return RecordSet{}, err
		}
		fv, err := r.store.GetField(r.ID, freqField.Name)
		if err != nil {
			return RecordSet{}, err
		}
		return NewWeightedRecordSet(targetStore, []uint64{v.UInt64}, []int64{fv.Int}), nil
	case schema.IndexJoin:
		keyName := joinIndexKeyName(jd.Name, r.store.desc.ID)
		pl, err := r.store.index.LookupExact(jd.TargetStoreID, keyName, strconv.FormatUint(r.ID, 10))
		if err != nil {
			return RecordSet{}, err
		}
		ids := make([]uint64, len(pl))
		freqs := make([]int64, len(pl))
		for i, p := range pl {
			ids[i] = p.RecID
			freqs[i] = p.Freq
		}
		return NewWeightedRecordSet(targetStore, ids, freqs), nil
	default:
		return RecordSet{}, fmt.Errorf("unknown join kind %v for join %q", jd.Kind, jd.Name)
	}
}

// DetachedRecord is a value-type snapshot of a record, independent of the
// store's lifetime (the "by-value" side of spec §4.6's Record duality).
type DetachedRecord struct {
	StoreID   schema.StoreID
	StoreName string
	ID        uint64
	Values    map[string]FieldValue
}

func (d *DetachedRecord) Field(name string) (FieldValue, bool) {
	v, ok := d.Values[name]
	return v, ok
}
