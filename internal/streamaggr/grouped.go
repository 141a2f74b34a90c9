package streamaggr

import (
	"encoding/gob"
	"fmt"
	"io"

	"qminer/internal/schema"
	"qminer/internal/store"
)

// Grouped maintains one Numeric per distinct value of a group field (spec
// §4.9 "grouped numeric (split by a keyed group)").
type Grouped struct {
	name       string
	fieldName  string
	groupField string

	groups    map[string]*Numeric
	recGroups map[uint64]string
}

func NewGrouped(name, fieldName, groupField string) *Grouped {
	return &Grouped{
		name: name, fieldName: fieldName, groupField: groupField,
		groups:    make(map[string]*Numeric),
		recGroups: make(map[uint64]string),
	}
}

func (a *Grouped) Name() string { return a.name }

func (a *Grouped) groupKey(rec store.Record) (string, error) {
	v, err := rec.Field(a.groupField)
	if err != nil {
		return "", err
	}
	return groupKeyString(v)
}

func groupKeyString(v store.FieldValue) (string, error) {
	if s, err := v.AsStr(); err == nil {
		return s, nil
	}
	if i, err := v.AsInt(); err == nil {
		return fmt.Sprintf("%d", i), nil
	}
	if u, err := v.AsUInt64(); err == nil {
		return fmt.Sprintf("%d", u), nil
	}
	return "", fmt.Errorf("group field is not a groupable type")
}

func (a *Grouped) numericFor(key string) *Numeric {
	n, ok := a.groups[key]
	if !ok {
		n = NewNumeric(a.name+"/"+key, a.fieldName)
		a.groups[key] = n
	}
	return n
}

func (a *Grouped) OnAddRec(rec store.Record) error {
	key, err := a.groupKey(rec)
	if err != nil {
		return err
	}
	if err := a.numericFor(key).OnAddRec(rec); err != nil {
		return err
	}
	a.recGroups[rec.ID] = key
	return nil
}

func (a *Grouped) OnUpdateRec(rec store.Record) error {
	newKey, err := a.groupKey(rec)
	if err != nil {
		return err
	}
	oldKey, hadOld := a.recGroups[rec.ID]
	if hadOld && oldKey != newKey {
		if err := a.groups[oldKey].OnDeleteRec(0, rec.ID); err != nil {
			return err
		}
	}
	if err := a.numericFor(newKey).OnUpdateRec(rec); err != nil {
		return err
	}
	a.recGroups[rec.ID] = newKey
	return nil
}

func (a *Grouped) OnDeleteRec(storeID schema.StoreID, recID uint64) error {
	key, ok := a.recGroups[recID]
	if !ok {
		return nil
	}
	delete(a.recGroups, recID)
	n, ok := a.groups[key]
	if !ok {
		return nil
	}
	return n.OnDeleteRec(storeID, recID)
}

func (a *Grouped) IsInit() bool { return len(a.groups) > 0 }

// FloatOutputs flattens every group's outputs under "<group>.<stat>".
func (a *Grouped) FloatOutputs() map[string]float64 {
	out := make(map[string]float64, len(a.groups)*4)
	for key, n := range a.groups {
		for stat, v := range n.FloatOutputs() {
			out[key+"."+stat] = v
		}
	}
	return out
}

func (a *Grouped) IntOutputs() map[string]int64 {
	out := make(map[string]int64, len(a.groups))
	for key, n := range a.groups {
		for stat, v := range n.IntOutputs() {
			out[key+"."+stat] = v
		}
	}
	return out
}

type groupedState struct {
	Groups    map[string]numericState
	RecGroups map[uint64]string
}

func (a *Grouped) SaveState(w io.Writer) error {
	st := groupedState{Groups: make(map[string]numericState, len(a.groups)), RecGroups: a.recGroups}
	for key, n := range a.groups {
		st.Groups[key] = numericState{Count: n.count, Sum: n.sum, Min: n.min, Max: n.max, Last: n.last}
	}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return fmt.Errorf("failed to save grouped aggregate %q: %w", a.name, err)
	}
	return nil
}

func (a *Grouped) LoadState(r io.Reader) error {
	var st groupedState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to load grouped aggregate %q: %w", a.name, err)
	}
	a.groups = make(map[string]*Numeric, len(st.Groups))
	for key, ns := range st.Groups {
		last := ns.Last
		if last == nil {
			last = make(map[uint64]float64)
		}
		a.groups[key] = &Numeric{name: a.name + "/" + key, fieldName: a.fieldName, count: ns.Count, sum: ns.Sum, min: ns.Min, max: ns.Max, last: last}
	}
	if st.RecGroups == nil {
		st.RecGroups = make(map[uint64]string)
	}
	a.recGroups = st.RecGroups
	return nil
}
