package store

import (
	"fmt"
	"math/rand"
	"sort"

	"qminer/internal/schema"
)

// RecordSet is an ordered list of (RecId, Freq) pairs in one store, the
// unit the query executor and every downstream operator (spec §4.6,
// §4.10) passes around. Weighted sets (leaf-query and join results) carry
// a meaningful per-record Freq; unweighted sets (store scans, geo
// results, record literals) carry Freq=1 throughout and ignore it.
type RecordSet struct {
	store    *Store
	ids      []uint64
	freqs    []int64
	weighted bool
	aggrs    map[string]interface{}
}

// NewRecordSet wraps an existing id slice with an unweighted Freq of 1
// per record (e.g. a full store scan or a geo result).
func NewRecordSet(s *Store, ids []uint64) RecordSet {
	freqs := make([]int64, len(ids))
	for i := range freqs {
		freqs[i] = 1
	}
	return RecordSet{store: s, ids: append([]uint64(nil), ids...), freqs: freqs}
}

// NewWeightedRecordSet wraps parallel id/freq slices (e.g. a posting
// list's (RecId, Freq) pairs), producing a weighted set.
func NewWeightedRecordSet(s *Store, ids []uint64, freqs []int64) RecordSet {
	return RecordSet{
		store:    s,
		ids:      append([]uint64(nil), ids...),
		freqs:    append([]int64(nil), freqs...),
		weighted: true,
	}
}

func (rs RecordSet) Len() int      { return len(rs.ids) }
func (rs RecordSet) IDs() []uint64 { return append([]uint64(nil), rs.ids...) }
func (rs RecordSet) Store() *Store { return rs.store }

// Freqs returns the parallel per-record Freq slice. For an unweighted set
// every entry is 1.
func (rs RecordSet) Freqs() []int64 { return append([]int64(nil), rs.freqs...) }

// Freq returns the Freq of the i-th record.
func (rs RecordSet) Freq(i int) int64 { return rs.freqs[i] }

// Weighted reports whether Freq carries meaningful weight (spec §3
// RecordSet's "weighted flag").
func (rs RecordSet) Weighted() bool { return rs.weighted }

func (rs RecordSet) At(i int) Record { return Record{store: rs.store, ID: rs.ids[i]} }

func (rs RecordSet) clone(ids []uint64, freqs []int64) RecordSet {
	return RecordSet{store: rs.store, ids: ids, freqs: freqs, weighted: rs.weighted, aggrs: rs.aggrs}
}

// WithAggr returns a copy of the set carrying an additional named
// aggregate result. Attached aggregates survive sort/filter/limit and
// are rendered by AggrJSON (spec §4.6 "attached aggregates").
func (rs RecordSet) WithAggr(name string, val interface{}) RecordSet {
	aggrs := make(map[string]interface{}, len(rs.aggrs)+1)
	for k, v := range rs.aggrs {
		aggrs[k] = v
	}
	aggrs[name] = val
	out := rs
	out.aggrs = aggrs
	return out
}

// AggrJSON returns the attached aggregate results keyed by aggregate
// name, ready for json.Marshal; empty map when none were attached.
func (rs RecordSet) AggrJSON() map[string]interface{} {
	out := make(map[string]interface{}, len(rs.aggrs))
	for k, v := range rs.aggrs {
		out[k] = v
	}
	return out
}

// Sort orders the set by fieldName, ascending unless desc is set. Field
// comparison dispatches on the field's declared type.
func (rs RecordSet) Sort(fieldName string, desc bool) (RecordSet, error) {
	perm := identityPerm(len(rs.ids))
	var sortErr error
	sort.SliceStable(perm, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		a, err := rs.store.GetField(rs.ids[perm[i]], fieldName)
		if err != nil {
			sortErr = err
			return false
		}
		b, err := rs.store.GetField(rs.ids[perm[j]], fieldName)
		if err != nil {
			sortErr = err
			return false
		}
		less, err := compareFieldValues(a, b)
		if err != nil {
			sortErr = err
			return false
		}
		if desc {
			return less > 0
		}
		return less < 0
	})
	if sortErr != nil {
		return RecordSet{}, sortErr
	}
	ids, freqs := rs.applyPerm(perm)
	return rs.clone(ids, freqs), nil
}

// SortByFq orders the set by Freq, ascending unless asc is false (spec
// §4.6 "sort_by_fq(asc)"). Unlike Sort it never touches the store, since
// Freq already lives on the set.
func (rs RecordSet) SortByFq(asc bool) RecordSet {
	perm := identityPerm(len(rs.ids))
	sort.SliceStable(perm, func(i, j int) bool {
		if asc {
			return rs.freqs[perm[i]] < rs.freqs[perm[j]]
		}
		return rs.freqs[perm[i]] > rs.freqs[perm[j]]
	})
	ids, freqs := rs.applyPerm(perm)
	return rs.clone(ids, freqs)
}

func identityPerm(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

func (rs RecordSet) applyPerm(perm []int) ([]uint64, []int64) {
	ids := make([]uint64, len(perm))
	freqs := make([]int64, len(perm))
	for i, j := range perm {
		ids[i] = rs.ids[j]
		freqs[i] = rs.freqs[j]
	}
	return ids, freqs
}

// compareFieldValues returns -1/0/1 comparing a to b; only the field
// types with a natural total order are supported.
func compareFieldValues(a, b FieldValue) (int, error) {
	if a.Type != b.Type {
		return 0, fmt.Errorf("cannot compare field values of different types %s/%s", a.Type, b.Type)
	}
	switch a.Type {
	case schema.FieldUnknown:
		return 0, nil
	case schema.FieldInt:
		return cmpInt64(a.Int, b.Int), nil
	case schema.FieldUInt64:
		return cmpUint64(a.UInt64, b.UInt64), nil
	case schema.FieldStr:
		return cmpString(a.Str, b.Str), nil
	case schema.FieldFlt:
		return cmpFloat64(a.Flt, b.Flt), nil
	case schema.FieldTimestamp:
		return cmpInt64(a.Timestamp.UnixNano(), b.Timestamp.UnixNano()), nil
	default:
		return 0, fmt.Errorf("field type %s has no natural ordering for sort", a.Type)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortByID orders the set by record id; descending when asc is false.
func (rs RecordSet) SortByID(asc bool) RecordSet {
	perm := identityPerm(len(rs.ids))
	sort.SliceStable(perm, func(i, j int) bool {
		if asc {
			return rs.ids[perm[i]] < rs.ids[perm[j]]
		}
		return rs.ids[perm[i]] > rs.ids[perm[j]]
	})
	ids, freqs := rs.applyPerm(perm)
	return rs.clone(ids, freqs)
}

// FilterByRecID keeps records with min <= id <= max.
func (rs RecordSet) FilterByRecID(min, max uint64) RecordSet {
	return rs.filterAt(func(i int) bool { return rs.ids[i] >= min && rs.ids[i] <= max })
}

// FilterByRecIDSet keeps records whose id is in set.
func (rs RecordSet) FilterByRecIDSet(set map[uint64]bool) RecordSet {
	return rs.filterAt(func(i int) bool { return set[rs.ids[i]] })
}

// FilterByFq keeps records with min <= freq <= max.
func (rs RecordSet) FilterByFq(min, max int64) RecordSet {
	return rs.filterAt(func(i int) bool { return rs.freqs[i] >= min && rs.freqs[i] <= max })
}

// filterAt keeps the positions keep reports true for, preserving the
// id/freq pairing.
func (rs RecordSet) filterAt(keep func(i int) bool) RecordSet {
	ids := make([]uint64, 0, len(rs.ids))
	freqs := make([]int64, 0, len(rs.freqs))
	for i := range rs.ids {
		if keep(i) {
			ids = append(ids, rs.ids[i])
			freqs = append(freqs, rs.freqs[i])
		}
	}
	return rs.clone(ids, freqs)
}

// FilterByField keeps records whose fieldName value satisfies pred;
// records where the field can't be read are dropped.
func (rs RecordSet) FilterByField(fieldName string, pred func(FieldValue) bool) RecordSet {
	return rs.filterAt(func(i int) bool {
		v, err := rs.store.GetField(rs.ids[i], fieldName)
		return err == nil && pred(v)
	})
}

// Filter keeps only records for which pred returns true.
func (rs RecordSet) Filter(pred func(Record) bool) RecordSet {
	var ids []uint64
	var freqs []int64
	for i, id := range rs.ids {
		if pred(Record{store: rs.store, ID: id}) {
			ids = append(ids, id)
			freqs = append(freqs, rs.freqs[i])
		}
	}
	return rs.clone(ids, freqs)
}

// Split partitions the set into records matching pred and those that
// don't, preserving relative order in both.
func (rs RecordSet) Split(pred func(Record) bool) (matched, unmatched RecordSet) {
	var yesIDs, noIDs []uint64
	var yesFreqs, noFreqs []int64
	for i, id := range rs.ids {
		if pred(Record{store: rs.store, ID: id}) {
			yesIDs = append(yesIDs, id)
			yesFreqs = append(yesFreqs, rs.freqs[i])
		} else {
			noIDs = append(noIDs, id)
			noFreqs = append(noFreqs, rs.freqs[i])
		}
	}
	return rs.clone(yesIDs, yesFreqs), rs.clone(noIDs, noFreqs)
}

// Sample draws n ids uniformly at random without replacement.
func (rs RecordSet) Sample(n int, rng *rand.Rand) RecordSet {
	if n >= len(rs.ids) {
		return rs.clone(rs.IDs(), rs.Freqs())
	}
	perm := identityPerm(len(rs.ids))
	rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	ids, freqs := rs.applyPerm(perm[:n])
	return rs.clone(ids, freqs)
}

// Shuffle returns the set in a random order.
func (rs RecordSet) Shuffle(rng *rand.Rand) RecordSet {
	perm := identityPerm(len(rs.ids))
	rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	ids, freqs := rs.applyPerm(perm)
	return rs.clone(ids, freqs)
}

// Reverse returns the set in reverse order.
func (rs RecordSet) Reverse() RecordSet {
	n := len(rs.ids)
	ids := make([]uint64, n)
	freqs := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = rs.ids[n-1-i]
		freqs[i] = rs.freqs[n-1-i]
	}
	return rs.clone(ids, freqs)
}

// Trunc keeps at most n records from the front.
func (rs RecordSet) Trunc(n int) RecordSet {
	if n >= len(rs.ids) {
		return rs.clone(rs.IDs(), rs.Freqs())
	}
	if n < 0 {
		n = 0
	}
	return rs.clone(append([]uint64(nil), rs.ids[:n]...), append([]int64(nil), rs.freqs[:n]...))
}

// Limit applies offset then trunc -- the $offset/$limit pair of spec §4.7.
func (rs RecordSet) Limit(offset, limit int) RecordSet {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rs.ids) {
		return rs.clone(nil, nil)
	}
	end := len(rs.ids)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return rs.clone(append([]uint64(nil), rs.ids[offset:end]...), append([]int64(nil), rs.freqs[offset:end]...))
}

// Merge unions two sets from the same store, deduplicating and sorting by
// record id (the executor's final output ordering when no $sort is
// given). A record present in both operands gets its freqs summed,
// mirroring gix.Merger.Union's posting-list algebra.
func (rs RecordSet) Merge(other RecordSet) RecordSet {
	freqByID := make(map[uint64]int64, len(rs.ids)+len(other.ids))
	var order []uint64
	for i, id := range rs.ids {
		if _, ok := freqByID[id]; !ok {
			order = append(order, id)
		}
		freqByID[id] += rs.freqs[i]
	}
	for i, id := range other.ids {
		if _, ok := freqByID[id]; !ok {
			order = append(order, id)
		}
		freqByID[id] += other.freqs[i]
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	freqs := make([]int64, len(order))
	for i, id := range order {
		freqs[i] = freqByID[id]
	}
	return RecordSet{store: rs.store, ids: order, freqs: freqs, weighted: rs.weighted || other.weighted}
}

// Intersect keeps only ids present in both sets, summing freqs
// (gix.Merger.Intersect's posting-list algebra).
func (rs RecordSet) Intersect(other RecordSet) RecordSet {
	otherFreq := make(map[uint64]int64, len(other.ids))
	for i, id := range other.ids {
		otherFreq[id] = other.freqs[i]
	}
	var ids []uint64
	var freqs []int64
	for i, id := range rs.ids {
		if of, ok := otherFreq[id]; ok {
			ids = append(ids, id)
			freqs = append(freqs, rs.freqs[i]+of)
		}
	}
	return RecordSet{store: rs.store, ids: ids, freqs: freqs, weighted: rs.weighted || other.weighted}
}

// Minus keeps ids present in rs but absent from other -- the RecordSet
// side of the posting-list algebra's Minus, used by the executor to
// resolve a Negated/non-Negated And or Or combination (spec §4.8). The
// surviving entries keep rs's own freqs, mirroring gix.Merger.Minus.
func (rs RecordSet) Minus(other RecordSet) RecordSet {
	present := make(map[uint64]struct{}, other.Len())
	for _, id := range other.ids {
		present[id] = struct{}{}
	}
	var ids []uint64
	var freqs []int64
	for i, id := range rs.ids {
		if _, ok := present[id]; !ok {
			ids = append(ids, id)
			freqs = append(freqs, rs.freqs[i])
		}
	}
	return rs.clone(ids, freqs)
}

// Join follows joinName from every record in the set, returning the union
// of the resulting RecordSets in the join's target store. Each record's
// own Join call already carries the correct per-target Freq (field-joins
// copy the source's stored freq field, index-joins use the posting's
// stored freq -- spec §9 "Mixed responsibility of Join"); Merge then
// accumulates freqs across overlapping targets the same way do_join's
// "collapse via index OR-search" / "accumulate target RecIds and sum
// freqs" rule requires (spec §4.6).
func (rs RecordSet) Join(joinName string) (RecordSet, error) {
	if len(rs.ids) == 0 {
		jd, err := rs.store.desc.JoinByName(joinName)
		if err != nil {
			return RecordSet{}, err
		}
		targetStore, err := rs.store.lookup.StoreByID(jd.TargetStoreID)
		if err != nil {
			return RecordSet{}, err
		}
		return RecordSet{store: targetStore, weighted: true}, nil
	}
	var merged RecordSet
	first := true
	for _, id := range rs.ids {
		joined, err := (Record{store: rs.store, ID: id}).Join(joinName)
		if err != nil {
			return RecordSet{}, err
		}
		if first {
			merged = joined
			first = false
			continue
		}
		merged = merged.Merge(joined)
	}
	return merged, nil
}

// ToJSON renders every record's fields as plain Go values, suitable for
// json.Marshal. Every record carries "$id"; if the store has a primary
// field, it also carries "$name" (spec §6 "Record serialization (JSON)").
func (rs RecordSet) ToJSON() ([]map[string]interface{}, error) {
	pf, hasPrimary := rs.store.desc.PrimaryField()
	out := make([]map[string]interface{}, 0, len(rs.ids))
	for _, id := range rs.ids {
		values, err := rs.store.GetAllFields(id)
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(values)+2)
		row["$id"] = id
		if hasPrimary {
			if v, ok := values[pf.Name]; ok {
				row["$name"] = v.Str
			}
		}
		for name, v := range values {
			row[name] = fieldValueJSON(v)
		}
		out = append(out, row)
	}
	return out, nil
}

func fieldValueJSON(v FieldValue) interface{} {
	switch v.Type {
	case schema.FieldInt:
		return v.Int
	case schema.FieldIntSeq:
		return v.IntSeq
	case schema.FieldUInt64:
		return v.UInt64
	case schema.FieldStr:
		return v.Str
	case schema.FieldStrSeq:
		return v.StrSeq
	case schema.FieldBool:
		return v.Bool
	case schema.FieldFlt:
		return v.Flt
	case schema.FieldFltPair:
		return v.FltPair
	case schema.FieldFltSeq:
		return v.FltSeq
	case schema.FieldTimestamp:
		return v.Timestamp
	case schema.FieldNumericSparse, schema.FieldBowSparse:
		return v.Sparse
	default:
		return nil
	}
}
