package exec

import (
	"errors"
	"fmt"
	"sort"

	"qminer/internal/logging"
	"qminer/internal/store"
)

var (
	ErrUnknownAggr   = errors.New("unknown query aggregate")
	ErrDuplicateAggr = errors.New("query aggregate name already registered")
)

// Aggr is a named query-time aggregate: it reads a final RecordSet and
// produces a JSON-ready summary that the executor attaches to the set
// under the aggregate's name. Query aggregates are registered on the
// Executor and referenced from $aggr by name; they never mutate the set.
type Aggr interface {
	Name() string
	Aggregate(rs store.RecordSet) (interface{}, error)
}

// RegisterAggr adds a query aggregate to the executor's registry.
func (e *Executor) RegisterAggr(a Aggr) error {
	if e.aggrs == nil {
		e.aggrs = make(map[string]Aggr)
	}
	if _, exists := e.aggrs[a.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAggr, a.Name())
	}
	e.aggrs[a.Name()] = a
	return nil
}

// applyAggrs resolves every $aggr name against the registry and attaches
// each result to rs, in the order the query listed them.
func (e *Executor) applyAggrs(rs store.RecordSet, names []string) (store.RecordSet, error) {
	if len(names) == 0 {
		return rs, nil
	}
	timer := logging.StartTimer(logging.CategoryExec, "apply_aggrs")
	defer timer.Stop()

	for _, name := range names {
		a, ok := e.aggrs[name]
		if !ok {
			return store.RecordSet{}, fmt.Errorf("%w: %s", ErrUnknownAggr, name)
		}
		val, err := a.Aggregate(rs)
		if err != nil {
			return store.RecordSet{}, fmt.Errorf("query aggregate %s failed: %w", name, err)
		}
		rs = rs.WithAggr(name, val)
	}
	return rs, nil
}

// CountAggr reports the number of records in the result set.
type CountAggr struct {
	AggrName string
}

func (a CountAggr) Name() string { return a.AggrName }

func (a CountAggr) Aggregate(rs store.RecordSet) (interface{}, error) {
	return rs.Len(), nil
}

// FieldStatsAggr summarizes a numeric field over the result set with
// count/min/max/sum/mean. Records where the field is unreadable (deleted
// mid-flight, null) are skipped rather than failing the whole query.
type FieldStatsAggr struct {
	AggrName  string
	FieldName string
}

func (a FieldStatsAggr) Name() string { return a.AggrName }

func (a FieldStatsAggr) Aggregate(rs store.RecordSet) (interface{}, error) {
	var (
		count    int
		sum      float64
		min, max float64
	)
	for i := 0; i < rs.Len(); i++ {
		v, err := rs.At(i).Field(a.FieldName)
		if err != nil {
			continue
		}
		f, err := numericValue(v)
		if err != nil {
			return nil, err
		}
		if count == 0 || f < min {
			min = f
		}
		if count == 0 || f > max {
			max = f
		}
		sum += f
		count++
	}
	out := map[string]interface{}{"count": count, "sum": sum}
	if count > 0 {
		out["min"] = min
		out["max"] = max
		out["mean"] = sum / float64(count)
	}
	return out, nil
}

// FieldHistogramAggr counts occurrences of each distinct value of a
// scalar field, reported as value -> count sorted by value for stable
// serialization.
type FieldHistogramAggr struct {
	AggrName  string
	FieldName string
}

func (a FieldHistogramAggr) Name() string { return a.AggrName }

func (a FieldHistogramAggr) Aggregate(rs store.RecordSet) (interface{}, error) {
	counts := make(map[string]int)
	for i := 0; i < rs.Len(); i++ {
		v, err := rs.At(i).Field(a.FieldName)
		if err != nil {
			continue
		}
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		counts[s]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]interface{}{"value": k, "count": counts[k]})
	}
	return out, nil
}

// numericValue widens Int/UInt64/Flt to float64, the same fallback chain
// ops.LinSearch uses.
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
	return 0, fmt.Errorf("field is not numeric")
}

func scalarString(v store.FieldValue) (string, error) {
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
	if b, err := v.AsBool(); err == nil {
		return fmt.Sprintf("%t", b), nil
	}
	return "", fmt.Errorf("field is not a scalar")
}
