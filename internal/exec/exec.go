// Package exec walks the query.Node tree the query package parses and
// resolves it against a live index and store set, returning the matching
// RecordSet (spec §4.8). Every node either defers straight to the index
// (Leaf, Geo) or combines its children's (Negated, RecordSet) results
// through the algebra table below; only the top-level caller ever
// materializes "all records minus the negated set".
package exec

import (
	"context"
	"fmt"
	"math/rand"

	"qminer/internal/index"
	"qminer/internal/query"
	"qminer/internal/store"
)

// Executor evaluates parsed queries against one index/store set.
type Executor struct {
	idx    *index.Index
	lookup store.StoreLookup
	rng    *rand.Rand
	aggrs  map[string]Aggr
}

func New(idx *index.Index, lookup store.StoreLookup) *Executor {
	return &Executor{idx: idx, lookup: lookup, rng: rand.New(rand.NewSource(1))}
}

// SetRand overrides the source used for $join sampling.
func (e *Executor) SetRand(rng *rand.Rand) { e.rng = rng }

// result pairs a RecordSet with whether it should be read as its
// complement within its store (spec §4.8's Negated flag).
type result struct {
	negated bool
	set     store.RecordSet
}

// Run evaluates q and returns the final, sorted, limited RecordSet.
func (e *Executor) Run(ctx context.Context, q *query.Query) (store.RecordSet, error) {
	res, err := e.eval(ctx, q.Root)
	if err != nil {
		return store.RecordSet{}, err
	}
	rs, err := e.materialize(res)
	if err != nil {
		return store.RecordSet{}, err
	}
	rs, err = e.applyAggrs(rs, q.AggrNames)
	if err != nil {
		return store.RecordSet{}, err
	}
	if q.Sort != nil {
		rs, err = rs.Sort(q.Sort.Field, q.Sort.Desc)
		if err != nil {
			return store.RecordSet{}, err
		}
	}
	return rs.Limit(q.Offset, q.Limit), nil
}

// materialize resolves a still-Negated result into the concrete record
// set it denotes: all live records in its store minus the carried set.
func (e *Executor) materialize(res result) (store.RecordSet, error) {
	if !res.negated {
		return res.set, nil
	}
	s := res.set.Store()
	ids, err := s.GetAllRecIDs()
	if err != nil {
		return store.RecordSet{}, err
	}
	all := store.NewRecordSet(s, ids)
	return all.Minus(res.set), nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}

func (e *Executor) eval(ctx context.Context, n *query.Node) (result, error) {
	if err := checkCancelled(ctx); err != nil {
		return result{}, err
	}

	switch n.Kind {
	case query.KindLeaf:
		return e.evalLeaf(n)
	case query.KindGeo:
		return e.evalGeo(n)
	case query.KindStore:
		return e.evalStore(n)
	case query.KindAnd:
		return e.evalAnd(ctx, n)
	case query.KindOr:
		return e.evalOr(ctx, n)
	case query.KindNot:
		return e.evalNot(ctx, n)
	case query.KindJoin:
		return e.evalJoin(ctx, n)
	case query.KindRec:
		return e.evalRec(n)
	case query.KindRecSet:
		return result{negated: false, set: *n.RecSet}, nil
	default:
		return result{}, fmt.Errorf("%w: %v", ErrUnknownNode, n.Kind)
	}
}

// evalLeaf always defers to the index: it never returns Negated, since
// the posting lists it reads already enumerate exactly the matching
// records (spec §4.8 "Leaf/Geo are never Negated"). The result is
// weighted: each posting's own Freq carries forward onto the RecordSet
// (spec §3 "posting list ... (RecId, Freq)").
func (e *Executor) evalLeaf(n *query.Node) (result, error) {
	s, err := e.lookup.StoreByID(n.StoreID)
	if err != nil {
		return result{}, err
	}
	pl, err := e.idx.PostingsForWords(n.KeyID, n.WordIDs)
	if err != nil {
		return result{}, err
	}
	ids := make([]uint64, len(pl))
	freqs := make([]int64, len(pl))
	for i, p := range pl {
		ids[i] = p.RecID
		freqs[i] = p.Freq
	}
	return result{negated: false, set: store.NewWeightedRecordSet(s, ids, freqs)}, nil
}

func (e *Executor) evalGeo(n *query.Node) (result, error) {
	s, err := e.lookup.StoreByID(n.StoreID)
	if err != nil {
		return result{}, err
	}
	var ids []uint64
	if n.HasRadius {
		ids, err = e.idx.GeoRange(n.Center, n.RadiusMeters)
		if err != nil {
			return result{}, err
		}
		if n.Limit >= 0 && len(ids) > n.Limit {
			ids = ids[:n.Limit]
		}
	} else {
		if n.Limit <= 0 {
			return result{}, ErrMissingLimit
		}
		ids, err = e.idx.GeoNN(n.Center, n.Limit)
		if err != nil {
			return result{}, err
		}
	}
	return result{negated: false, set: store.NewRecordSet(s, ids)}, nil
}

func (e *Executor) evalStore(n *query.Node) (result, error) {
	s, err := e.lookup.StoreByID(n.StoreID)
	if err != nil {
		return result{}, err
	}
	ids, err := s.GetAllRecIDs()
	if err != nil {
		return result{}, err
	}
	return result{negated: false, set: store.NewRecordSet(s, ids)}, nil
}

func (e *Executor) evalRec(n *query.Node) (result, error) {
	s, err := e.lookup.StoreByID(n.Rec.StoreID)
	if err != nil {
		return result{}, err
	}
	return result{negated: false, set: store.NewRecordSet(s, []uint64{n.Rec.ID})}, nil
}

// evalAnd folds every child into a running (Negated, RecordSet) pair via
// the table spec §4.8 gives for combining two such pairs:
//
//	(F,F) -> Intersect(A,B)            Negated=false
//	(F,T) -> Minus(A,B)                Negated=false   (A and not B)
//	(T,F) -> Minus(B,A)                Negated=false   (B and not A)
//	(T,T) -> Union(A,B)                Negated=true    (De Morgan)
func (e *Executor) evalAnd(ctx context.Context, n *query.Node) (result, error) {
	if len(n.Children) == 0 {
		return e.evalStore(&query.Node{Kind: query.KindStore, StoreID: n.StoreID})
	}
	acc, err := e.eval(ctx, n.Children[0])
	if err != nil {
		return result{}, err
	}
	for _, child := range n.Children[1:] {
		if err := checkCancelled(ctx); err != nil {
			return result{}, err
		}
		next, err := e.eval(ctx, child)
		if err != nil {
			return result{}, err
		}
		acc = combineAnd(acc, next)
	}
	return acc, nil
}

func combineAnd(a, b result) result {
	switch {
	case !a.negated && !b.negated:
		return result{negated: false, set: a.set.Intersect(b.set)}
	case !a.negated && b.negated:
		return result{negated: false, set: a.set.Minus(b.set)}
	case a.negated && !b.negated:
		return result{negated: false, set: b.set.Minus(a.set)}
	default:
		return result{negated: true, set: a.set.Merge(b.set)}
	}
}

// evalOr is And's De Morgan dual:
//
//	(F,F) -> Union(A,B)                 Negated=false
//	(F,T) -> Minus(B,A)                 Negated=true    (A or not B)
//	(T,F) -> Minus(A,B)                 Negated=true    (not A or B)
//	(T,T) -> Intersect(A,B)             Negated=true
func (e *Executor) evalOr(ctx context.Context, n *query.Node) (result, error) {
	if len(n.Children) == 0 {
		return result{negated: false, set: store.RecordSet{}}, nil
	}
	acc, err := e.eval(ctx, n.Children[0])
	if err != nil {
		return result{}, err
	}
	for _, child := range n.Children[1:] {
		if err := checkCancelled(ctx); err != nil {
			return result{}, err
		}
		next, err := e.eval(ctx, child)
		if err != nil {
			return result{}, err
		}
		acc = combineOr(acc, next)
	}
	return acc, nil
}

func combineOr(a, b result) result {
	switch {
	case !a.negated && !b.negated:
		return result{negated: false, set: a.set.Merge(b.set)}
	case !a.negated && b.negated:
		return result{negated: true, set: b.set.Minus(a.set)}
	case a.negated && !b.negated:
		return result{negated: true, set: a.set.Minus(b.set)}
	default:
		return result{negated: true, set: a.set.Intersect(b.set)}
	}
}

// evalNot flips its child's Negated flag without touching the carried
// set; two Not's in a row cancel out for free (P6: not-double-negation).
func (e *Executor) evalNot(ctx context.Context, n *query.Node) (result, error) {
	child, err := e.eval(ctx, n.Child)
	if err != nil {
		return result{}, err
	}
	return result{negated: !child.negated, set: child.set}, nil
}

// evalJoin materializes its child (a negated child must first be resolved
// against its own store's live records, since Join needs real ids to
// follow) and unions the child records' joins into the target store. The
// join result is never Negated.
func (e *Executor) evalJoin(ctx context.Context, n *query.Node) (result, error) {
	child, err := e.eval(ctx, n.Child)
	if err != nil {
		return result{}, err
	}
	childSet, err := e.materialize(child)
	if err != nil {
		return result{}, err
	}
	joined, err := childSet.Join(n.JoinName)
	if err != nil {
		return result{}, err
	}
	if n.SampleSize > 0 && joined.Len() > n.SampleSize {
		joined = joined.Sample(n.SampleSize, e.rng)
	}
	return result{negated: false, set: joined}, nil
}
