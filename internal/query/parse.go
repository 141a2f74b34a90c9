package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"qminer/internal/geoindex"
	"qminer/internal/schema"
	"qminer/internal/store"
	"qminer/internal/vocab"
)

// RangeOnMissing is the policy applied when a Gt/Lt pivot literal was
// never interned. The default, "error", surfaces ErrUnorderedLeaf per
// spec.md §9's Open Question decision; "clip" resolves to the nearest
// in-vocabulary value instead.
type RangeOnMissing string

const (
	RangeOnMissingError RangeOnMissing = "error"
	RangeOnMissingClip  RangeOnMissing = "clip"
)

// Policy bundles the parser's configurable knobs.
type Policy struct {
	VocabRangeOnMissing RangeOnMissing
}

func DefaultPolicy() Policy {
	return Policy{VocabRangeOnMissing: RangeOnMissingError}
}

// Parse decodes a wire-format query object into a Query, resolving every
// leaf literal against voc as it goes (so the AST the executor receives
// already carries WordIDs, never raw strings). lookup resolves the live
// store backing a $name primary-key lookup; it may be nil if the query
// text is known not to use $name (a $name query against a nil lookup
// errors rather than panicking).
func Parse(sch *schema.Schema, voc *vocab.IndexVoc, lookup store.StoreLookup, raw []byte, policy Policy) (*Query, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}

	fromVal, ok := obj["$from"]
	if !ok {
		return nil, fmt.Errorf("%w: missing $from", ErrMalformedQuery)
	}
	storeName, ok := fromVal.(string)
	if !ok {
		return nil, fmt.Errorf("%w: $from must be a string", ErrMalformedQuery)
	}
	sd, err := sch.StoreByName(storeName)
	if err != nil {
		return nil, err
	}

	p := &parser{sch: sch, voc: voc, lookup: lookup, policy: policy}
	root, finalStoreID, err := p.parseNode(sd.ID, obj)
	if err != nil {
		return nil, err
	}

	q := &Query{Root: root, StoreID: finalStoreID, Limit: -1}
	if sv, ok := obj["$sort"]; ok {
		spec, err := parseSort(sv)
		if err != nil {
			return nil, err
		}
		q.Sort = spec
	}
	if lv, ok := obj["$limit"]; ok {
		n, err := asInt(lv, "$limit")
		if err != nil {
			return nil, err
		}
		q.Limit = n
	}
	if ov, ok := obj["$offset"]; ok {
		n, err := asInt(ov, "$offset")
		if err != nil {
			return nil, err
		}
		q.Offset = n
	}
	if av, ok := obj["$aggr"]; ok {
		names, err := parseAggrNames(av)
		if err != nil {
			return nil, err
		}
		q.AggrNames = names
	}
	return q, nil
}

type parser struct {
	sch    *schema.Schema
	voc    *vocab.IndexVoc
	lookup store.StoreLookup
	policy Policy
}

// parseNode parses one query object in the context of storeID, returning
// the resulting node and the store its results live in -- a $join
// switches that store to the join's target.
func (p *parser) parseNode(storeID schema.StoreID, obj map[string]interface{}) (*Node, schema.StoreID, error) {
	var children []*Node
	var joinSpec map[string]interface{}

	for key, val := range obj {
		switch key {
		case "$from", "$sort", "$limit", "$offset", "$aggr":
			continue
		case "$and":
			arr, err := asObjectArray(val, "$and")
			if err != nil {
				return nil, 0, err
			}
			var sub []*Node
			for _, item := range arr {
				n, _, err := p.parseNode(storeID, item)
				if err != nil {
					return nil, 0, err
				}
				sub = append(sub, n)
			}
			children = append(children, &Node{Kind: KindAnd, StoreID: storeID, Children: sub})
		case "$or":
			arr, err := asObjectArray(val, "$or")
			if err != nil {
				return nil, 0, err
			}
			var sub []*Node
			for _, item := range arr {
				n, _, err := p.parseNode(storeID, item)
				if err != nil {
					return nil, 0, err
				}
				sub = append(sub, n)
			}
			children = append(children, &Node{Kind: KindOr, StoreID: storeID, Children: sub})
		case "$not":
			sub, ok := val.(map[string]interface{})
			if !ok {
				return nil, 0, fmt.Errorf("%w: $not must be an object", ErrMalformedQuery)
			}
			n, _, err := p.parseNode(storeID, sub)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, &Node{Kind: KindNot, StoreID: storeID, Child: n})
		case "$join":
			obj, ok := val.(map[string]interface{})
			if !ok {
				return nil, 0, fmt.Errorf("%w: $join must be an object", ErrMalformedQuery)
			}
			joinSpec = obj
		case "$id":
			n, err := p.parseID(storeID, val)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, n)
		case "$name":
			n, err := p.parseName(storeID, val)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, n)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, 0, fmt.Errorf("%w: %q", ErrUnknownQueryOp, key)
			}
			n, err := p.parseLeaf(storeID, key, val)
			if err != nil {
				return nil, 0, err
			}
			children = append(children, n)
		}
	}

	var result *Node
	switch len(children) {
	case 0:
		result = &Node{Kind: KindStore, StoreID: storeID}
	case 1:
		result = children[0]
	default:
		result = &Node{Kind: KindAnd, StoreID: storeID, Children: children}
	}

	if joinSpec == nil {
		return result, storeID, nil
	}
	return p.wrapJoin(storeID, result, joinSpec)
}

func (p *parser) wrapJoin(storeID schema.StoreID, child *Node, joinSpec map[string]interface{}) (*Node, schema.StoreID, error) {
	nameVal, ok := joinSpec["name"]
	if !ok {
		return nil, 0, fmt.Errorf("%w: $join missing \"name\"", ErrMalformedQuery)
	}
	joinName, ok := nameVal.(string)
	if !ok {
		return nil, 0, fmt.Errorf("%w: $join \"name\" must be a string", ErrMalformedQuery)
	}
	sd, err := p.sch.Store(storeID)
	if err != nil {
		return nil, 0, err
	}
	jd, err := sd.JoinByName(joinName)
	if err != nil {
		return nil, 0, err
	}
	sample := 0
	if sv, ok := joinSpec["sample"]; ok {
		n, err := asInt(sv, "$join.sample")
		if err != nil {
			return nil, 0, err
		}
		sample = n
	}
	node := &Node{
		Kind:       KindJoin,
		StoreID:    jd.TargetStoreID,
		JoinName:   joinName,
		SampleSize: sample,
		Child:      child,
	}
	return node, jd.TargetStoreID, nil
}

func (p *parser) parseLeaf(storeID schema.StoreID, keyName string, raw interface{}) (*Node, error) {
	switch v := raw.(type) {
	case string:
		return p.parseEq(storeID, keyName, v)
	case []interface{}:
		var nodes []*Node
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: array constraint on %q must hold strings", ErrMalformedQuery, keyName)
			}
			n, err := p.parseEq(storeID, keyName, s)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		if len(nodes) == 1 {
			return nodes[0], nil
		}
		return &Node{Kind: KindAnd, StoreID: storeID, Children: nodes}, nil
	case map[string]interface{}:
		return p.parseLeafObject(storeID, keyName, v)
	default:
		return nil, fmt.Errorf("%w: unsupported literal for key %q", ErrMalformedQuery, keyName)
	}
}

func (p *parser) parseLeafObject(storeID schema.StoreID, keyName string, obj map[string]interface{}) (*Node, error) {
	var nodes []*Node
	for opKey, opVal := range obj {
		switch opKey {
		case "$radius", "$limit":
			continue // consumed by $location below
		case "$ne":
			s, ok := opVal.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $ne on %q must be a string", ErrMalformedQuery, keyName)
			}
			eq, err := p.parseEq(storeID, keyName, s)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Kind: KindNot, StoreID: storeID, Child: eq})
		case "$gt", "$lt":
			s, ok := opVal.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s on %q must be a string", ErrMalformedQuery, opKey, keyName)
			}
			n, err := p.parseRange(storeID, keyName, s, opKey == "$gt")
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case "$wc":
			s, ok := opVal.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $wc on %q must be a string", ErrMalformedQuery, keyName)
			}
			n, err := p.parseWildcard(storeID, keyName, s)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case "$or":
			arr, ok := opVal.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: $or on %q must be an array", ErrMalformedQuery, keyName)
			}
			var sub []*Node
			for _, item := range arr {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: $or element on %q must be a string", ErrMalformedQuery, keyName)
				}
				n, err := p.parseEq(storeID, keyName, s)
				if err != nil {
					return nil, err
				}
				sub = append(sub, n)
			}
			nodes = append(nodes, &Node{Kind: KindOr, StoreID: storeID, Children: sub})
		case "$location":
			n, err := p.parseLocation(storeID, keyName, opVal, obj)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownQueryOp, opKey)
		}
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return &Node{Kind: KindAnd, StoreID: storeID, Children: nodes}, nil
}

// parseEq resolves an Eq constraint. A text-typed key tokenizes literal
// into multiple word ids AND-joined; any other key type is a single word.
// An unknown literal produces a leaf with no word ids, which resolves to
// an empty record set at execution time rather than an error.
func (p *parser) parseEq(storeID schema.StoreID, keyName, literal string) (*Node, error) {
	keyID, err := p.voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	key, err := p.voc.Key(keyID)
	if err != nil {
		return nil, err
	}
	if key.Type == schema.KeyLocation {
		return nil, fmt.Errorf("%w: %q is a location key, use $location", ErrMalformedQuery, keyName)
	}
	if key.Type != schema.KeyText {
		return p.eqLeaf(storeID, keyID, literal)
	}
	words := key.TokenizerOrDefault()(literal)
	if len(words) == 0 {
		return &Node{Kind: KindLeaf, StoreID: storeID, KeyID: keyID, Op: OpEq}, nil
	}
	var leaves []*Node
	for _, w := range words {
		n, err := p.eqLeaf(storeID, keyID, w)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, n)
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return &Node{Kind: KindAnd, StoreID: storeID, Children: leaves}, nil
}

func (p *parser) eqLeaf(storeID schema.StoreID, keyID schema.KeyID, word string) (*Node, error) {
	wid, ok, err := p.voc.LookupExact(keyID, word)
	if err != nil {
		return nil, err
	}
	var ids []vocab.WordID
	if ok {
		ids = []vocab.WordID{wid}
	}
	return &Node{Kind: KindLeaf, StoreID: storeID, KeyID: keyID, Op: OpEq, WordIDs: ids}, nil
}

func (p *parser) parseRange(storeID schema.StoreID, keyName, pivot string, greater bool) (*Node, error) {
	keyID, err := p.voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	pivotID, ok, err := p.voc.LookupExact(keyID, pivot)
	if err != nil {
		return nil, err
	}
	if !ok {
		switch p.policy.VocabRangeOnMissing {
		case RangeOnMissingClip:
			pivotID, ok, err = p.voc.Clip(keyID, pivot)
			if err != nil {
				return nil, err
			}
			if !ok {
				op := OpLt
				if greater {
					op = OpGt
				}
				return &Node{Kind: KindLeaf, StoreID: storeID, KeyID: keyID, Op: op}, nil
			}
		default:
			return nil, fmt.Errorf("%w: pivot %q for key %q not in vocabulary", ErrUnorderedLeaf, pivot, keyName)
		}
	}
	op := OpLt
	var wordIDs []vocab.WordID
	if greater {
		op = OpGt
		wordIDs, err = p.voc.GreaterThan(keyID, pivotID)
	} else {
		wordIDs, err = p.voc.LessThan(keyID, pivotID)
	}
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindLeaf, StoreID: storeID, KeyID: keyID, Op: op, WordIDs: wordIDs}, nil
}

func (p *parser) parseWildcard(storeID schema.StoreID, keyName, pattern string) (*Node, error) {
	keyID, err := p.voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	ids, err := p.voc.LookupWildcard(keyID, pattern)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindLeaf, StoreID: storeID, KeyID: keyID, Op: OpWildcard, WordIDs: ids}, nil
}

// parseID resolves a $id literal directly to a record by RecId, with no
// store access needed at parse time (spec §4.7 grammar: "$id").
func (p *parser) parseID(storeID schema.StoreID, raw interface{}) (*Node, error) {
	f, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: $id must be a number", ErrMalformedQuery)
	}
	rec := &store.DetachedRecord{StoreID: storeID, ID: uint64(f)}
	return &Node{Kind: KindRec, StoreID: storeID, Rec: rec}, nil
}

// parseName resolves a $name literal against the store's primary-key
// index, the query-language counterpart of the embedding API's
// store.rec(name) (spec §4.7 grammar: "$name"; spec §8 scenario 1).
func (p *parser) parseName(storeID schema.StoreID, raw interface{}) (*Node, error) {
	name, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: $name must be a string", ErrMalformedQuery)
	}
	if p.lookup == nil {
		return nil, fmt.Errorf("%w: $name requires a store lookup", ErrMalformedQuery)
	}
	s, err := p.lookup.StoreByID(storeID)
	if err != nil {
		return nil, err
	}
	rec, err := s.RecByPrimaryKey(name)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindRec, StoreID: storeID, Rec: &store.DetachedRecord{StoreID: storeID, ID: rec.ID}}, nil
}

func (p *parser) parseLocation(storeID schema.StoreID, keyName string, loc interface{}, obj map[string]interface{}) (*Node, error) {
	arr, ok := loc.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("%w: $location on %q must be a 2-element array", ErrMalformedQuery, keyName)
	}
	lat, ok1 := arr[0].(float64)
	lon, ok2 := arr[1].(float64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: $location coordinates on %q must be numbers", ErrMalformedQuery, keyName)
	}
	keyID, err := p.voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: KindGeo, StoreID: storeID, GeoKeyID: keyID, Center: geoindex.Point{Lat: lat, Lon: lon}, Limit: -1}
	if rv, ok := obj["$radius"]; ok {
		r, ok := rv.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: $radius on %q must be a number", ErrMalformedQuery, keyName)
		}
		n.RadiusMeters = r
		n.HasRadius = true
	}
	if lv, ok := obj["$limit"]; ok {
		l, err := asInt(lv, "$limit")
		if err != nil {
			return nil, err
		}
		n.Limit = l
	}
	return n, nil
}

func parseSort(raw interface{}) (*SortSpec, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("%w: $sort must be a single-key object", ErrMalformedQuery)
	}
	for field, dirVal := range obj {
		dir, err := asInt(dirVal, "$sort direction")
		if err != nil {
			return nil, err
		}
		return &SortSpec{Field: field, Desc: dir < 0}, nil
	}
	return nil, fmt.Errorf("%w: empty $sort", ErrMalformedQuery)
}

func parseAggrNames(raw interface{}) ([]string, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: $aggr must be an array", ErrMalformedQuery)
	}
	var names []string
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $aggr elements must be strings", ErrMalformedQuery)
		}
		names = append(names, s)
	}
	return names, nil
}

func asObjectArray(raw interface{}, op string) ([]map[string]interface{}, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrMalformedQuery, op)
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s element must be an object", ErrMalformedQuery, op)
		}
		out = append(out, obj)
	}
	return out, nil
}

func asInt(raw interface{}, label string) (int, error) {
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrMalformedQuery, label)
	}
	return int(f), nil
}
