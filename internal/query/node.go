// Package query holds the query AST node types and the JSON-surface
// parser that turns a wire-format query object into that AST (spec
// §4.7). The executor in internal/exec walks the tree this package
// builds; nothing in here touches live records.
package query

import (
	"qminer/internal/geoindex"
	"qminer/internal/schema"
	"qminer/internal/store"
	"qminer/internal/vocab"
)

// Kind discriminates a Node's variant (spec §4.7's tagged-union AST).
type Kind int

const (
	KindLeaf Kind = iota
	KindGeo
	KindAnd
	KindOr
	KindNot
	KindRec
	KindRecSet
	KindStore
	KindJoin
)

// Op is a LeafGix comparison operator. Eq/Wildcard leaves carry an
// already-resolved WordIDs list ($ne parses to a Not over an Eq leaf);
// Gt/Lt leaves carry the union of every
// word strictly on the requested side of the pivot (resolved at parse
// time against the vocabulary's declared sort order).
type Op int

const (
	OpEq Op = iota
	OpGt
	OpLt
	OpWildcard
)

// Node is one AST node. Only the fields relevant to Kind are populated;
// this mirrors the teacher's tagged-union style of "each variant carries
// exactly the fields it uses" rather than one god-struct with every
// field meaningful for every kind (spec §9 "Query AST polymorphism").
type Node struct {
	Kind    Kind
	StoreID schema.StoreID

	// KindLeaf
	KeyID   schema.KeyID
	Op      Op
	WordIDs []vocab.WordID

	// KindGeo
	GeoKeyID     schema.KeyID
	Center       geoindex.Point
	RadiusMeters float64
	HasRadius    bool
	Limit        int // -1 means "all within radius"

	// KindAnd / KindOr
	Children []*Node

	// KindNot and KindJoin both wrap a single child.
	Child *Node

	// KindRec
	Rec *store.DetachedRecord

	// KindRecSet
	RecSet *store.RecordSet

	// KindJoin
	JoinName   string
	SampleSize int
}

// SortSpec is the $sort postprocessing directive.
type SortSpec struct {
	Field string
	Desc  bool
}

// Query is a fully parsed request: the AST root plus the postprocessing
// directives that apply after the executor resolves it.
type Query struct {
	Root    *Node
	StoreID schema.StoreID // the store the final record set lives in

	Sort   *SortSpec
	Limit  int // -1 means unset
	Offset int

	AggrNames []string
}
