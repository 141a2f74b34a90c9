// Package diag renders a parsed query's AST, annotated with posting-list
// sizes gathered during execution, as a set of read-only Mangle facts
// for offline inspection with the standalone mangle CLI. It never
// influences query execution itself -- see DESIGN.md for why the
// executor is a single-pass posting-list merge rather than a Datalog
// evaluator.
package diag

import (
	"fmt"
	"strings"

	"github.com/google/mangle/ast"

	"qminer/internal/query"
)

// Plan is a flattened, numbered view of a query.Node tree: one fact per
// node describing its kind and relationships, plus optional posting-list
// size annotations recorded by the caller after execution.
type Plan struct {
	facts []ast.Atom
}

// Facts returns every fact in the plan, in the order they were emitted.
func (p *Plan) Facts() []ast.Atom { return append([]ast.Atom(nil), p.facts...) }

// String renders the plan as newline-separated Mangle fact syntax
// (`predicate(arg1,arg2,...).`), suitable for piping into the mangle CLI
// or saving alongside a slow-query log entry.
func (p *Plan) String() string {
	var b strings.Builder
	for _, f := range p.facts {
		fmt.Fprintf(&b, "%v.\n", f)
	}
	return b.String()
}

// Explain walks root and returns a Plan describing every node's shape:
// its kind, its store, and (for composite nodes) its children's node
// ids. Node ids are assigned in a pre-order walk, stable run to run for
// the same tree shape.
func Explain(root *query.Node) *Plan {
	p := &Plan{}
	e := &explainer{plan: p, next: 0}
	e.walk(root)
	return p
}

type explainer struct {
	plan *Plan
	next int
}

func (e *explainer) walk(n *query.Node) int {
	if n == nil {
		return -1
	}
	id := e.next
	e.next++

	e.plan.facts = append(e.plan.facts, ast.NewAtom("node_kind",
		ast.Number(int64(id)), ast.String(kindName(n.Kind)), ast.Number(int64(n.StoreID))))

	switch n.Kind {
	case query.KindLeaf:
		e.plan.facts = append(e.plan.facts, ast.NewAtom("leaf_key",
			ast.Number(int64(id)), ast.Number(int64(n.KeyID)), ast.Number(int64(len(n.WordIDs)))))
	case query.KindGeo:
		e.plan.facts = append(e.plan.facts, ast.NewAtom("geo_node",
			ast.Number(int64(id)), ast.Number(int64(n.Limit)), ast.String(fmt.Sprintf("%t", n.HasRadius))))
	case query.KindAnd, query.KindOr:
		for _, child := range n.Children {
			cid := e.walk(child)
			e.plan.facts = append(e.plan.facts, ast.NewAtom("child_of", ast.Number(int64(cid)), ast.Number(int64(id))))
		}
	case query.KindNot, query.KindJoin:
		cid := e.walk(n.Child)
		e.plan.facts = append(e.plan.facts, ast.NewAtom("child_of", ast.Number(int64(cid)), ast.Number(int64(id))))
		if n.Kind == query.KindJoin {
			e.plan.facts = append(e.plan.facts, ast.NewAtom("join_name", ast.Number(int64(id)), ast.String(n.JoinName)))
		}
	}
	return id
}

// AnnotatePostingSize records the number of ids a leaf or geo node's
// posting list actually resolved to, once the executor has run it --
// the plan on its own only knows the AST shape, not live cardinalities.
func (p *Plan) AnnotatePostingSize(nodeID int, size int) {
	p.facts = append(p.facts, ast.NewAtom("posting_size", ast.Number(int64(nodeID)), ast.Number(int64(size))))
}

func kindName(k query.Kind) string {
	switch k {
	case query.KindLeaf:
		return "leaf"
	case query.KindGeo:
		return "geo"
	case query.KindAnd:
		return "and"
	case query.KindOr:
		return "or"
	case query.KindNot:
		return "not"
	case query.KindRec:
		return "rec"
	case query.KindRecSet:
		return "recset"
	case query.KindStore:
		return "store"
	case query.KindJoin:
		return "join"
	default:
		return "unknown"
	}
}
