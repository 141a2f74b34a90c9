package vocab

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"qminer/internal/schema"
)

// WordID is a 64-bit interned-string id, stable for the life of the
// WordVoc (words are never removed -- spec §4.1 is silent on word
// deletion and the original never does it either).
type WordID uint64

// WordVoc maps interned strings to WordIDs for a single index key (or a
// family of keys that share one, per IndexVoc's many-to-one rule).
type WordVoc struct {
	mu      sync.RWMutex
	words   []string
	ids     map[string]WordID
	docFreq []int64

	sortDirty  bool
	byStrOrder []WordID // words[byStrOrder[i]] ascending lexicographically
	byFltOrder []WordID // subset of ids whose word parses as float, ascending value
	fltVal     map[WordID]float64
}

func NewWordVoc() *WordVoc {
	return &WordVoc{ids: make(map[string]WordID)}
}

// Add idempotently interns s, bumping its document-frequency counter.
func (v *WordVoc) Add(s string) WordID {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.ids[s]; ok {
		v.docFreq[id]++
		return id
	}
	id := WordID(len(v.words))
	v.words = append(v.words, s)
	v.docFreq = append(v.docFreq, 1)
	v.ids[s] = id
	v.sortDirty = true
	return id
}

// LookupExact returns the id of s without interning it.
func (v *WordVoc) LookupExact(s string) (WordID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.ids[s]
	return id, ok
}

// Word returns the string behind an id.
func (v *WordVoc) Word(id WordID) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(id) >= len(v.words) {
		return "", false
	}
	return v.words[id], true
}

// DocFreq returns how many times Add has interned/re-interned id.
func (v *WordVoc) DocFreq(id WordID) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(id) >= len(v.docFreq) {
		return 0
	}
	return v.docFreq[id]
}

// LookupWildcard matches a glob pattern ('*' any run, '?' any single rune)
// against every interned word, returning matches in ById order.
func (v *WordVoc) LookupWildcard(pattern string) ([]WordID, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []WordID
	for i, w := range v.words {
		if re.MatchString(w) {
			out = append(out, WordID(i))
		}
	}
	return out, nil
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func (v *WordVoc) rebuildSortedLocked() {
	if !v.sortDirty {
		return
	}
	n := len(v.words)
	v.byStrOrder = make([]WordID, n)
	for i := range v.byStrOrder {
		v.byStrOrder[i] = WordID(i)
	}
	sort.Slice(v.byStrOrder, func(i, j int) bool {
		return v.words[v.byStrOrder[i]] < v.words[v.byStrOrder[j]]
	})

	v.fltVal = make(map[WordID]float64)
	v.byFltOrder = v.byFltOrder[:0]
	for i, w := range v.words {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			id := WordID(i)
			v.fltVal[id] = f
			v.byFltOrder = append(v.byFltOrder, id)
		}
	}
	sort.Slice(v.byFltOrder, func(i, j int) bool {
		return v.fltVal[v.byFltOrder[i]] < v.fltVal[v.byFltOrder[j]]
	})
	v.sortDirty = false
}

// GreaterThan returns all word ids ordered strictly greater than id under
// the given sort type, in ascending order under that same ordering.
func (v *WordVoc) GreaterThan(id WordID, order schema.SortType) ([]WordID, error) {
	return v.relative(id, order, true)
}

// LessThan is the symmetric counterpart of GreaterThan.
func (v *WordVoc) LessThan(id WordID, order schema.SortType) ([]WordID, error) {
	return v.relative(id, order, false)
}

func (v *WordVoc) relative(id WordID, order schema.SortType, greater bool) ([]WordID, error) {
	v.mu.Lock()
	v.rebuildSortedLocked()
	defer v.mu.Unlock()

	if int(id) >= len(v.words) {
		return nil, fmt.Errorf("%w: word id %d", ErrWordNotFound, id)
	}

	switch order {
	case schema.SortByID:
		var out []WordID
		if greater {
			for i := int(id) + 1; i < len(v.words); i++ {
				out = append(out, WordID(i))
			}
		} else {
			for i := int(id) - 1; i >= 0; i-- {
				out = append(out, WordID(i))
			}
		}
		return out, nil
	case schema.SortByStr:
		pos := sort.Search(len(v.byStrOrder), func(i int) bool {
			return v.words[v.byStrOrder[i]] >= v.words[id]
		})
		// advance past all entries equal to the pivot word
		for pos < len(v.byStrOrder) && v.words[v.byStrOrder[pos]] == v.words[id] {
			pos++
		}
		if greater {
			return append([]WordID(nil), v.byStrOrder[pos:]...), nil
		}
		// pos now points just past the last equal entry; back up to before
		// the first equal entry for the "less than" boundary.
		lt := sort.Search(len(v.byStrOrder), func(i int) bool {
			return v.words[v.byStrOrder[i]] >= v.words[id]
		})
		return append([]WordID(nil), v.byStrOrder[:lt]...), nil
	case schema.SortByFlt:
		val, ok := v.fltVal[id]
		if !ok {
			return nil, fmt.Errorf("%w: word id %d is not numeric", ErrWordNotFound, id)
		}
		if greater {
			pos := sort.Search(len(v.byFltOrder), func(i int) bool {
				return v.fltVal[v.byFltOrder[i]] > val
			})
			return append([]WordID(nil), v.byFltOrder[pos:]...), nil
		}
		pos := sort.Search(len(v.byFltOrder), func(i int) bool {
			return v.fltVal[v.byFltOrder[i]] >= val
		})
		return append([]WordID(nil), v.byFltOrder[:pos]...), nil
	default:
		return nil, fmt.Errorf("%w: sort type %v", ErrInvalidSortType, order)
	}
}

// Clip picks an interned word for literal under order, for range queries
// whose pivot was never interned (the "clip" VocabRangeOnMissing policy).
// Under SortByFlt it is the numerically nearest word, a tie going to the
// smaller value; under SortByStr it is the first word ordered at or after
// literal, or the last word if literal sorts after all of them. Returns
// false if there is no candidate word.
func (v *WordVoc) Clip(literal string, order schema.SortType) (WordID, bool, error) {
	v.mu.Lock()
	v.rebuildSortedLocked()
	defer v.mu.Unlock()

	switch order {
	case schema.SortByStr:
		if len(v.byStrOrder) == 0 {
			return 0, false, nil
		}
		pos := sort.Search(len(v.byStrOrder), func(i int) bool {
			return v.words[v.byStrOrder[i]] >= literal
		})
		if pos == len(v.byStrOrder) {
			return v.byStrOrder[pos-1], true, nil
		}
		if pos == 0 {
			return v.byStrOrder[0], true, nil
		}
		if v.words[v.byStrOrder[pos]] == literal {
			return v.byStrOrder[pos], true, nil
		}
		return v.byStrOrder[pos], true, nil
	case schema.SortByFlt:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %q is not numeric", ErrInvalidSortType, literal)
		}
		if len(v.byFltOrder) == 0 {
			return 0, false, nil
		}
		pos := sort.Search(len(v.byFltOrder), func(i int) bool {
			return v.fltVal[v.byFltOrder[i]] >= f
		})
		if pos == len(v.byFltOrder) {
			return v.byFltOrder[pos-1], true, nil
		}
		if pos == 0 {
			return v.byFltOrder[0], true, nil
		}
		before, after := v.byFltOrder[pos-1], v.byFltOrder[pos]
		if f-v.fltVal[before] <= v.fltVal[after]-f {
			return before, true, nil
		}
		return after, true, nil
	default:
		return 0, false, fmt.Errorf("%w: clip unsupported for sort type %v", ErrInvalidSortType, order)
	}
}

// Len reports how many distinct words are interned.
func (v *WordVoc) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.words)
}
