package gix

// Merger implements the sorted posting-list algebra the executor
// composes query leaves with, and that the index itself uses to fold a
// single-posting delta into a stored list. All three operations are a
// single linear pass over both inputs (spec invariant: posting-list
// merges never resort).
type Merger struct{}

// Union combines a and b; a record present in both gets freq a+b.
func (Merger) Union(a, b PostingList) PostingList {
	out := make(PostingList, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].RecID < b[j].RecID:
			out = append(out, a[i])
			i++
		case a[i].RecID > b[j].RecID:
			out = append(out, b[j])
			j++
		default:
			out = append(out, Posting{RecID: a[i].RecID, Freq: a[i].Freq + b[j].Freq})
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Intersect keeps only records present in both a and b, freq a+b.
func (Merger) Intersect(a, b PostingList) PostingList {
	out := make(PostingList, 0, minInt(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].RecID < b[j].RecID:
			i++
		case a[i].RecID > b[j].RecID:
			j++
		default:
			out = append(out, Posting{RecID: a[i].RecID, Freq: a[i].Freq + b[j].Freq})
			i++
			j++
		}
	}
	return out
}

// Minus keeps the entries of a whose RecID does not occur in b.
func (Merger) Minus(a, b PostingList) PostingList {
	out := make(PostingList, 0, len(a))
	j := 0
	for i := 0; i < len(a); i++ {
		for j < len(b) && b[j].RecID < a[i].RecID {
			j++
		}
		if j < len(b) && b[j].RecID == a[i].RecID {
			continue
		}
		out = append(out, a[i])
	}
	return out
}

// clamp01 caps every freq at 1 (and floors negatives at 0), the
// per-operand preparation for the remove-duplicates merge variant.
func clamp01(p PostingList) PostingList {
	out := make(PostingList, len(p))
	for i, e := range p {
		f := int64(0)
		if e.Freq > 0 {
			f = 1
		}
		out[i] = Posting{RecID: e.RecID, Freq: f}
	}
	return out
}

// UnionDedup is the remove-duplicates variant of Union: each operand's
// freqs are clamped to {0,1} before combining, so the result counts in
// how many operands a record occurs instead of accumulating weights.
func (m Merger) UnionDedup(a, b PostingList) PostingList {
	return m.Union(clamp01(a), clamp01(b))
}

// IntersectDedup is the remove-duplicates variant of Intersect; every
// surviving record has freq 2 (one per operand).
func (m Merger) IntersectDedup(a, b PostingList) PostingList {
	return m.Intersect(clamp01(a), clamp01(b))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
