package gix

import "sort"

// Posting pairs a record id with a frequency/weight for one word in one
// index key's vocabulary.
type Posting struct {
	RecID uint64
	Freq  int64
}

// PostingList is kept sorted ascending by RecID; every merge operation in
// this package both consumes and produces lists in that order.
type PostingList []Posting

func (p PostingList) Len() int           { return len(p) }
func (p PostingList) Less(i, j int) bool { return p[i].RecID < p[j].RecID }
func (p PostingList) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// Clone returns an independent copy, since posting lists are shared
// through the cache and must never be mutated in place by callers.
func (p PostingList) Clone() PostingList {
	out := make(PostingList, len(p))
	copy(out, p)
	return out
}

// Normalize sorts the list by RecID if needed, folds duplicate RecIDs by
// summing their freqs, and drops entries whose folded Freq<=0. Freq==0 is
// an ordinary tombstone (the word's last occurrence in that record was
// removed); a negative folded Freq means some caller issued more
// decrements than increments, which is a bookkeeping bug rather than a
// legitimate tombstone -- Normalize still drops it but reports the count
// so callers can warn.
func (p PostingList) Normalize() (PostingList, int) {
	work := p
	if !sort.IsSorted(work) {
		work = p.Clone()
		sort.Sort(work)
	}
	out := make(PostingList, 0, len(work))
	negatives := 0
	for i := 0; i < len(work); {
		rec := work[i].RecID
		var freq int64
		for ; i < len(work) && work[i].RecID == rec; i++ {
			freq += work[i].Freq
		}
		switch {
		case freq < 0:
			negatives++
		case freq == 0:
			// tombstone, drop silently
		default:
			out = append(out, Posting{RecID: rec, Freq: freq})
		}
	}
	return out, negatives
}

// Contains reports whether recID appears, via binary search (p must be
// sorted).
func (p PostingList) Contains(recID uint64) bool {
	lo, hi := 0, len(p)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case p[mid].RecID == recID:
			return true
		case p[mid].RecID < recID:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// RecIDs extracts just the record ids, in order.
func (p PostingList) RecIDs() []uint64 {
	out := make([]uint64, len(p))
	for i, e := range p {
		out[i] = e.RecID
	}
	return out
}

// sizeBytes estimates the cache footprint of a posting list: two 8-byte
// fields per entry plus a fixed per-list slice overhead.
func (p PostingList) sizeBytes() int64 {
	return int64(len(p))*16 + 48
}
