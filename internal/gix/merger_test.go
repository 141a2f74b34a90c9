package gix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnionCombinesFreq(t *testing.T) {
	a := PostingList{{RecID: 1, Freq: 2}, {RecID: 3, Freq: 1}}
	b := PostingList{{RecID: 2, Freq: 5}, {RecID: 3, Freq: 4}}
	got := (Merger{}).Union(a, b)
	require.Equal(t, PostingList{
		{RecID: 1, Freq: 2},
		{RecID: 2, Freq: 5},
		{RecID: 3, Freq: 5},
	}, got)
}

func TestIntersectKeepsOnlyShared(t *testing.T) {
	a := PostingList{{RecID: 1, Freq: 2}, {RecID: 2, Freq: 3}}
	b := PostingList{{RecID: 2, Freq: 5}, {RecID: 4, Freq: 1}}
	got := (Merger{}).Intersect(a, b)
	require.Equal(t, PostingList{{RecID: 2, Freq: 8}}, got)
}

func TestMinusRemovesSharedRecords(t *testing.T) {
	a := PostingList{{RecID: 1, Freq: 1}, {RecID: 2, Freq: 1}, {RecID: 3, Freq: 1}}
	b := PostingList{{RecID: 2, Freq: 9}}
	got := (Merger{}).Minus(a, b)
	require.Equal(t, PostingList{{RecID: 1, Freq: 1}, {RecID: 3, Freq: 1}}, got)
}

func TestNormalizeDropsTombstonesAndNegatives(t *testing.T) {
	p := PostingList{{RecID: 1, Freq: 1}, {RecID: 2, Freq: 0}, {RecID: 3, Freq: -2}}
	out, negatives := p.Normalize()
	require.Equal(t, PostingList{{RecID: 1, Freq: 1}}, out)
	require.Equal(t, 1, negatives)
}

func TestUnionEmptyOperands(t *testing.T) {
	require.Empty(t, (Merger{}).Union(nil, nil))
	a := PostingList{{RecID: 1, Freq: 1}}
	require.Equal(t, a, (Merger{}).Union(a, nil))
	require.Equal(t, a, (Merger{}).Union(nil, a))
}

func TestNormalizeSortsAndFoldsDuplicates(t *testing.T) {
	p := PostingList{
		{RecID: 3, Freq: 2},
		{RecID: 1, Freq: 1},
		{RecID: 3, Freq: -2},
		{RecID: 1, Freq: 4},
	}
	out, negatives := p.Normalize()
	require.Equal(t, PostingList{{RecID: 1, Freq: 5}}, out)
	require.Equal(t, 0, negatives)
}

func TestUnionDedupClampsOperandFreqs(t *testing.T) {
	a := PostingList{{RecID: 1, Freq: 7}, {RecID: 2, Freq: 3}}
	b := PostingList{{RecID: 2, Freq: 9}}
	got := (Merger{}).UnionDedup(a, b)
	require.Equal(t, PostingList{
		{RecID: 1, Freq: 1},
		{RecID: 2, Freq: 2},
	}, got)
}

func TestIntersectDedup(t *testing.T) {
	a := PostingList{{RecID: 1, Freq: 7}, {RecID: 2, Freq: 3}}
	b := PostingList{{RecID: 2, Freq: 9}, {RecID: 3, Freq: 1}}
	got := (Merger{}).IntersectDedup(a, b)
	require.Equal(t, PostingList{{RecID: 2, Freq: 2}}, got)
}
