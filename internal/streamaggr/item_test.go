package streamaggr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qminer/internal/store"
)

func TestItemCountsAndUpdates(t *testing.T) {
	s := newEventsStore(t)
	it := NewItem("categoryCounts", "category")

	id1, err := s.AddRec(map[string]store.FieldValue{"category": store.StrValue("a")})
	require.NoError(t, err)
	require.NoError(t, it.OnAddRec(s.Rec(id1)))
	id2, err := s.AddRec(map[string]store.FieldValue{"category": store.StrValue("a")})
	require.NoError(t, err)
	require.NoError(t, it.OnAddRec(s.Rec(id2)))
	id3, err := s.AddRec(map[string]store.FieldValue{"category": store.StrValue("b")})
	require.NoError(t, err)
	require.NoError(t, it.OnAddRec(s.Rec(id3)))

	require.Equal(t, int64(2), it.IntOutputs()["a"])
	require.Equal(t, int64(1), it.IntOutputs()["b"])
	require.Equal(t, []string{"a", "b"}, it.Top(2))

	require.NoError(t, s.SetField(id1, "category", store.StrValue("b")))
	require.NoError(t, it.OnUpdateRec(s.Rec(id1)))
	require.Equal(t, int64(1), it.IntOutputs()["a"])
	require.Equal(t, int64(2), it.IntOutputs()["b"])

	require.NoError(t, s.DelRec(id3))
	require.NoError(t, it.OnDeleteRec(s.Desc().ID, id3))
	require.Equal(t, int64(1), it.IntOutputs()["b"])
	_, hasA := it.IntOutputs()["a"]
	require.True(t, hasA)
}
