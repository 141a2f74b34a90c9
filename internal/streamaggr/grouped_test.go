package streamaggr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qminer/internal/store"
)

func TestGroupedSplitsByKey(t *testing.T) {
	s := newEventsStore(t)
	g := NewGrouped("amountByCategory", "amount", "category")

	idA1, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(10), "category": store.StrValue("a")})
	require.NoError(t, err)
	require.NoError(t, g.OnAddRec(s.Rec(idA1)))

	idA2, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(20), "category": store.StrValue("a")})
	require.NoError(t, err)
	require.NoError(t, g.OnAddRec(s.Rec(idA2)))

	idB1, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(5), "category": store.StrValue("b")})
	require.NoError(t, err)
	require.NoError(t, g.OnAddRec(s.Rec(idB1)))

	require.Equal(t, 30.0, g.FloatOutputs()["a.sum"])
	require.Equal(t, 5.0, g.FloatOutputs()["b.sum"])
	require.Equal(t, int64(2), g.IntOutputs()["a.count"])

	require.NoError(t, s.SetField(idB1, "category", store.StrValue("a")))
	require.NoError(t, s.SetField(idB1, "amount", store.FltValue(5)))
	require.NoError(t, g.OnUpdateRec(s.Rec(idB1)))
	require.Equal(t, 35.0, g.FloatOutputs()["a.sum"])
	_, stillHasB := g.FloatOutputs()["b.sum"]
	require.True(t, stillHasB)
	require.Equal(t, 0.0, g.FloatOutputs()["b.sum"])

	require.NoError(t, s.DelRec(idA1))
	require.NoError(t, g.OnDeleteRec(s.Desc().ID, idA1))
	require.Equal(t, 25.0, g.FloatOutputs()["a.sum"])
}
