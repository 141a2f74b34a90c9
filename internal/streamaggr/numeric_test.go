package streamaggr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"qminer/internal/store"
)

func TestNumericAddUpdateDelete(t *testing.T) {
	s := newEventsStore(t)
	n := NewNumeric("amountStats", "amount")

	id1, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(10)})
	require.NoError(t, err)
	require.NoError(t, n.OnAddRec(s.Rec(id1)))

	id2, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(20)})
	require.NoError(t, err)
	require.NoError(t, n.OnAddRec(s.Rec(id2)))

	require.True(t, n.IsInit())
	require.Equal(t, int64(2), n.IntOutputs()["count"])
	require.Equal(t, 30.0, n.FloatOutputs()["sum"])
	require.Equal(t, 15.0, n.FloatOutputs()["avg"])
	require.Equal(t, 10.0, n.FloatOutputs()["min"])
	require.Equal(t, 20.0, n.FloatOutputs()["max"])

	require.NoError(t, s.SetField(id1, "amount", store.FltValue(100)))
	require.NoError(t, n.OnUpdateRec(s.Rec(id1)))
	require.Equal(t, 120.0, n.FloatOutputs()["sum"])
	require.Equal(t, int64(2), n.IntOutputs()["count"])

	require.NoError(t, s.DelRec(id2))
	require.NoError(t, n.OnDeleteRec(s.Desc().ID, id2))
	require.Equal(t, 100.0, n.FloatOutputs()["sum"])
	require.Equal(t, int64(1), n.IntOutputs()["count"])
}

func TestNumericDeleteUnknownRecordIsNoop(t *testing.T) {
	n := NewNumeric("amountStats", "amount")
	require.NoError(t, n.OnDeleteRec(0, 999))
	require.False(t, n.IsInit())
}

func TestNumericSaveLoadRoundTrip(t *testing.T) {
	s := newEventsStore(t)
	n := NewNumeric("amountStats", "amount")
	id1, err := s.AddRec(map[string]store.FieldValue{"amount": store.FltValue(5)})
	require.NoError(t, err)
	require.NoError(t, n.OnAddRec(s.Rec(id1)))

	var buf bytes.Buffer
	require.NoError(t, n.SaveState(&buf))

	loaded := NewNumeric("amountStats", "amount")
	require.NoError(t, loaded.LoadState(&buf))
	require.Equal(t, n.FloatOutputs(), loaded.FloatOutputs())
	require.Equal(t, n.IntOutputs(), loaded.IntOutputs())

	require.NoError(t, s.DelRec(id1))
	require.NoError(t, loaded.OnDeleteRec(s.Desc().ID, id1))
	require.Equal(t, int64(0), loaded.IntOutputs()["count"])
}
