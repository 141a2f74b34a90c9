package ops

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"qminer/internal/geoindex"
	"qminer/internal/gix"
	"qminer/internal/index"
	"qminer/internal/schema"
	"qminer/internal/store"
	"qminer/internal/vocab"
)

type lookup struct{ s *store.Store }

func (l *lookup) StoreByID(id schema.StoreID) (*store.Store, error) { return l.s, nil }

func newFixture(t *testing.T) *store.Store {
	t.Helper()
	sch := schema.New()
	desc, err := sch.AddStore("events")
	require.NoError(t, err)
	_, err = desc.AddField("group", schema.FieldInt, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)
	_, err = desc.AddField("amount", schema.FieldFlt, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)
	_, err = desc.AddField("name", schema.FieldStr, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)
	_, err = desc.AddField("ts", schema.FieldTimestamp, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)

	voc := vocab.NewIndexVoc()
	dir := t.TempDir()
	g, err := gix.Open(filepath.Join(dir, "gix.db"), gix.ModeCreate, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	geo, err := geoindex.Open(filepath.Join(dir, "geo.db"), false, geoindex.DefaultPrecision)
	require.NoError(t, err)
	t.Cleanup(func() { geo.Close() })
	idx := index.New(sch, voc, g, geo)
	db, err := sql.Open("sqlite3", filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.Open(desc, sch, idx, db, false)
	require.NoError(t, err)
	s.SetLookup(&lookup{s: s})
	return s
}

func TestLinSearchEqAndGt(t *testing.T) {
	s := newFixture(t)
	id1, err := s.AddRec(map[string]store.FieldValue{"name": store.StrValue("alice"), "amount": store.FltValue(10)})
	require.NoError(t, err)
	id2, err := s.AddRec(map[string]store.FieldValue{"name": store.StrValue("bob"), "amount": store.FltValue(20)})
	require.NoError(t, err)
	ids, err := s.GetAllRecIDs()
	require.NoError(t, err)
	rs := store.NewRecordSet(s, ids)

	eqOp := LinSearch{FieldName: "name", Op: OpEq, Literal: "alice"}
	got, err := eqOp.Apply(rs)
	require.NoError(t, err)
	require.Equal(t, []uint64{id1}, got.IDs())

	gtOp := LinSearch{FieldName: "amount", Op: OpGt, Literal: "15"}
	got, err = gtOp.Apply(rs)
	require.NoError(t, err)
	require.Equal(t, []uint64{id2}, got.IDs())
}

func TestLinSearchInAndNotIn(t *testing.T) {
	s := newFixture(t)
	id1, err := s.AddRec(map[string]store.FieldValue{"name": store.StrValue("alice"), "amount": store.FltValue(1)})
	require.NoError(t, err)
	id2, err := s.AddRec(map[string]store.FieldValue{"name": store.StrValue("bob"), "amount": store.FltValue(2)})
	require.NoError(t, err)
	ids, err := s.GetAllRecIDs()
	require.NoError(t, err)
	rs := store.NewRecordSet(s, ids)

	inOp := LinSearch{FieldName: "name", Op: OpIn, Values: []string{"alice", "carol"}}
	got, err := inOp.Apply(rs)
	require.NoError(t, err)
	require.Equal(t, []uint64{id1}, got.IDs())

	notInOp := LinSearch{FieldName: "name", Op: OpNotIn, Values: []string{"alice"}}
	got, err = notInOp.Apply(rs)
	require.NoError(t, err)
	require.Equal(t, []uint64{id2}, got.IDs())
}

func TestGroupByPreservesFirstSeenOrder(t *testing.T) {
	s := newFixture(t)
	idA, err := s.AddRec(map[string]store.FieldValue{"group": store.IntValue(2)})
	require.NoError(t, err)
	idB, err := s.AddRec(map[string]store.FieldValue{"group": store.IntValue(1)})
	require.NoError(t, err)
	idC, err := s.AddRec(map[string]store.FieldValue{"group": store.IntValue(2)})
	require.NoError(t, err)
	ids, err := s.GetAllRecIDs()
	require.NoError(t, err)
	rs := store.NewRecordSet(s, ids)

	groups, err := GroupBy(rs, "group")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, []uint64{idA, idC}, groups[0].IDs())
	require.Equal(t, []uint64{idB}, groups[1].IDs())
}

func TestSplitByBreaksOnLargeGap(t *testing.T) {
	s := newFixture(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id1, err := s.AddRec(map[string]store.FieldValue{"ts": store.TimestampValue(base)})
	require.NoError(t, err)
	id2, err := s.AddRec(map[string]store.FieldValue{"ts": store.TimestampValue(base.Add(1 * time.Second))})
	require.NoError(t, err)
	id3, err := s.AddRec(map[string]store.FieldValue{"ts": store.TimestampValue(base.Add(10 * time.Second))})
	require.NoError(t, err)
	rs := store.NewRecordSet(s, []uint64{id1, id2, id3})

	runs, err := SplitBy(rs, "ts", 2000)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, []uint64{id1, id2}, runs[0].IDs())
	require.Equal(t, []uint64{id3}, runs[1].IDs())
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(GroupByOp{FieldName: "group"}))
	op, err := reg.Get("GroupBy")
	require.NoError(t, err)
	require.Equal(t, "GroupBy", op.Name())

	_, err = reg.Get("nope")
	require.ErrorIs(t, err, ErrUnknownOperator)

	err = reg.Register(GroupByOp{FieldName: "group"})
	require.ErrorIs(t, err, ErrDuplicateOperator)
}
