package streamaggr

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"qminer/internal/geoindex"
	"qminer/internal/gix"
	"qminer/internal/index"
	"qminer/internal/schema"
	"qminer/internal/store"
	"qminer/internal/vocab"
)

type lookup struct {
	s *store.Store
}

func (l *lookup) StoreByID(id schema.StoreID) (*store.Store, error) { return l.s, nil }

// newEventsStore builds a single "events" store with a numeric "amount"
// field, a string "category" field and a "ts" timestamp field, with no
// secondary indexes -- stream aggregates read fields directly off
// records, never through the index.
func newEventsStore(t *testing.T) *store.Store {
	t.Helper()
	sch := schema.New()
	desc, err := sch.AddStore("events")
	require.NoError(t, err)
	_, err = desc.AddField("amount", schema.FieldFlt, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)
	_, err = desc.AddField("category", schema.FieldStr, schema.FieldFlags{Nullable: true})
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
