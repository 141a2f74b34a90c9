package store

import (
	"database/sql"
	"math/rand"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"qminer/internal/geoindex"
	"qminer/internal/gix"
	"qminer/internal/index"
	"qminer/internal/schema"
	"qminer/internal/vocab"
)

type lookup struct {
	stores map[schema.StoreID]*Store
}

func (l *lookup) StoreByID(id schema.StoreID) (*Store, error) {
	s, ok := l.stores[id]
	if !ok {
		return nil, schema.ErrUnknownStore
	}
	return s, nil
}

func newIndexVoc(t *testing.T, sch *schema.Schema) *vocab.IndexVoc {
	t.Helper()
	v := vocab.NewIndexVoc()
	for _, sd := range sch.Stores() {
		for _, k := range sd.Keys() {
			require.NoError(t, v.RegisterKey(k, nil))
		}
	}
	return v
}

// openPair builds a "people"/"companies" schema with a field-join
// ("employer": people->companies) and its inverse index-join
// ("employees": companies->people), plus the SQLite-backed index and
// record stores behind them.
func openPair(t *testing.T) (people, companies *Store, peopleID, companiesID schema.StoreID) {
	t.Helper()
	sch := schema.New()
	peopleDesc, err := sch.AddStore("people")
	require.NoError(t, err)
	nameFieldID, err := peopleDesc.AddField("name", schema.FieldStr, schema.FieldFlags{})
	require.NoError(t, err)
	_, err = sch.AddIndexKey(peopleDesc.ID, "Name", schema.KeyValue, schema.SortByStr, []schema.FieldID{nameFieldID}, nil)
	require.NoError(t, err)

	companiesDesc, err := sch.AddStore("companies")
	require.NoError(t, err)
	_, err = companiesDesc.AddField("title", schema.FieldStr, schema.FieldFlags{})
	require.NoError(t, err)

	employerJoinID, err := sch.AddFieldJoin(peopleDesc.ID, "employer", companiesDesc.ID)
	require.NoError(t, err)
	employeesJoinID, err := sch.AddIndexJoin(companiesDesc.ID, "employees", peopleDesc.ID)
	require.NoError(t, err)
	require.NoError(t, sch.LinkInverse(peopleDesc.ID, employerJoinID, companiesDesc.ID, employeesJoinID))

	voc := newIndexVoc(t, sch)

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

	peopleStore, err := Open(peopleDesc, sch, idx, db, false)
	require.NoError(t, err)
	companiesStore, err := Open(companiesDesc, sch, idx, db, false)
	require.NoError(t, err)

	lu := &lookup{stores: map[schema.StoreID]*Store{
		peopleDesc.ID:    peopleStore,
		companiesDesc.ID: companiesStore,
	}}
	peopleStore.SetLookup(lu)
	companiesStore.SetLookup(lu)

	return peopleStore, companiesStore, peopleDesc.ID, companiesDesc.ID
}

func TestAddRecAndGetField(t *testing.T) {
	people, _, _, _ := openPair(t)
	id, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)

	v, err := people.GetField(id, "name")
	require.NoError(t, err)
	s, err := v.AsStr()
	require.NoError(t, err)
	require.Equal(t, "alice", s)
}

func TestSetFieldReindexesOldAndNewWord(t *testing.T) {
	people, _, storeID, _ := openPair(t)
	id, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)

	list, err := people.index.LookupExact(storeID, "Name", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, list)

	require.NoError(t, people.SetField(id, "name", StrValue("bob")))

	list, err = people.index.LookupExact(storeID, "Name", "alice")
	require.NoError(t, err)
	require.Empty(t, list)

	list, err = people.index.LookupExact(storeID, "Name", "bob")
	require.NoError(t, err)
	require.NotEmpty(t, list)
}

func TestDelRecRemovesFromIndex(t *testing.T) {
	people, _, storeID, _ := openPair(t)
	id, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)
	require.NoError(t, people.DelRec(id))

	list, err := people.index.LookupExact(storeID, "Name", "alice")
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = people.GetField(id, "name")
	require.ErrorIs(t, err, ErrDeletedRecord)
}

func TestFieldJoinMirrorsIntoInverseIndexJoin(t *testing.T) {
	people, companies, _, _ := openPair(t)
	pid, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)
	cid, err := companies.AddRec(map[string]FieldValue{"title": StrValue("acme")})
	require.NoError(t, err)

	require.NoError(t, people.AddJoin("employer", pid, cid, 1))

	rs, err := people.Rec(pid).Join("employer")
	require.NoError(t, err)
	require.Equal(t, []uint64{cid}, rs.IDs())

	rs, err = companies.Rec(cid).Join("employees")
	require.NoError(t, err)
	require.Equal(t, []uint64{pid}, rs.IDs())
}

func TestIndexJoinMirrorsIntoInverseFieldJoin(t *testing.T) {
	people, companies, _, _ := openPair(t)
	pid, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)
	cid, err := companies.AddRec(map[string]FieldValue{"title": StrValue("acme")})
	require.NoError(t, err)

	require.NoError(t, companies.AddJoin("employees", cid, pid, 1))

	rs, err := companies.Rec(cid).Join("employees")
	require.NoError(t, err)
	require.Equal(t, []uint64{pid}, rs.IDs())

	rs, err = people.Rec(pid).Join("employer")
	require.NoError(t, err)
	require.Equal(t, []uint64{cid}, rs.IDs())
}

func TestDelJoinRemovesFieldJoinAndItsIndexJoinMirror(t *testing.T) {
	people, companies, _, _ := openPair(t)
	pid, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)
	cid, err := companies.AddRec(map[string]FieldValue{"title": StrValue("acme")})
	require.NoError(t, err)

	require.NoError(t, people.AddJoin("employer", pid, cid, 1))
	require.NoError(t, people.DelJoin("employer", pid, cid))

	rs, err := people.Rec(pid).Join("employer")
	require.NoError(t, err)
	require.Zero(t, rs.Len())

	rs, err = companies.Rec(cid).Join("employees")
	require.NoError(t, err)
	require.Zero(t, rs.Len())
}

func TestDelJoinOnIndexJoinOnlyRemovesTheGivenTarget(t *testing.T) {
	people, companies, _, _ := openPair(t)
	cid, err := companies.AddRec(map[string]FieldValue{"title": StrValue("acme")})
	require.NoError(t, err)
	pid1, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)
	pid2, err := people.AddRec(map[string]FieldValue{"name": StrValue("bob")})
	require.NoError(t, err)

	require.NoError(t, companies.AddJoin("employees", cid, pid1, 1))
	require.NoError(t, companies.AddJoin("employees", cid, pid2, 1))

	require.NoError(t, companies.DelJoin("employees", cid, pid1))

	rs, err := companies.Rec(cid).Join("employees")
	require.NoError(t, err)
	require.Equal(t, []uint64{pid2}, rs.IDs())
}

func TestSetFieldReindexesTokenizedTextKey(t *testing.T) {
	sch := schema.New()
	people, err := sch.AddStore("people")
	require.NoError(t, err)
	nameFieldID, err := people.AddField("name", schema.FieldStr, schema.FieldFlags{})
	require.NoError(t, err)
	_, err = sch.AddIndexKey(people.ID, "Name", schema.KeyText, schema.SortByStr, []schema.FieldID{nameFieldID}, nil)
	require.NoError(t, err)
	voc := newIndexVoc(t, sch)

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
	ps, err := Open(people, sch, idx, db, false)
	require.NoError(t, err)

	id, err := ps.AddRec(map[string]FieldValue{"name": StrValue("Alice Smith")})
	require.NoError(t, err)

	list, err := idx.LookupExact(people.ID, "Name", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, list)
	list, err = idx.LookupExact(people.ID, "Name", "smith")
	require.NoError(t, err)
	require.NotEmpty(t, list)

	require.NoError(t, ps.SetField(id, "name", StrValue("Carol Jones")))

	for _, stale := range []string{"alice", "smith"} {
		list, err := idx.LookupExact(people.ID, "Name", stale)
		require.NoError(t, err)
		require.Emptyf(t, list, "stale tokenized word %q should have been de-indexed", stale)
	}
	for _, fresh := range []string{"carol", "jones"} {
		list, err := idx.LookupExact(people.ID, "Name", fresh)
		require.NoError(t, err)
		require.NotEmptyf(t, list, "new tokenized word %q should be indexed", fresh)
	}
}

func TestRecordSetSortAscAndDesc(t *testing.T) {
	people, _, _, _ := openPair(t)
	idB, err := people.AddRec(map[string]FieldValue{"name": StrValue("bob")})
	require.NoError(t, err)
	idA, err := people.AddRec(map[string]FieldValue{"name": StrValue("alice")})
	require.NoError(t, err)

	rs := NewRecordSet(people, []uint64{idB, idA})
	sorted, err := rs.Sort("name", false)
	require.NoError(t, err)
	require.Equal(t, []uint64{idA, idB}, sorted.IDs())

	desc, err := rs.Sort("name", true)
	require.NoError(t, err)
	require.Equal(t, []uint64{idB, idA}, desc.IDs())
}

func TestRecordSetMergeDedupsAndSorts(t *testing.T) {
	people, _, _, _ := openPair(t)
	rs1 := NewRecordSet(people, []uint64{3, 1})
	rs2 := NewRecordSet(people, []uint64{1, 2})
	merged := rs1.Merge(rs2)
	require.Equal(t, []uint64{1, 2, 3}, merged.IDs())
}

func TestRecordSetIntersect(t *testing.T) {
	people, _, _, _ := openPair(t)
	rs1 := NewRecordSet(people, []uint64{1, 2, 3})
	rs2 := NewRecordSet(people, []uint64{2, 3, 4})
	require.Equal(t, []uint64{2, 3}, rs1.Intersect(rs2).IDs())
}

func TestRecordSetLimit(t *testing.T) {
	people, _, _, _ := openPair(t)
	rs := NewRecordSet(people, []uint64{1, 2, 3, 4, 5})
	require.Equal(t, []uint64{2, 3}, rs.Limit(1, 2).IDs())
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, rs.Limit(0, -1).IDs())
}

func TestGetRndRecsReturnsRequestedCount(t *testing.T) {
	people, _, _, _ := openPair(t)
	for i := 0; i < 20; i++ {
		_, err := people.AddRec(map[string]FieldValue{"name": StrValue("x")})
		require.NoError(t, err)
	}
	ids, err := people.GetRndRecs(5, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, ids, 5)
}
