package store

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
)

// openAuthorsBooks builds an "authors"/"books" pair joined by an
// index-join "wrote" (authors->books) with inverse index-join "authors"
// (books->authors); both stores have a primary name field so nested
// payloads can resolve existing records by name.
func openAuthorsBooks(t *testing.T) (authors, books *Store) {
	t.Helper()
	sch := schema.New()

	authorsDesc, err := sch.AddStore("authors")
	require.NoError(t, err)
	nameFieldID, err := authorsDesc.AddField("name", schema.FieldStr, schema.FieldFlags{Primary: true})
	require.NoError(t, err)
	_, err = sch.AddIndexKey(authorsDesc.ID, "Name", schema.KeyValue, schema.SortByStr, []schema.FieldID{nameFieldID}, nil)
	require.NoError(t, err)

	booksDesc, err := sch.AddStore("books")
	require.NoError(t, err)
	_, err = booksDesc.AddField("title", schema.FieldStr, schema.FieldFlags{Primary: true})
	require.NoError(t, err)
	_, err = booksDesc.AddField("year", schema.FieldInt, schema.FieldFlags{Nullable: true})
	require.NoError(t, err)

	wroteID, err := sch.AddIndexJoin(authorsDesc.ID, "wrote", booksDesc.ID)
	require.NoError(t, err)
	authorsJoinID, err := sch.AddIndexJoin(booksDesc.ID, "authors", authorsDesc.ID)
	require.NoError(t, err)
	require.NoError(t, sch.LinkInverse(authorsDesc.ID, wroteID, booksDesc.ID, authorsJoinID))

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

	authorsStore, err := Open(authorsDesc, sch, idx, db, false)
	require.NoError(t, err)
	booksStore, err := Open(booksDesc, sch, idx, db, false)
	require.NoError(t, err)
	lu := &lookup{stores: map[schema.StoreID]*Store{
		authorsDesc.ID: authorsStore,
		booksDesc.ID:   booksStore,
	}}
	authorsStore.SetLookup(lu)
	booksStore.SetLookup(lu)
	return authorsStore, booksStore
}

func TestAddRecPayloadCreatesTargetsAndWiresJoins(t *testing.T) {
	authors, books := openAuthorsBooks(t)

	adaID, err := authors.AddRecPayload(RecPayload{
		Fields: map[string]FieldValue{"name": StrValue("Ada")},
		Joins: map[string][]JoinTarget{
			"wrote": {{Rec: RecPayload{Fields: map[string]FieldValue{
				"title": StrValue("X"),
				"year":  IntValue(2001),
			}}}},
		},
	})
	require.NoError(t, err)

	wrote, err := authors.Rec(adaID).Join("wrote")
	require.NoError(t, err)
	require.Equal(t, 1, wrote.Len())

	bookRec, err := books.RecByPrimaryKey("X")
	require.NoError(t, err)
	back, err := books.Rec(bookRec.ID).Join("authors")
	require.NoError(t, err)
	require.Equal(t, []uint64{adaID}, back.IDs())

	v, err := authors.GetField(back.IDs()[0], "name")
	require.NoError(t, err)
	name, err := v.AsStr()
	require.NoError(t, err)
	require.Equal(t, "Ada", name)
}

func TestAddRecPayloadReusesTargetByPrimaryKey(t *testing.T) {
	authors, books := openAuthorsBooks(t)

	payload := func(author string) RecPayload {
		return RecPayload{
			Fields: map[string]FieldValue{"name": StrValue(author)},
			Joins: map[string][]JoinTarget{
				"wrote": {{Rec: RecPayload{Fields: map[string]FieldValue{"title": StrValue("X")}}}},
			},
		}
	}
	adaID, err := authors.AddRecPayload(payload("Ada"))
	require.NoError(t, err)
	bobID, err := authors.AddRecPayload(payload("Bob"))
	require.NoError(t, err)

	bookIDs, err := books.GetAllRecIDs()
	require.NoError(t, err)
	require.Len(t, bookIDs, 1, "second payload reuses the existing book")

	back, err := books.Rec(bookIDs[0]).Join("authors")
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{adaID, bobID}, back.IDs())
}

// joinObservingTrigger records, at OnAdd time, how many "wrote" targets
// the new record already has.
type joinObservingTrigger struct {
	seen []int
}

func (tr *joinObservingTrigger) OnAdd(rec Record) {
	rs, err := rec.Join("wrote")
	if err != nil {
		tr.seen = append(tr.seen, -1)
		return
	}
	tr.seen = append(tr.seen, rs.Len())
}
func (tr *joinObservingTrigger) OnUpdate(Record, string)        {}
func (tr *joinObservingTrigger) OnDelete(schema.StoreID, uint64) {}

func TestAddRecPayloadWiresJoinsBeforeOnAdd(t *testing.T) {
	authors, _ := openAuthorsBooks(t)
	tr := &joinObservingTrigger{}
	authors.AddTrigger(tr)

	_, err := authors.AddRecPayload(RecPayload{
		Fields: map[string]FieldValue{"name": StrValue("Ada")},
		Joins: map[string][]JoinTarget{
			"wrote": {{Rec: RecPayload{Fields: map[string]FieldValue{"title": StrValue("X")}}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, tr.seen)
}

func TestAddRecRejectsWrongType(t *testing.T) {
	_, books := openAuthorsBooks(t)
	_, err := books.AddRec(map[string]FieldValue{
		"title": StrValue("X"),
		"year":  StrValue("not-a-year"),
	})
	require.ErrorIs(t, err, schema.ErrTypeMismatch)
}

func TestAddRecRejectsUnknownField(t *testing.T) {
	authors, _ := openAuthorsBooks(t)
	_, err := authors.AddRec(map[string]FieldValue{
		"name":  StrValue("Ada"),
		"alias": StrValue("countess"),
	})
	require.ErrorIs(t, err, schema.ErrUnknownField)
}

func TestAddRecRejectsMissingNonNullableField(t *testing.T) {
	authors, _ := openAuthorsBooks(t)
	_, err := authors.AddRec(map[string]FieldValue{})
	require.ErrorIs(t, err, ErrNullViolation)
}

func TestAddRecAllowsMissingNullableField(t *testing.T) {
	_, books := openAuthorsBooks(t)
	_, err := books.AddRec(map[string]FieldValue{"title": StrValue("X")})
	require.NoError(t, err)
}

func TestSetFieldRejectsWrongType(t *testing.T) {
	_, books := openAuthorsBooks(t)
	id, err := books.AddRec(map[string]FieldValue{"title": StrValue("X")})
	require.NoError(t, err)
	require.ErrorIs(t, books.SetField(id, "year", StrValue("nope")), schema.ErrTypeMismatch)
}
