package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreNamesUniqueWithinSchema(t *testing.T) {
	s := New()
	_, err := s.AddStore("people")
	require.NoError(t, err)
	_, err = s.AddStore("people")
	require.ErrorIs(t, err, ErrNameCollision)
}

func TestFieldAndJoinNamesShareNamespace(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)
	other, err := s.AddStore("other")
	require.NoError(t, err)

	_, err = people.AddField("employer", FieldStr, FieldFlags{})
	require.NoError(t, err)

	// a join may not reuse a field's name
	_, err = s.AddFieldJoin(people.ID, "employer", other.ID)
	require.ErrorIs(t, err, ErrNameCollision)

	// and a field may not reuse a join's name
	_, err = s.AddIndexJoin(people.ID, "friends", other.ID)
	require.NoError(t, err)
	_, err = people.AddField("friends", FieldInt, FieldFlags{})
	require.ErrorIs(t, err, ErrNameCollision)
}

func TestInvalidNamesRejected(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)

	for _, name := range []string{"", "1name", "has space", "semi;colon"} {
		_, err := people.AddField(name, FieldStr, FieldFlags{})
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
	_, err = s.AddStore("")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestSinglePrimaryFieldPerStore(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)
	_, err = people.AddField("name", FieldStr, FieldFlags{Primary: true})
	require.NoError(t, err)
	_, err = people.AddField("alias", FieldStr, FieldFlags{Primary: true})
	require.Error(t, err)

	pf, ok := people.PrimaryField()
	require.True(t, ok)
	require.Equal(t, "name", pf.Name)
}

func TestForwardJoinReferenceRejected(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)

	_, err = s.AddFieldJoin(people.ID, "employer", StoreID(9))
	require.ErrorIs(t, err, ErrForwardJoinReference)
	_, err = s.AddIndexJoin(people.ID, "friends", StoreID(9))
	require.ErrorIs(t, err, ErrForwardJoinReference)
}

func TestFieldJoinAllocatesHiddenFields(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)
	companies, err := s.AddStore("companies")
	require.NoError(t, err)

	joinID, err := s.AddFieldJoin(people.ID, "employer", companies.ID)
	require.NoError(t, err)
	jd, err := people.Join(joinID)
	require.NoError(t, err)
	require.Equal(t, FieldJoin, jd.Kind)

	recField, err := people.Field(jd.RecIDFieldID)
	require.NoError(t, err)
	require.Equal(t, FieldUInt64, recField.Type)
	require.True(t, recField.Flags.Internal)

	freqField, err := people.Field(jd.FreqFieldID)
	require.NoError(t, err)
	require.Equal(t, FieldInt, freqField.Type)
	require.True(t, freqField.Flags.Internal)
}

func TestIndexJoinAllocatesInternalKeyOnTarget(t *testing.T) {
	s := New()
	authors, err := s.AddStore("authors")
	require.NoError(t, err)
	books, err := s.AddStore("books")
	require.NoError(t, err)

	joinID, err := s.AddIndexJoin(books.ID, "wrote", authors.ID)
	require.NoError(t, err)
	jd, err := books.Join(joinID)
	require.NoError(t, err)
	require.Equal(t, IndexJoin, jd.Kind)

	var found bool
	for _, k := range authors.Keys() {
		if k.ID == KeyID(jd.IndexKeyID) {
			require.Equal(t, KeyInternal, k.Type)
			found = true
		}
	}
	require.True(t, found, "internal key lives in the target store's namespace")
}

func TestLinkInverseWiresBothDirections(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)
	companies, err := s.AddStore("companies")
	require.NoError(t, err)

	employer, err := s.AddFieldJoin(people.ID, "employer", companies.ID)
	require.NoError(t, err)
	employees, err := s.AddIndexJoin(companies.ID, "employees", people.ID)
	require.NoError(t, err)
	require.NoError(t, s.LinkInverse(people.ID, employer, companies.ID, employees))

	ja, err := people.Join(employer)
	require.NoError(t, err)
	require.True(t, ja.HasInverse)
	require.Equal(t, employees, ja.InverseJoinID)
	require.Equal(t, companies.ID, ja.InverseStoreID)

	jb, err := companies.Join(employees)
	require.NoError(t, err)
	require.True(t, jb.HasInverse)
	require.Equal(t, employer, jb.InverseJoinID)
	require.Equal(t, people.ID, jb.InverseStoreID)
}

func TestLinkInverseRejectsMismatchedTargets(t *testing.T) {
	s := New()
	a, err := s.AddStore("a")
	require.NoError(t, err)
	bStore, err := s.AddStore("b")
	require.NoError(t, err)
	c, err := s.AddStore("c")
	require.NoError(t, err)

	ab, err := s.AddFieldJoin(a.ID, "toB", bStore.ID)
	require.NoError(t, err)
	cb, err := s.AddFieldJoin(c.ID, "toB2", bStore.ID)
	require.NoError(t, err)

	require.Error(t, s.LinkInverse(a.ID, ab, c.ID, cb))
}

func TestKeyIDsGloballyUniqueAcrossStores(t *testing.T) {
	s := New()
	people, err := s.AddStore("people")
	require.NoError(t, err)
	companies, err := s.AddStore("companies")
	require.NoError(t, err)

	nameField, err := people.AddField("name", FieldStr, FieldFlags{})
	require.NoError(t, err)
	titleField, err := companies.AddField("title", FieldStr, FieldFlags{})
	require.NoError(t, err)

	k1, err := s.AddIndexKey(people.ID, "Name", KeyValue, SortByStr, []FieldID{nameField}, nil)
	require.NoError(t, err)
	k2, err := s.AddIndexKey(companies.ID, "Title", KeyValue, SortByStr, []FieldID{titleField}, nil)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)

	// the key is linked back onto the field it indexes
	fd, err := people.Field(nameField)
	require.NoError(t, err)
	require.Contains(t, fd.KeyIDs, int(k1))
}

func TestSimpleTokenizerLowercasesAndSplits(t *testing.T) {
	words := SimpleTokenizer("Hello, World-Wide Web!")
	require.Equal(t, []string{"hello", "world", "wide", "web"}, words)
}
