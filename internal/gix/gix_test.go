package gix

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestGix(t *testing.T, cacheBytes int64) *Gix {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gix.db")
	g, err := Open(path, ModeCreate, cacheBytes)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestAddAndGetRoundTrip(t *testing.T) {
	g := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 42}

	require.NoError(t, g.Add(key, 10, 1))
	require.NoError(t, g.Add(key, 5, 2))

	list, err := g.Get(key)
	require.NoError(t, err)
	require.Equal(t, PostingList{{RecID: 5, Freq: 2}, {RecID: 10, Freq: 1}}, list)
}

func TestAddAccumulatesFreqForSameRecord(t *testing.T) {
	g := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 1}

	require.NoError(t, g.Add(key, 1, 3))
	require.NoError(t, g.Add(key, 1, 2))

	list, err := g.Get(key)
	require.NoError(t, err)
	require.Equal(t, PostingList{{RecID: 1, Freq: 5}}, list)
}

func TestAddZeroFreqTombstonesRow(t *testing.T) {
	g := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 1}

	require.NoError(t, g.Add(key, 1, 3))
	require.NoError(t, g.Add(key, 1, -3))

	list, err := g.Get(key)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestAddNegativeFreqClampsToZeroInstead(t *testing.T) {
	g := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 1}

	require.NoError(t, g.Add(key, 1, 1))
	require.NoError(t, g.Add(key, 1, -5)) // would go to -4

	list, err := g.Get(key)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestGetMissingKeyIsEmptyNotError(t *testing.T) {
	g := openTestGix(t, 1<<20)
	list, err := g.Get(Key{KeyID: 99, WordID: 99})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDeleteRemovesPosting(t *testing.T) {
	g := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 1}
	require.NoError(t, g.Add(key, 1, 1))
	require.NoError(t, g.Delete(key, 1))

	list, err := g.Get(key)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gix.db")
	g, err := Open(path, ModeCreate, 1<<20)
	require.NoError(t, err)
	require.NoError(t, g.Add(Key{KeyID: 1, WordID: 1}, 1, 1))
	require.NoError(t, g.Close())

	ro, err := Open(path, ModeReadOnly, 1<<20)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Add(Key{KeyID: 1, WordID: 1}, 2, 1)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestOpenMissingIndexErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.db")
	_, err := Open(path, ModeOpen, 1<<20)
	require.ErrorIs(t, err, ErrMissingIndex)
}

func TestBulkLoaderMergesIntoTarget(t *testing.T) {
	target := openTestGix(t, 1<<20)
	key := Key{KeyID: 1, WordID: 7}
	require.NoError(t, target.Add(key, 1, 1))

	loader, err := NewBulkLoader(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, loader.Add(key, 1, 2))
	require.NoError(t, loader.Add(key, 2, 5))

	require.NoError(t, loader.MergeInto(target))

	list, err := target.Get(key)
	require.NoError(t, err)
	require.Equal(t, PostingList{{RecID: 1, Freq: 3}, {RecID: 2, Freq: 5}}, list)
}

func TestCacheEvictsLargestEntryFirst(t *testing.T) {
	g := openTestGix(t, 200) // small budget forces eviction
	big := Key{KeyID: 1, WordID: 1}
	small := Key{KeyID: 1, WordID: 2}

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, g.Add(big, i, 1))
	}
	require.NoError(t, g.Add(small, 1, 1))

	_, err := g.Get(big)
	require.NoError(t, err)
	_, err = g.Get(small)
	require.NoError(t, err)

	// Both still readable from SQLite even if evicted from cache.
	list, err := g.Get(big)
	require.NoError(t, err)
	require.Len(t, list, 10)

	// Reloading big (208 bytes) next to small (64 bytes) overflows the
	// 200-byte budget: the larger entry goes, although small was used
	// less recently.
	_, bigCached := g.cache.entries[big]
	require.False(t, bigCached)
	_, smallCached := g.cache.entries[small]
	require.True(t, smallCached)
}
