// Package index is the facade Store and the query executor use to reach
// the vocabulary, inverted index and geo index as one unit, so callers
// never have to juggle WordIDs and KeyIDs by hand (spec §4.4).
package index

import (
	"qminer/internal/geoindex"
	"qminer/internal/gix"
	"qminer/internal/schema"
	"qminer/internal/vocab"
)

// Index composes the three on-disk structures a store's keys are backed
// by: IndexVoc (string<->id interning), Gix (posting lists) and GeoIndex
// (spatial buckets).
type Index struct {
	Schema *schema.Schema
	Voc    *vocab.IndexVoc
	Gix    *gix.Gix
	Geo    *geoindex.GeoIndex
}

func New(sch *schema.Schema, voc *vocab.IndexVoc, g *gix.Gix, geo *geoindex.GeoIndex) *Index {
	return &Index{Schema: sch, Voc: voc, Gix: g, Geo: geo}
}

func (ix *Index) gixKey(keyID schema.KeyID, wordID vocab.WordID) gix.Key {
	return gix.Key{KeyID: int64(keyID), WordID: uint64(wordID)}
}

// IndexWord interns word under keyName (in storeID's namespace) and adds
// recID to its posting list with the given frequency delta.
func (ix *Index) IndexWord(storeID schema.StoreID, keyName string, recID uint64, word string, freqDelta int64) error {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return err
	}
	wordID, err := ix.Voc.Add(keyID, word)
	if err != nil {
		return err
	}
	return ix.Gix.Add(ix.gixKey(keyID, wordID), recID, freqDelta)
}

// IndexText tokenizes text with the key's declared tokenizer (falling
// back to schema.SimpleTokenizer) and indexes every resulting word once.
func (ix *Index) IndexText(storeID schema.StoreID, keyName string, recID uint64, text string) error {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return err
	}
	key, err := ix.Voc.Key(keyID)
	if err != nil {
		return err
	}
	for _, word := range key.TokenizerOrDefault()(text) {
		wordID, err := ix.Voc.Add(keyID, word)
		if err != nil {
			return err
		}
		if err := ix.Gix.Add(ix.gixKey(keyID, wordID), recID, 1); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWord removes recID from word's posting list under keyName.
func (ix *Index) DeleteWord(storeID schema.StoreID, keyName string, recID uint64, word string) error {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return err
	}
	wordID, ok, err := ix.Voc.LookupExact(keyID, word)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return ix.Gix.Delete(ix.gixKey(keyID, wordID), recID)
}

// LookupExact returns the posting list for word under keyName, or an
// empty (nil) list if word was never indexed.
func (ix *Index) LookupExact(storeID schema.StoreID, keyName, word string) (gix.PostingList, error) {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	wordID, ok, err := ix.Voc.LookupExact(keyID, word)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ix.Gix.Get(ix.gixKey(keyID, wordID))
}

// LookupWildcard unions the posting lists of every word matching pattern.
func (ix *Index) LookupWildcard(storeID schema.StoreID, keyName, pattern string) (gix.PostingList, error) {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	wordIDs, err := ix.Voc.LookupWildcard(keyID, pattern)
	if err != nil {
		return nil, err
	}
	merger := gix.Merger{}
	var result gix.PostingList
	for _, wid := range wordIDs {
		pl, err := ix.Gix.Get(ix.gixKey(keyID, wid))
		if err != nil {
			return nil, err
		}
		result = merger.Union(result, pl)
	}
	return result, nil
}

// Range unions the posting lists of every word ordered strictly greater
// (or, with greater=false, less) than pivot under keyName's declared sort
// order. The keyID's sort type and the pivot's presence are validated by
// vocab.IndexVoc; callers translate a "pivot not found" error according to
// the configured VocabRangeOnMissing policy.
func (ix *Index) Range(storeID schema.StoreID, keyName, pivot string, greater bool) (gix.PostingList, error) {
	keyID, err := ix.Voc.KeyByStoreAndName(storeID, keyName)
	if err != nil {
		return nil, err
	}
	pivotID, ok, err := ix.Voc.LookupExact(keyID, pivot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vocab.ErrWordNotFound
	}
	var wordIDs []vocab.WordID
	if greater {
		wordIDs, err = ix.Voc.GreaterThan(keyID, pivotID)
	} else {
		wordIDs, err = ix.Voc.LessThan(keyID, pivotID)
	}
	if err != nil {
		return nil, err
	}
	merger := gix.Merger{}
	var result gix.PostingList
	for _, wid := range wordIDs {
		pl, err := ix.Gix.Get(ix.gixKey(keyID, wid))
		if err != nil {
			return nil, err
		}
		result = merger.Union(result, pl)
	}
	return result, nil
}

// PostingsForWords unions the posting lists of already-resolved word ids
// under keyID. The query package resolves literals to WordIDs at parse
// time, so the executor never has to re-intern a string to read a leaf.
func (ix *Index) PostingsForWords(keyID schema.KeyID, wordIDs []vocab.WordID) (gix.PostingList, error) {
	merger := gix.Merger{}
	var result gix.PostingList
	for _, wid := range wordIDs {
		pl, err := ix.Gix.Get(ix.gixKey(keyID, wid))
		if err != nil {
			return nil, err
		}
		result = merger.Union(result, pl)
	}
	return result, nil
}

// Merger exposes the posting-list algebra for the executor to combine
// leaves that this facade already produced.
func (ix *Index) Merger() gix.Merger { return ix.Gix.Merger() }

// GeoAdd/GeoDel/GeoRange/GeoNN pass straight through to the geo index;
// they exist on Index so callers never import geoindex directly.
func (ix *Index) GeoAdd(recID uint64, p geoindex.Point) error { return ix.Geo.Add(recID, p) }
func (ix *Index) GeoDel(recID uint64) error                   { return ix.Geo.Del(recID) }
func (ix *Index) GeoRange(center geoindex.Point, radiusMeters float64) ([]uint64, error) {
	return ix.Geo.Range(center, radiusMeters)
}
func (ix *Index) GeoNN(center geoindex.Point, k int) ([]uint64, error) {
	return ix.Geo.NN(center, k)
}
