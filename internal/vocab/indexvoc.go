package vocab

import (
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"qminer/internal/schema"
)

// IndexVoc aggregates WordVocs across the whole base: it owns the
// (StoreId,KeyName)<->KeyId maps and the many-to-one KeyId->WordVoc
// mapping (spec §4.1). KeyId allocation itself lives in schema.Schema to
// avoid a schema<->vocab import cycle; IndexVoc is handed already-assigned
// schema.IndexKey values to register.
type IndexVoc struct {
	mu sync.RWMutex

	keys        map[schema.KeyID]schema.IndexKey
	byStoreName map[schema.StoreID]map[string]schema.KeyID
	byStore     map[schema.StoreID][]schema.KeyID

	wordVocOf map[schema.KeyID]*WordVoc
	// sharedGroup maps a WordVoc to every KeyID backed by it, so callers can
	// discover sibling keys that share vocabulary.
	sharedGroup map[*WordVoc][]schema.KeyID
}

func NewIndexVoc() *IndexVoc {
	return &IndexVoc{
		keys:        make(map[schema.KeyID]schema.IndexKey),
		byStoreName: make(map[schema.StoreID]map[string]schema.KeyID),
		byStore:     make(map[schema.StoreID][]schema.KeyID),
		wordVocOf:   make(map[schema.KeyID]*WordVoc),
		sharedGroup: make(map[*WordVoc][]schema.KeyID),
	}
}

// RegisterKey adds an already key-id-assigned schema.IndexKey. If shareWith
// is non-nil, the new key's WordVoc is the same instance already backing
// shareWith (keys sharing a WordVoc share its interned terms).
func (iv *IndexVoc) RegisterKey(key schema.IndexKey, shareWith *schema.KeyID) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if _, ok := iv.keys[key.ID]; ok {
		return fmt.Errorf("%w: key id %d already registered", ErrUnknownKey, key.ID)
	}
	iv.keys[key.ID] = key
	if iv.byStoreName[key.StoreID] == nil {
		iv.byStoreName[key.StoreID] = make(map[string]schema.KeyID)
	}
	iv.byStoreName[key.StoreID][key.Name] = key.ID
	iv.byStore[key.StoreID] = append(iv.byStore[key.StoreID], key.ID)

	var wv *WordVoc
	if shareWith != nil {
		var ok bool
		wv, ok = iv.wordVocOf[*shareWith]
		if !ok {
			return fmt.Errorf("%w: shared key id %d not registered yet", ErrUnknownKey, *shareWith)
		}
	} else {
		wv = NewWordVoc()
	}
	iv.wordVocOf[key.ID] = wv
	iv.sharedGroup[wv] = append(iv.sharedGroup[wv], key.ID)
	return nil
}

func (iv *IndexVoc) Key(id schema.KeyID) (schema.IndexKey, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	k, ok := iv.keys[id]
	if !ok {
		return schema.IndexKey{}, fmt.Errorf("%w: key id %d", ErrUnknownKey, id)
	}
	return k, nil
}

func (iv *IndexVoc) KeyByStoreAndName(storeID schema.StoreID, name string) (schema.KeyID, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	m, ok := iv.byStoreName[storeID]
	if !ok {
		return 0, fmt.Errorf("%w: store %d has no keys", ErrUnknownKey, storeID)
	}
	id, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q in store %d", ErrUnknownKey, name, storeID)
	}
	return id, nil
}

func (iv *IndexVoc) KeysForStore(storeID schema.StoreID) []schema.KeyID {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return append([]schema.KeyID(nil), iv.byStore[storeID]...)
}

func (iv *IndexVoc) wordVoc(keyID schema.KeyID) (*WordVoc, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	wv, ok := iv.wordVocOf[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: key id %d", ErrUnknownKey, keyID)
	}
	return wv, nil
}

// Add interns word under keyID's WordVoc.
func (iv *IndexVoc) Add(keyID schema.KeyID, word string) (WordID, error) {
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return 0, err
	}
	return wv.Add(word), nil
}

// LookupExact returns a word id without interning; a missing word is not
// an error at this layer (spec §4.1: "unknown word ID ⇒ treated as empty
// posting list"), callers translate "not found" into an empty result.
func (iv *IndexVoc) LookupExact(keyID schema.KeyID, word string) (WordID, bool, error) {
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return 0, false, err
	}
	id, ok := wv.LookupExact(word)
	return id, ok, nil
}

func (iv *IndexVoc) LookupWildcard(keyID schema.KeyID, pattern string) ([]WordID, error) {
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return nil, err
	}
	return wv.LookupWildcard(pattern)
}

func (iv *IndexVoc) GreaterThan(keyID schema.KeyID, id WordID) ([]WordID, error) {
	key, err := iv.Key(keyID)
	if err != nil {
		return nil, err
	}
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return nil, err
	}
	return wv.GreaterThan(id, key.SortType)
}

func (iv *IndexVoc) LessThan(keyID schema.KeyID, id WordID) ([]WordID, error) {
	key, err := iv.Key(keyID)
	if err != nil {
		return nil, err
	}
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return nil, err
	}
	return wv.LessThan(id, key.SortType)
}

// Clip resolves literal to an interned word under keyID's declared sort
// order (see WordVoc.Clip for the choice), for range queries whose pivot was never interned
// (the "clip" VocabRangeOnMissing policy).
func (iv *IndexVoc) Clip(keyID schema.KeyID, literal string) (WordID, bool, error) {
	key, err := iv.Key(keyID)
	if err != nil {
		return 0, false, err
	}
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return 0, false, err
	}
	return wv.Clip(literal, key.SortType)
}

func (iv *IndexVoc) Word(keyID schema.KeyID, id WordID) (string, bool, error) {
	wv, err := iv.wordVoc(keyID)
	if err != nil {
		return "", false, err
	}
	s, ok := wv.Word(id)
	return s, ok, nil
}

// SetKeyTokenizer re-attaches a tokenizer to an already-registered key.
// Tokenizers are funcs and cannot be persisted, so a reopened base walks
// its rebuilt schema and pushes each key's tokenizer back in.
func (iv *IndexVoc) SetKeyTokenizer(id schema.KeyID, tok schema.Tokenizer) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	k, ok := iv.keys[id]
	if !ok {
		return fmt.Errorf("%w: key id %d", ErrUnknownKey, id)
	}
	k.Tokenizer = tok
	iv.keys[id] = k
	return nil
}

// --- persistence (saved by qbase as vocab.gob; spec §6 calls it IndexVoc.dat) ---

type gobWordVoc struct {
	Words   []string
	DocFreq []int64
}

// gobIndexKey mirrors schema.IndexKey minus the Tokenizer func, which gob
// cannot encode; tokenizers are re-attached after Load via SetKeyTokenizer.
type gobIndexKey struct {
	ID       schema.KeyID
	StoreID  schema.StoreID
	Name     string
	Type     schema.KeyType
	SortType schema.SortType
	FieldIDs []schema.FieldID
}

type gobIndexVoc struct {
	Keys       []gobIndexKey
	KeyWordVoc map[schema.KeyID]int // index into WordVocs
	WordVocs   []gobWordVoc
}

// Save serializes the whole vocabulary (every WordVoc plus the key
// registry) to w.
func (iv *IndexVoc) Save(w io.Writer) error {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	wvIndex := make(map[*WordVoc]int)
	var dump gobIndexVoc
	dump.KeyWordVoc = make(map[schema.KeyID]int)
	for id, key := range iv.keys {
		dump.Keys = append(dump.Keys, gobIndexKey{
			ID: key.ID, StoreID: key.StoreID, Name: key.Name,
			Type: key.Type, SortType: key.SortType,
			FieldIDs: append([]schema.FieldID(nil), key.FieldIDs...),
		})
		wv := iv.wordVocOf[id]
		idx, ok := wvIndex[wv]
		if !ok {
			wv.mu.RLock()
			idx = len(dump.WordVocs)
			dump.WordVocs = append(dump.WordVocs, gobWordVoc{
				Words:   append([]string(nil), wv.words...),
				DocFreq: append([]int64(nil), wv.docFreq...),
			})
			wv.mu.RUnlock()
			wvIndex[wv] = idx
		}
		dump.KeyWordVoc[id] = idx
	}
	return gob.NewEncoder(w).Encode(&dump)
}

// Load builds a new IndexVoc from what Save serialized.
func Load(r io.Reader) (*IndexVoc, error) {
	var dump gobIndexVoc
	if err := gob.NewDecoder(r).Decode(&dump); err != nil {
		return nil, fmt.Errorf("failed to decode index vocabulary: %w", err)
	}
	iv := NewIndexVoc()
	wordVocs := make([]*WordVoc, len(dump.WordVocs))
	for i, gv := range dump.WordVocs {
		wv := NewWordVoc()
		wv.words = gv.Words
		wv.docFreq = gv.DocFreq
		wv.ids = make(map[string]WordID, len(gv.Words))
		for idx, word := range gv.Words {
			wv.ids[word] = WordID(idx)
		}
		wv.sortDirty = true
		wordVocs[i] = wv
	}
	for _, gk := range dump.Keys {
		key := schema.IndexKey{
			ID: gk.ID, StoreID: gk.StoreID, Name: gk.Name,
			Type: gk.Type, SortType: gk.SortType, FieldIDs: gk.FieldIDs,
		}
		idx := dump.KeyWordVoc[key.ID]
		wv := wordVocs[idx]
		iv.keys[key.ID] = key
		if iv.byStoreName[key.StoreID] == nil {
			iv.byStoreName[key.StoreID] = make(map[string]schema.KeyID)
		}
		iv.byStoreName[key.StoreID][key.Name] = key.ID
		iv.byStore[key.StoreID] = append(iv.byStore[key.StoreID], key.ID)
		iv.wordVocOf[key.ID] = wv
		iv.sharedGroup[wv] = append(iv.sharedGroup[wv], key.ID)
	}
	return iv, nil
}
