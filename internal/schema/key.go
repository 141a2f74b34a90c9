package schema

// KeyID is a globally unique (across the whole base, not just one store)
// identifier for an IndexKey, assigned by vocab.IndexVoc on registration.
type KeyID int

// KeyType flags the kind of indexing an IndexKey performs.
type KeyType int

const (
	KeyValue KeyType = iota
	KeyText
	KeyLocation
	KeyInternal // backs an index-join; never surfaced in the query language
)

// SortType is the ordering a key's WordVoc supports for Gt/Lt leaves.
type SortType int

const (
	SortNone SortType = iota
	SortByID
	SortByStr
	SortByFlt
)

// IndexKey is owned by a store's namespace but lives in the vocabulary's
// KeyID space (spec §3 IndexKey, §4.1).
type IndexKey struct {
	ID        KeyID
	StoreID   StoreID
	Name      string
	Type      KeyType
	SortType  SortType
	FieldIDs  []FieldID
	Tokenizer Tokenizer
}

// TokenizerOrDefault returns k.Tokenizer, falling back to SimpleTokenizer
// when the key didn't declare one. Indexing and de-indexing a Text key
// must always route through this so a record's words can be found again
// at delete/update time.
func (k IndexKey) TokenizerOrDefault() Tokenizer {
	if k.Tokenizer != nil {
		return k.Tokenizer
	}
	return SimpleTokenizer
}

// Tokenizer splits a Str/StrSeq field value into words for a Text key.
// A Text key whose Tokenizer is nil uses SimpleTokenizer (see
// TokenizerOrDefault); Value keys index each value as a single word and
// never call a tokenizer.
type Tokenizer func(s string) []string

// SimpleTokenizer lowercases ASCII letters and splits on every rune that
// is not an ASCII letter, digit or '_' (non-ASCII letters are separators
// too); this is the default used when a Text key doesn't specify one,
// modeled on the original's default tokenizer (qminer_core.cpp
// TUnicodeTokenizer).
func SimpleTokenizer(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		if isWordRune(r) {
			cur = append(cur, toLower(r))
		} else {
			flush()
		}
	}
	flush()
	return words
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
