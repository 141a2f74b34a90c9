// Package qbase assembles the vocabulary, inverted index, geo index,
// stores and stream-aggregate pipelines into the single root object an
// embedding application opens once per database directory.
package qbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/google/uuid"

	"qminer/internal/exec"
	"qminer/internal/geoindex"
	"qminer/internal/gix"
	"qminer/internal/index"
	"qminer/internal/logging"
	"qminer/internal/query"
	"qminer/internal/schema"
	"qminer/internal/store"
	"qminer/internal/streamaggr"
	"qminer/internal/vocab"
)

var (
	ErrAlreadyClosed = errors.New("base already closed")
	ErrUnknownStore  = schema.ErrUnknownStore
)

// BuildSchema populates a fresh schema.Schema with every store/field/
// key/join the embedding application needs. It must be deterministic --
// Create and Open both run it to reconstruct the same StoreID/FieldID/
// KeyID assignment, since schema.Schema itself has no on-disk form; the
// IDs it hands out are what the already-persisted gix/geo/sqlite artifacts
// were written against.
type BuildSchema func(sch *schema.Schema) error

// Config controls cache sizing and geo bucket precision; see
// internal/config for the yaml-driven top-level Config this is built
// from.
type Config struct {
	CacheSizeBytes int64
	GeoPrecision   float64

	// VocabRangeOnMissing resolves what a Gt/Lt leaf does when its pivot
	// literal was never interned: "error" (default) or "clip".
	VocabRangeOnMissing query.RangeOnMissing
}

func DefaultConfig() Config {
	return Config{
		CacheSizeBytes:      64 << 20,
		GeoPrecision:        geoindex.DefaultPrecision,
		VocabRangeOnMissing: query.RangeOnMissingError,
	}
}

// Base is the root object: it owns the shared *sql.DB, the schema, the
// vocabulary, the inverted and geo indexes, every store, and one
// streamaggr.StreamAggrBase per store that has registered aggregates.
type Base struct {
	mu sync.Mutex

	dir      string
	cfg      Config
	readOnly bool
	closed   bool

	db  *sql.DB
	sch *schema.Schema
	voc *vocab.IndexVoc
	gix *gix.Gix
	geo *geoindex.GeoIndex
	idx *index.Index

	stores     map[schema.StoreID]*store.Store
	aggrBases  map[schema.StoreID]*streamaggr.StreamAggrBase
	aggrWired  map[schema.StoreID]bool

	ex *exec.Executor
}

const (
	gixFile    = "gix.db"
	geoFile    = "geo.db"
	recordFile = "records.db"
	vocFile    = "vocab.gob"
)

var _ store.StoreLookup = (*Base)(nil)

// Exists reports whether dir holds a complete database: all persisted
// artifacts (inverted index, geo index, record database, vocabulary)
// must be present; a partial directory does not count.
func Exists(dir string) bool {
	for _, name := range []string{gixFile, geoFile, recordFile, vocFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Create lays down a brand new database under dir (which must not yet
// exist) and builds its schema via build.
func Create(dir string, build BuildSchema, cfg Config) (*Base, error) {
	timer := logging.StartTimer(logging.CategoryBase, "create")
	defer timer.Stop()

	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("qbase: directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("qbase: failed to create directory: %w", err)
	}
	return open(dir, build, cfg, gix.ModeCreate, false)
}

// Open reconstructs a Base from an existing directory, replaying build
// to rebuild the in-memory schema/vocabulary layout.
func Open(dir string, build BuildSchema, cfg Config, readOnly bool) (*Base, error) {
	timer := logging.StartTimer(logging.CategoryBase, "open")
	defer timer.Stop()

	mode := gix.ModeOpen
	if readOnly {
		mode = gix.ModeReadOnly
	}
	return open(dir, build, cfg, mode, readOnly)
}

// Restore opens the database under dir if all its artifacts are present,
// and creates a fresh one otherwise. A partial directory (some artifacts
// written, some missing) is rejected rather than silently recreated.
func Restore(dir string, build BuildSchema, cfg Config) (*Base, error) {
	if Exists(dir) {
		return Open(dir, build, cfg, false)
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("qbase: directory %s exists but is not a complete database", dir)
	}
	return Create(dir, build, cfg)
}

func open(dir string, build BuildSchema, cfg Config, mode gix.Mode, readOnly bool) (*Base, error) {
	sch := schema.New()
	if err := build(sch); err != nil {
		return nil, fmt.Errorf("qbase: schema build failed: %w", err)
	}

	voc := vocab.NewIndexVoc()
	vocPath := filepath.Join(dir, vocFile)
	if f, err := os.Open(vocPath); err == nil {
		loaded, loadErr := vocab.Load(f)
		f.Close()
		if loadErr != nil {
			return nil, fmt.Errorf("qbase: failed to load vocabulary: %w", loadErr)
		}
		voc = loaded
		// Tokenizers are funcs and don't persist; push them back in from
		// the freshly rebuilt schema.
		for _, sd := range sch.Stores() {
			for _, k := range sd.Keys() {
				if k.Tokenizer == nil {
					continue
				}
				if err := voc.SetKeyTokenizer(k.ID, k.Tokenizer); err != nil {
					return nil, fmt.Errorf("qbase: failed to restore tokenizer for key %s: %w", k.Name, err)
				}
			}
		}
	} else {
		for _, sd := range sch.Stores() {
			for _, k := range sd.Keys() {
				if err := voc.RegisterKey(k, nil); err != nil {
					return nil, fmt.Errorf("qbase: failed to register key %s: %w", k.Name, err)
				}
			}
		}
	}

	g, err := gix.Open(filepath.Join(dir, gixFile), mode, cfg.CacheSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("qbase: failed to open inverted index: %w", err)
	}
	geo, err := geoindex.Open(filepath.Join(dir, geoFile), readOnly, cfg.GeoPrecision)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("qbase: failed to open geo index: %w", err)
	}
	idx := index.New(sch, voc, g, geo)

	db, err := sql.Open("sqlite3", filepath.Join(dir, recordFile))
	if err != nil {
		g.Close()
		geo.Close()
		return nil, fmt.Errorf("qbase: failed to open record database: %w", err)
	}

	b := &Base{
		dir: dir, cfg: cfg, readOnly: readOnly,
		db: db, sch: sch, voc: voc, gix: g, geo: geo, idx: idx,
		stores:    make(map[schema.StoreID]*store.Store),
		aggrBases: make(map[schema.StoreID]*streamaggr.StreamAggrBase),
		aggrWired: make(map[schema.StoreID]bool),
	}

	for _, sd := range sch.Stores() {
		s, err := store.Open(sd, sch, idx, db, readOnly)
		if err != nil {
			b.closeResources()
			return nil, fmt.Errorf("qbase: failed to open store %s: %w", sd.Name, err)
		}
		s.SetLookup(b)
		b.stores[sd.ID] = s
	}

	return b, nil
}

func (b *Base) StoreByID(id schema.StoreID) (*store.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[id]
	if !ok {
		return nil, schema.ErrUnknownStore
	}
	return s, nil
}

func (b *Base) StoreByName(name string) (*store.Store, error) {
	sd, err := b.sch.StoreByName(name)
	if err != nil {
		return nil, err
	}
	return b.StoreByID(sd.ID)
}

func (b *Base) Schema() *schema.Schema         { return b.sch }
func (b *Base) IndexVoc() *vocab.IndexVoc      { return b.voc }
func (b *Base) Index() *index.Index            { return b.idx }

// StreamAggrBase returns (creating and wiring on first use) the named
// aggregate set attached to storeID.
func (b *Base) StreamAggrBase(storeID schema.StoreID) (*streamaggr.StreamAggrBase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[storeID]
	if !ok {
		return nil, schema.ErrUnknownStore
	}
	sab, ok := b.aggrBases[storeID]
	if !ok {
		sab = streamaggr.NewStreamAggrBase()
		b.aggrBases[storeID] = sab
	}
	if !b.aggrWired[storeID] {
		s.AddTrigger(streamaggr.NewStreamAggrTrigger(sab))
		b.aggrWired[storeID] = true
	}
	return sab, nil
}

// LoadStreamAggrState restores the saved aggregate state for storeID into
// its StreamAggrBase. Call it after every aggregate has been registered
// again: saved entries are matched by name, and entries for names never
// re-registered are skipped. A missing state file (nothing was ever
// saved) is not an error.
func (b *Base) LoadStreamAggrState(storeID schema.StoreID) error {
	sab, err := b.StreamAggrBase(storeID)
	if err != nil {
		return err
	}
	f, err := os.Open(b.streamAggrPath(storeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("qbase: failed to open stream aggregate state: %w", err)
	}
	defer f.Close()
	if err := sab.LoadState(f); err != nil {
		return fmt.Errorf("qbase: failed to load stream aggregates for store %d: %w", storeID, err)
	}
	return nil
}

func (b *Base) streamAggrPath(storeID schema.StoreID) string {
	return filepath.Join(b.dir, fmt.Sprintf("streamaggr_%d.gob", storeID))
}

// Search parses raw as a wire-format query and runs it against this
// base's index and stores, returning the final record set with any
// $aggr results attached.
func (b *Base) Search(ctx context.Context, raw []byte) (store.RecordSet, error) {
	policy := query.Policy{VocabRangeOnMissing: b.cfg.VocabRangeOnMissing}
	if policy.VocabRangeOnMissing == "" {
		policy.VocabRangeOnMissing = query.RangeOnMissingError
	}
	q, err := query.Parse(b.sch, b.voc, b, raw, policy)
	if err != nil {
		return store.RecordSet{}, err
	}
	return b.executor().Run(ctx, q)
}

// RegisterQueryAggr makes a query-time aggregate available to $aggr by
// its name.
func (b *Base) RegisterQueryAggr(a exec.Aggr) error {
	return b.executor().RegisterAggr(a)
}

func (b *Base) executor() *exec.Executor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ex == nil {
		b.ex = exec.New(b.idx, b)
	}
	return b.ex
}

// BulkLoadScratchDir allocates a uniquely named temporary directory under
// the base's own directory for a bulk-load pass's scratch inverted index
// (spec "Temporary index for bulk load"), so concurrent bulk loads never
// collide.
func (b *Base) BulkLoadScratchDir() (string, error) {
	dir := filepath.Join(b.dir, "bulkload-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("qbase: failed to create bulk-load scratch dir: %w", err)
	}
	return dir, nil
}

// Close flushes the vocabulary and every stream-aggregate base to disk
// and releases every backing handle.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrAlreadyClosed
	}
	b.closed = true

	var errs []error
	if !b.readOnly {
		if err := b.flushLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closeResources()
	return errors.Join(errs...)
}

func (b *Base) flushLocked() error {
	if f, err := os.Create(filepath.Join(b.dir, vocFile)); err == nil {
		defer f.Close()
		if err := b.voc.Save(f); err != nil {
			return fmt.Errorf("qbase: failed to save vocabulary: %w", err)
		}
	} else {
		return fmt.Errorf("qbase: failed to create vocabulary file: %w", err)
	}

	for storeID, sab := range b.aggrBases {
		f, err := os.Create(b.streamAggrPath(storeID))
		if err != nil {
			return fmt.Errorf("qbase: failed to create stream aggregate file: %w", err)
		}
		err = sab.SaveState(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("qbase: failed to save stream aggregates for store %d: %w", storeID, err)
		}
	}
	return nil
}

func (b *Base) closeResources() {
	if b.db != nil {
		b.db.Close()
	}
	if b.gix != nil {
		b.gix.Close()
	}
	if b.geo != nil {
		b.geo.Close()
	}
}
