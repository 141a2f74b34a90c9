package gix

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"qminer/internal/logging"
)

// Mode mirrors the base-wide open mode (spec §3 Lifecycle): Create makes
// a fresh file, Update/Open reuse an existing one, ReadOnly rejects
// mutations.
type Mode int

const (
	ModeCreate Mode = iota
	ModeOpen
	ModeReadOnly
)

// Gix is the inverted index: a SQLite-backed table of (key_id, word_id,
// rec_id, freq) rows, fronted by a size-bounded posting-list cache.
type Gix struct {
	mu       sync.RWMutex
	db       *sql.DB
	cache    *cache
	merger   Merger
	readOnly bool
	log      *logging.Logger
}

// Open creates or opens a Gix index backed by a SQLite file at path.
// cacheSizeBytes bounds the in-memory posting-list cache; 0 disables
// caching (every Get reads through to SQLite).
func Open(path string, mode Mode, cacheSizeBytes int64) (*Gix, error) {
	log := logging.Get(logging.CategoryIndex)
	timer := logging.StartTimer(logging.CategoryIndex, "open")
	defer timer.Stop()

	if mode == ModeOpen || mode == ModeReadOnly {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrMissingIndex, path)
			}
			return nil, fmt.Errorf("failed to stat index file %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if mode != ModeReadOnly {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gix_postings (
			key_id INTEGER NOT NULL,
			word_id INTEGER NOT NULL,
			rec_id INTEGER NOT NULL,
			freq INTEGER NOT NULL,
			PRIMARY KEY (key_id, word_id, rec_id)
		)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create gix_postings table: %w", err)
		}
	}

	g := &Gix{
		db:       db,
		cache:    newCache(cacheSizeBytes),
		readOnly: mode == ModeReadOnly,
		log:      log,
	}
	return g, nil
}

func (g *Gix) Close() error {
	return g.db.Close()
}

// Get returns the posting list for key, sorted by RecID. A key with no
// rows returns an empty (non-nil) list, never an error.
func (g *Gix) Get(key Key) (PostingList, error) {
	if list, ok := g.cache.get(key); ok {
		return list, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, err := g.db.Query(`SELECT rec_id, freq FROM gix_postings
		WHERE key_id = ? AND word_id = ? ORDER BY rec_id ASC`, key.KeyID, key.WordID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying key %+v: %v", ErrIndexCorrupt, key, err)
	}
	defer rows.Close()

	var list PostingList
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.RecID, &p.Freq); err != nil {
			return nil, fmt.Errorf("%w: scanning key %+v: %v", ErrIndexCorrupt, key, err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating key %+v: %v", ErrIndexCorrupt, key, err)
	}

	g.cache.put(key, list)
	return list.Clone(), nil
}

// Add folds a single (recID, freqDelta) posting into key's list: the new
// stored freq is the old freq (0 if absent) plus freqDelta. A result of 0
// deletes the row (tombstone); a negative result is a caller bug -- it is
// still dropped, but logged as a warning rather than silently discarded.
func (g *Gix) Add(key Key, recID uint64, freqDelta int64) error {
	if g.readOnly {
		return ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryIndex, "add")
	defer timer.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	var current int64
	err := g.db.QueryRow(`SELECT freq FROM gix_postings WHERE key_id=? AND word_id=? AND rec_id=?`,
		key.KeyID, key.WordID, recID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("%w: reading current freq for key %+v rec %d: %v", ErrIndexCorrupt, key, recID, err)
	}

	newFreq := current + freqDelta
	if newFreq < 0 {
		g.log.Warn("posting freq went negative for key %+v rec %d (had %d, delta %d); treating as tombstone",
			key, recID, current, freqDelta)
		newFreq = 0
	}

	if newFreq == 0 {
		if _, err := g.db.Exec(`DELETE FROM gix_postings WHERE key_id=? AND word_id=? AND rec_id=?`,
			key.KeyID, key.WordID, recID); err != nil {
			return fmt.Errorf("failed to delete tombstoned posting: %w", err)
		}
	} else {
		if _, err := g.db.Exec(`INSERT INTO gix_postings (key_id, word_id, rec_id, freq) VALUES (?,?,?,?)
			ON CONFLICT(key_id, word_id, rec_id) DO UPDATE SET freq=excluded.freq`,
			key.KeyID, key.WordID, recID, newFreq); err != nil {
			return fmt.Errorf("failed to upsert posting: %w", err)
		}
	}

	g.cache.invalidate(key)
	return nil
}

// Delete fully removes recID from key's list (equivalent to Add with a
// delta that zeroes whatever freq is currently stored).
func (g *Gix) Delete(key Key, recID uint64) error {
	if g.readOnly {
		return ErrReadOnly
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.db.Exec(`DELETE FROM gix_postings WHERE key_id=? AND word_id=? AND rec_id=?`,
		key.KeyID, key.WordID, recID); err != nil {
		return fmt.Errorf("failed to delete posting: %w", err)
	}
	g.cache.invalidate(key)
	return nil
}

// Merger exposes the posting-list algebra for combining Get results.
func (g *Gix) Merger() Merger { return g.merger }

// Keys lists every distinct (key_id, word_id) pair that currently has at
// least one posting, ordered for deterministic bulk export/merge.
func (g *Gix) Keys() ([]Key, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, err := g.db.Query(`SELECT DISTINCT key_id, word_id FROM gix_postings`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys: %v", ErrIndexCorrupt, err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.KeyID, &k.WordID); err != nil {
			return nil, fmt.Errorf("%w: scanning key list: %v", ErrIndexCorrupt, err)
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].KeyID != keys[j].KeyID {
			return keys[i].KeyID < keys[j].KeyID
		}
		return keys[i].WordID < keys[j].WordID
	})
	return keys, rows.Err()
}

// MergeFrom folds every posting in other into g, summing freqs on
// overlap. Used to fold a bulk-load temp index into the live one.
func (g *Gix) MergeFrom(other *Gix) error {
	if g.readOnly {
		return ErrReadOnly
	}
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryIndex, "merge_index")
	defer timer.Stop()

	keys, err := other.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delta, err := other.Get(k)
		if err != nil {
			return err
		}
		current, err := g.Get(k)
		if err != nil {
			return err
		}
		merged := g.merger.Union(current, delta)
		merged, negatives := merged.Normalize()
		if negatives > 0 {
			g.log.Warn("merge_index: %d negative-freq postings dropped for key %+v", negatives, k)
		}
		if err := g.replace(k, merged); err != nil {
			return err
		}
	}
	g.log.Info("merge_index folded %d keys in %v", len(keys), time.Since(start))
	return nil
}

// replace overwrites key's entire stored posting list with list.
func (g *Gix) replace(key Key, list PostingList) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin replace transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM gix_postings WHERE key_id=? AND word_id=?`, key.KeyID, key.WordID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear key %+v before replace: %w", key, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO gix_postings (key_id, word_id, rec_id, freq) VALUES (?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare replace insert: %w", err)
	}
	for _, p := range list {
		if _, err := stmt.Exec(key.KeyID, key.WordID, p.RecID, p.Freq); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to insert replaced posting: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}
	g.cache.invalidate(key)
	return nil
}
