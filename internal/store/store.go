// Package store implements the typed record store: per-store SQLite
// tables holding JSON-encoded field values, wired to internal/index for
// every field that backs a key, plus the join/trigger/sampling surface
// the executor and stream-aggregate pipeline build on (spec §4.4, §4.6).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"qminer/internal/geoindex"
	"qminer/internal/index"
	"qminer/internal/logging"
	"qminer/internal/schema"
)

// StoreLookup resolves a sibling store by id, letting a Store follow
// joins without this package importing the root object that owns all
// stores (that would be an import cycle with qbase).
type StoreLookup interface {
	StoreByID(id schema.StoreID) (*Store, error)
}

// Store owns one schema.StoreDesc's live records.
type Store struct {
	mu        sync.RWMutex
	desc      *schema.StoreDesc
	schema    *schema.Schema
	index     *index.Index
	db        *sql.DB
	lookup    StoreLookup
	readOnly  bool
	nextRecID uint64
	triggers  []Trigger
	log       *logging.Logger
}

// Open creates (if needed) the backing table for desc and loads the next
// free record id.
func Open(desc *schema.StoreDesc, sch *schema.Schema, idx *index.Index, db *sql.DB, readOnly bool) (*Store, error) {
	s := &Store{
		desc:      desc,
		schema:    sch,
		index:     idx,
		db:        db,
		readOnly:  readOnly,
		nextRecID: 1, // RecId 0 is reserved (DESIGN.md Open Question decision)
		log:       logging.Get(logging.CategoryStore),
	}
	if !readOnly {
		if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			rec_id INTEGER PRIMARY KEY,
			primary_key TEXT,
			data BLOB NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		)`, s.tableName())); err != nil {
			return nil, fmt.Errorf("failed to create table for store %q: %w", desc.Name, err)
		}
		if _, ok := desc.PrimaryField(); ok {
			if _, err := db.Exec(fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS %s_primary_key ON %s (primary_key)`,
				s.tableName(), s.tableName())); err != nil {
				return nil, fmt.Errorf("failed to create primary-key index for store %q: %w", desc.Name, err)
			}
		}
	}
	maxID, err := s.loadMaxRecID()
	if err != nil {
		return nil, err
	}
	s.nextRecID = maxID + 1
	return s, nil
}

// tableName is safe to interpolate directly: schema.ValidName restricts
// store names to [A-Za-z_][A-Za-z0-9_]*, so no quoting/escaping is needed.
func (s *Store) tableName() string { return "store_" + s.desc.Name }

func (s *Store) loadMaxRecID() (uint64, error) {
	var max sql.NullInt64
	row := s.db.QueryRow(fmt.Sprintf(`SELECT MAX(rec_id) FROM %s`, s.tableName()))
	if err := row.Scan(&max); err != nil {
		if s.readOnly {
			// table may not exist yet in a fresh read-only open; treat as empty
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read max record id for store %q: %w", s.desc.Name, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// SetLookup wires the cross-store join resolver; qbase.Base calls this
// once after every store in a base is open.
func (s *Store) SetLookup(l StoreLookup) { s.lookup = l }

// AddTrigger registers an observer fired on every Add/Update/Delete.
func (s *Store) AddTrigger(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
}

func (s *Store) Desc() *schema.StoreDesc { return s.desc }

func (s *Store) rowValues(recID uint64) (map[string]FieldValue, error) {
	var blob []byte
	var deleted bool
	row := s.db.QueryRow(fmt.Sprintf(`SELECT data, deleted FROM %s WHERE rec_id = ?`, s.tableName()), recID)
	if err := row.Scan(&blob, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: record %d in store %q", ErrRecordNotFound, recID, s.desc.Name)
		}
		return nil, fmt.Errorf("failed to read record %d: %w", recID, err)
	}
	if deleted {
		return nil, fmt.Errorf("%w: record %d in store %q", ErrDeletedRecord, recID, s.desc.Name)
	}
	var values map[string]FieldValue
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, fmt.Errorf("%w: record %d in store %q: %v", ErrRecordCorrupt, recID, s.desc.Name, err)
	}
	return values, nil
}

func (s *Store) writeRow(recID uint64, primaryKey string, values map[string]FieldValue) error {
	blob, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", recID, err)
	}
	_, err = s.db.Exec(fmt.Sprintf(`INSERT INTO %s (rec_id, primary_key, data) VALUES (?,?,?)
		ON CONFLICT(rec_id) DO UPDATE SET primary_key=excluded.primary_key, data=excluded.data`, s.tableName()),
		recID, primaryKey, blob)
	if err != nil {
		return fmt.Errorf("failed to write record %d: %w", recID, err)
	}
	return nil
}

// validateValue checks one provided value against its field descriptor.
func (s *Store) validateValue(fieldName string, v FieldValue) error {
	fd, err := s.desc.FieldByName(fieldName)
	if err != nil {
		return err
	}
	if v.Type != fd.Type {
		return fmt.Errorf("%w: field %q in store %q holds %s, got %s",
			schema.ErrTypeMismatch, fieldName, s.desc.Name, fd.Type, v.Type)
	}
	return nil
}

// validateValues checks every provided (name, value) pair against the
// store's field descriptors and that no non-nullable field is missing.
// Internal fields (field-join bookkeeping) are exempt from the presence
// check; they start out as "no join".
func (s *Store) validateValues(values map[string]FieldValue) error {
	for name, v := range values {
		if err := s.validateValue(name, v); err != nil {
			return err
		}
	}
	for _, fd := range s.desc.Fields() {
		if fd.Flags.Internal || fd.Flags.Nullable {
			continue
		}
		if _, ok := values[fd.Name]; !ok {
			return fmt.Errorf("%w: field %q in store %q", ErrNullViolation, fd.Name, s.desc.Name)
		}
	}
	return nil
}

// AddRec inserts a new record with the given field values (keyed by field
// name) and returns its id. Values are validated against the field
// descriptors before anything is written; fields backing index keys or
// geo locations are indexed as part of the same call.
func (s *Store) AddRec(values map[string]FieldValue) (uint64, error) {
	recID, err := s.addRec(values)
	if err != nil {
		return 0, err
	}
	s.fireOnAdd(recID)
	return recID, nil
}

// addRec is AddRec minus the OnAdd fan-out, so AddRecPayload can wire
// nested joins before any trigger observes the new record.
func (s *Store) addRec(values map[string]FieldValue) (uint64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryStore, "add_rec")
	defer timer.Stop()

	if err := s.validateValues(values); err != nil {
		return 0, err
	}

	s.mu.Lock()
	recID := s.nextRecID
	s.nextRecID++
	s.mu.Unlock()

	primaryKey := ""
	if pf, ok := s.desc.PrimaryField(); ok {
		if v, ok := values[pf.Name]; ok {
			primaryKey = v.Str
		}
	}

	if err := s.writeRow(recID, primaryKey, values); err != nil {
		return 0, err
	}

	for name, v := range values {
		if err := s.indexField(recID, name, v); err != nil {
			return 0, fmt.Errorf("failed to index field %q on record %d: %w", name, recID, err)
		}
	}
	return recID, nil
}

func (s *Store) fireOnAdd(recID uint64) {
	rec := Record{store: s, ID: recID}
	for _, t := range s.triggersSnapshot() {
		t.OnAdd(rec)
	}
}

func (s *Store) triggersSnapshot() []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Trigger(nil), s.triggers...)
}

func (s *Store) indexField(recID uint64, fieldName string, v FieldValue) error {
	fd, err := s.desc.FieldByName(fieldName)
	if err != nil {
		return err
	}
	for _, kid := range fd.KeyIDs {
		key, err := s.index.Voc.Key(schema.KeyID(kid))
		if err != nil {
			return err
		}
		switch key.Type {
		case schema.KeyText:
			for _, word := range v.IndexWords() {
				if err := s.index.IndexText(s.desc.ID, key.Name, recID, word); err != nil {
					return err
				}
			}
		case schema.KeyValue:
			for _, word := range v.IndexWords() {
				if err := s.index.IndexWord(s.desc.ID, key.Name, recID, word, 1); err != nil {
					return err
				}
			}
		case schema.KeyLocation:
			lat, lon, err := v.AsFltPair()
			if err != nil {
				return err
			}
			if err := s.index.GeoAdd(recID, geoindex.Point{Lat: lat, Lon: lon}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) deindexField(recID uint64, fieldName string, v FieldValue) error {
	fd, err := s.desc.FieldByName(fieldName)
	if err != nil {
		return err
	}
	for _, kid := range fd.KeyIDs {
		key, err := s.index.Voc.Key(schema.KeyID(kid))
		if err != nil {
			return err
		}
		switch key.Type {
		case schema.KeyText:
			for _, text := range v.IndexWords() {
				for _, word := range key.TokenizerOrDefault()(text) {
					if err := s.index.DeleteWord(s.desc.ID, key.Name, recID, word); err != nil {
						return err
					}
				}
			}
		case schema.KeyValue:
			for _, word := range v.IndexWords() {
				if err := s.index.DeleteWord(s.desc.ID, key.Name, recID, word); err != nil {
					return err
				}
			}
		case schema.KeyLocation:
			if err := s.index.GeoDel(recID); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetField returns one field's value for recID.
func (s *Store) GetField(recID uint64, fieldName string) (FieldValue, error) {
	if _, err := s.desc.FieldByName(fieldName); err != nil {
		return FieldValue{}, err
	}
	values, err := s.rowValues(recID)
	if err != nil {
		return FieldValue{}, err
	}
	v, ok := values[fieldName]
	if !ok {
		return FieldValue{}, nil
	}
	return v, nil
}

// GetAllFields returns every stored field for recID.
func (s *Store) GetAllFields(recID uint64) (map[string]FieldValue, error) {
	return s.rowValues(recID)
}

// SetField updates one field, re-indexing the old/new values as needed.
func (s *Store) SetField(recID uint64, fieldName string, v FieldValue) error {
	if s.readOnly {
		return ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryStore, "set_field")
	defer timer.Stop()

	if err := s.validateValue(fieldName, v); err != nil {
		return err
	}

	values, err := s.rowValues(recID)
	if err != nil {
		return err
	}
	if old, ok := values[fieldName]; ok {
		if err := s.deindexField(recID, fieldName, old); err != nil {
			return err
		}
	}
	values[fieldName] = v

	primaryKey := ""
	if pf, ok := s.desc.PrimaryField(); ok {
		if pv, ok := values[pf.Name]; ok {
			primaryKey = pv.Str
		}
	}
	if err := s.writeRow(recID, primaryKey, values); err != nil {
		return err
	}
	if err := s.indexField(recID, fieldName, v); err != nil {
		return err
	}

	rec := Record{store: s, ID: recID}
	for _, t := range s.triggersSnapshot() {
		t.OnUpdate(rec, fieldName)
	}
	return nil
}

// DelRec marks recID inactive and removes all its index entries; the row
// itself stays on disk as a tombstone until GarbageCollect reclaims it
// (spec §4.4 "deletion marks the ID as inactive"). Any get_* call against
// recID after this returns ErrDeletedRecord.
func (s *Store) DelRec(recID uint64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryStore, "del_rec")
	defer timer.Stop()

	values, err := s.rowValues(recID)
	if err != nil {
		return err
	}
	for name, v := range values {
		if err := s.deindexField(recID, name, v); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf(`UPDATE %s SET deleted = 1 WHERE rec_id = ?`, s.tableName()), recID); err != nil {
		return fmt.Errorf("failed to delete record %d: %w", recID, err)
	}

	for _, t := range s.triggersSnapshot() {
		t.OnDelete(s.desc.ID, recID)
	}
	return nil
}

// GarbageCollect physically reclaims every tombstoned row (spec §3
// Lifecycle: "deleted by GarbageCollect or explicit delete triggering
// index removals" -- explicit delete only tombstones; this is what
// actually frees the storage). It returns the number of rows reclaimed.
// RecIds of reclaimed rows may be reused by a later AddRec.
func (s *Store) GarbageCollect() (int, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	timer := logging.StartTimer(logging.CategoryStore, "garbage_collect")
	defer timer.Stop()

	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE deleted = 1`, s.tableName()))
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect store %q: %w", s.desc.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count garbage collected rows in store %q: %w", s.desc.Name, err)
	}
	return int(n), nil
}

// GetAllRecIDs returns every live record id in insertion order.
func (s *Store) GetAllRecIDs() ([]uint64, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT rec_id FROM %s WHERE deleted = 0 ORDER BY rec_id ASC`, s.tableName()))
	if err != nil {
		return nil, fmt.Errorf("failed to list records in store %q: %w", s.desc.Name, err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetRndRecs draws n live record ids uniformly at random without
// replacement, using reservoir sampling so the whole table is never
// materialized.
func (s *Store) GetRndRecs(n int, rng *rand.Rand) ([]uint64, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT rec_id FROM %s WHERE deleted = 0 ORDER BY rec_id ASC`, s.tableName()))
	if err != nil {
		return nil, fmt.Errorf("failed to scan store %q for sampling: %w", s.desc.Name, err)
	}
	defer rows.Close()

	reservoir := make([]uint64, 0, n)
	seen := 0
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		seen++
		if len(reservoir) < n {
			reservoir = append(reservoir, id)
			continue
		}
		j := rng.Intn(seen)
		if j < n {
			reservoir[j] = id
		}
	}
	return reservoir, rows.Err()
}

// Rec returns a by-reference Record handle for recID; it does no I/O
// until a field is actually read.
func (s *Store) Rec(recID uint64) Record { return Record{store: s, ID: recID} }

// RecByPrimaryKey resolves a record by its declared primary field (spec
// §3 Store's "optionally maintains a primary-key-like record-name ->
// record-ID map", the `$name`/`rec(name)` lookup path of spec §4.7/§8).
// It errors with ErrMissingPrimaryKey if the store declares no primary
// field, or ErrRecordNotFound if no live record carries key.
func (s *Store) RecByPrimaryKey(key string) (Record, error) {
	if _, ok := s.desc.PrimaryField(); !ok {
		return Record{}, fmt.Errorf("%w: store %q", ErrMissingPrimaryKey, s.desc.Name)
	}
	var recID uint64
	row := s.db.QueryRow(fmt.Sprintf(`SELECT rec_id FROM %s WHERE primary_key = ? AND deleted = 0`, s.tableName()), key)
	if err := row.Scan(&recID); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("%w: primary key %q in store %q", ErrRecordNotFound, key, s.desc.Name)
		}
		return Record{}, fmt.Errorf("failed to look up primary key %q in store %q: %w", key, s.desc.Name, err)
	}
	return Record{store: s, ID: recID}, nil
}

// AddJoin atomically sets the join edge srcRecID -> targetRecID on
// joinName, and -- if that join has a registered inverse -- mirrors the
// edge back (targetRecID -> srcRecID on the inverse join), satisfying the
// symmetric-join invariant (spec §3 JoinDesc, P2).
func (s *Store) AddJoin(joinName string, srcRecID, targetRecID uint64, freq int64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	jd, err := s.desc.JoinByName(joinName)
	if err != nil {
		return err
	}
	if err := s.addJoinEdge(jd, srcRecID, targetRecID, freq); err != nil {
		return err
	}
	if jd.HasInverse {
		targetStore, err := s.lookup.StoreByID(jd.TargetStoreID)
		if err != nil {
			return err
		}
		invJD, err := targetStore.desc.Join(jd.InverseJoinID)
		if err != nil {
			return err
		}
		if err := targetStore.addJoinEdge(invJD, targetRecID, srcRecID, freq); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) addJoinEdge(jd *schema.JoinDesc, srcRecID, dstRecID uint64, freq int64) error {
	switch jd.Kind {
	case schema.FieldJoin:
		recField, err := s.desc.Field(jd.RecIDFieldID)
		if err != nil {
			return err
		}
		freqField, err := s.desc.Field(jd.FreqFieldID)
		if err != nil {
			return err
		}
		if err := s.SetField(srcRecID, recField.Name, UInt64Value(dstRecID)); err != nil {
			return err
		}
		return s.SetField(srcRecID, freqField.Name, IntValue(freq))
	case schema.IndexJoin:
		keyName := joinIndexKeyName(jd.Name, s.desc.ID)
		return s.index.IndexWord(jd.TargetStoreID, keyName, dstRecID, strconv.FormatUint(srcRecID, 10), freq)
	default:
		return fmt.Errorf("unknown join kind %v for join %q", jd.Kind, jd.Name)
	}
}

// DelJoin removes the join edge srcRecID -> targetRecID (and its mirror,
// if one exists).
func (s *Store) DelJoin(joinName string, srcRecID, targetRecID uint64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	jd, err := s.desc.JoinByName(joinName)
	if err != nil {
		return err
	}
	if err := s.delJoinEdge(jd, srcRecID, targetRecID); err != nil {
		return err
	}
	if jd.HasInverse {
		targetStore, err := s.lookup.StoreByID(jd.TargetStoreID)
		if err != nil {
			return err
		}
		invJD, err := targetStore.desc.Join(jd.InverseJoinID)
		if err != nil {
			return err
		}
		if err := targetStore.delJoinEdge(invJD, targetRecID, srcRecID); err != nil {
			return err
		}
	}
	return nil
}

// delJoinEdge removes the single edge srcRecID -> dstRecID. For a
// FieldJoin dstRecID is implied (a source record holds at most one
// target) and is only used to decide whether there's anything to clear;
// for an IndexJoin it identifies which posting to remove from the word
// keyed on srcRecID, since that word's list can hold more than one target.
func (s *Store) delJoinEdge(jd *schema.JoinDesc, srcRecID, dstRecID uint64) error {
	switch jd.Kind {
	case schema.FieldJoin:
		recField, err := s.desc.Field(jd.RecIDFieldID)
		if err != nil {
			return err
		}
		freqField, err := s.desc.Field(jd.FreqFieldID)
		if err != nil {
			return err
		}
		if err := s.SetField(srcRecID, recField.Name, UInt64Value(schema.NoJoinRecID)); err != nil {
			return err
		}
		return s.SetField(srcRecID, freqField.Name, IntValue(0))
	case schema.IndexJoin:
		keyName := joinIndexKeyName(jd.Name, s.desc.ID)
		return s.index.DeleteWord(jd.TargetStoreID, keyName, dstRecID, strconv.FormatUint(srcRecID, 10))
	default:
		return fmt.Errorf("unknown join kind %v for join %q", jd.Kind, jd.Name)
	}
}

func joinIndexKeyName(joinName string, srcStoreID schema.StoreID) string {
	return fmt.Sprintf("__join_%s_%d", joinName, srcStoreID)
}
