package store

import (
	"fmt"
	"sort"
)

// RecPayload is a structured record literal: field values plus nested
// join payloads, the shape a `{name:"Ada", wrote:[{title:"X"}]}` style
// insert decomposes into. Evaluating it creates the record, then its
// join targets, then the join edges between them.
type RecPayload struct {
	Fields map[string]FieldValue
	Joins  map[string][]JoinTarget
}

// JoinTarget is one nested join entry: the target record literal and an
// optional weight (0 means 1).
type JoinTarget struct {
	Rec  RecPayload
	Freq int64
}

// AddRecPayload inserts a record together with its nested join payloads.
// Target records are resolved by primary key where possible and created
// otherwise; every join edge (and its inverse, if declared) is wired
// before OnAdd fires, so no trigger observes the record half-built.
func (s *Store) AddRecPayload(p RecPayload) (uint64, error) {
	recID, err := s.addRec(p.Fields)
	if err != nil {
		return 0, err
	}

	joinNames := make([]string, 0, len(p.Joins))
	for name := range p.Joins {
		joinNames = append(joinNames, name)
	}
	sort.Strings(joinNames)

	for _, joinName := range joinNames {
		jd, err := s.desc.JoinByName(joinName)
		if err != nil {
			return 0, err
		}
		targetStore, err := s.lookup.StoreByID(jd.TargetStoreID)
		if err != nil {
			return 0, err
		}
		for _, jt := range p.Joins[joinName] {
			targetID, err := targetStore.resolveOrAddPayload(jt.Rec)
			if err != nil {
				return 0, fmt.Errorf("failed to evaluate join payload %q on record %d: %w", joinName, recID, err)
			}
			freq := jt.Freq
			if freq == 0 {
				freq = 1
			}
			if err := s.AddJoin(joinName, recID, targetID, freq); err != nil {
				return 0, err
			}
		}
	}

	s.fireOnAdd(recID)
	return recID, nil
}

// resolveOrAddPayload reuses an existing record when the payload carries
// an already-known primary key, and creates a new one (recursively
// evaluating its own nested joins) otherwise.
func (s *Store) resolveOrAddPayload(p RecPayload) (uint64, error) {
	if pf, ok := s.desc.PrimaryField(); ok {
		if v, ok := p.Fields[pf.Name]; ok {
			if rec, err := s.RecByPrimaryKey(v.Str); err == nil {
				return rec.ID, nil
			}
		}
	}
	return s.AddRecPayload(p)
}
