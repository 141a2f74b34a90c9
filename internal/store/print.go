package store

import (
	"encoding/json"
	"fmt"
	"io"

	"qminer/internal/schema"
)

// PrintTypes writes the store's field, join and key layout to w. The
// format is a human-readable diagnostic and not stable.
func (s *Store) PrintTypes(w io.Writer) {
	fmt.Fprintf(w, "store %s (id=%d)\n", s.desc.Name, s.desc.ID)
	for _, fd := range s.desc.Fields() {
		flags := ""
		if fd.Flags.Primary {
			flags += " primary"
		}
		if fd.Flags.Nullable {
			flags += " nullable"
		}
		if fd.Flags.Internal {
			flags += " internal"
		}
		fmt.Fprintf(w, "  field %-3d %-20s %s%s\n", fd.ID, fd.Name, fd.Type, flags)
	}
	for _, jd := range s.desc.Joins() {
		kind := "field-join"
		if jd.Kind == schema.IndexJoin {
			kind = "index-join"
		}
		inverse := ""
		if jd.HasInverse {
			inverse = fmt.Sprintf(" inverse=%d", jd.InverseJoinID)
		}
		fmt.Fprintf(w, "  join  %-3d %-20s %s -> store %d%s\n", jd.ID, jd.Name, kind, jd.TargetStoreID, inverse)
	}
	for _, k := range s.desc.Keys() {
		fmt.Fprintf(w, "  key   %-3d %s\n", k.ID, k.Name)
	}
}

// PrintRecordSet writes one line per record in rs: id, freq, and the
// record's fields as JSON.
func (s *Store) PrintRecordSet(w io.Writer, rs RecordSet) error {
	fmt.Fprintf(w, "record set over %s: %d records\n", s.desc.Name, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		id := rs.ids[i]
		values, err := s.GetAllFields(id)
		if err != nil {
			return err
		}
		row := make(map[string]interface{}, len(values))
		for name, v := range values {
			row[name] = fieldValueJSON(v)
		}
		body, err := json.Marshal(row)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  [%d] fq=%d %s\n", id, rs.freqs[i], body)
	}
	return nil
}

// PrintAll writes every live record, truncated at limit when limit >= 0.
func (s *Store) PrintAll(w io.Writer, limit int) error {
	ids, err := s.GetAllRecIDs()
	if err != nil {
		return err
	}
	rs := NewRecordSet(s, ids)
	if limit >= 0 {
		rs = rs.Trunc(limit)
	}
	return s.PrintRecordSet(w, rs)
}
