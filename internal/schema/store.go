package schema

import "fmt"

// StoreID is an 8-bit store identifier (domain 0..254, spec §3). 255 is
// reserved as "no store" the same way NoJoinRecID reserves the top of the
// RecId space.
type StoreID uint8

const NoStoreID StoreID = 255

// StoreDesc owns a store's fields, joins and keys plus the name->id maps
// that enforce P1 (uniqueness across fields and joins within a store).
type StoreDesc struct {
	ID   StoreID
	Name string

	fields      []FieldDesc
	joins       []JoinDesc
	keys        []IndexKey
	nameToField map[string]FieldID
	nameToJoin  map[string]JoinID
	primaryID   FieldID
	hasPrimary  bool
}

func newStoreDesc(id StoreID, name string) *StoreDesc {
	return &StoreDesc{
		ID:          id,
		Name:        name,
		nameToField: make(map[string]FieldID),
		nameToJoin:  make(map[string]JoinID),
		primaryID:   -1,
	}
}

func (s *StoreDesc) checkNameFree(name string) error {
	if _, ok := s.nameToField[name]; ok {
		return fmt.Errorf("%w: %q already used by a field in store %q", ErrNameCollision, name, s.Name)
	}
	if _, ok := s.nameToJoin[name]; ok {
		return fmt.Errorf("%w: %q already used by a join in store %q", ErrNameCollision, name, s.Name)
	}
	return nil
}

// AddField registers a new field descriptor and returns its id.
func (s *StoreDesc) AddField(name string, typ FieldType, flags FieldFlags) (FieldID, error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}
	if err := s.checkNameFree(name); err != nil {
		return 0, err
	}
	id := FieldID(len(s.fields))
	s.fields = append(s.fields, FieldDesc{ID: id, Name: name, Type: typ, Flags: flags})
	s.nameToField[name] = id
	if flags.Primary {
		if s.hasPrimary {
			return 0, fmt.Errorf("%w: store %q already has a primary field", ErrNameCollision, s.Name)
		}
		s.primaryID = id
		s.hasPrimary = true
	}
	return id, nil
}

func (s *StoreDesc) Field(id FieldID) (*FieldDesc, error) {
	if id < 0 || int(id) >= len(s.fields) {
		return nil, fmt.Errorf("%w: field id %d in store %q", ErrUnknownField, id, s.Name)
	}
	return &s.fields[id], nil
}

func (s *StoreDesc) FieldByName(name string) (*FieldDesc, error) {
	id, ok := s.nameToField[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in store %q", ErrUnknownField, name, s.Name)
	}
	return s.Field(id)
}

func (s *StoreDesc) Fields() []FieldDesc { return s.fields }

func (s *StoreDesc) PrimaryField() (*FieldDesc, bool) {
	if !s.hasPrimary {
		return nil, false
	}
	f, _ := s.Field(s.primaryID)
	return f, true
}

func (s *StoreDesc) addJoinDesc(name string, jd JoinDesc) (JoinID, error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}
	if err := s.checkNameFree(name); err != nil {
		return 0, err
	}
	id := JoinID(len(s.joins))
	jd.ID = id
	jd.Name = name
	s.joins = append(s.joins, jd)
	s.nameToJoin[name] = id
	return id, nil
}

func (s *StoreDesc) Join(id JoinID) (*JoinDesc, error) {
	if id < 0 || int(id) >= len(s.joins) {
		return nil, fmt.Errorf("%w: join id %d in store %q", ErrUnknownJoin, id, s.Name)
	}
	return &s.joins[id], nil
}

func (s *StoreDesc) JoinByName(name string) (*JoinDesc, error) {
	id, ok := s.nameToJoin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in store %q", ErrUnknownJoin, name, s.Name)
	}
	return s.Join(id)
}

func (s *StoreDesc) Joins() []JoinDesc { return s.joins }

func (s *StoreDesc) addKey(k IndexKey) KeyID {
	k.StoreID = s.ID
	s.keys = append(s.keys, k)
	return k.ID
}

func (s *StoreDesc) Keys() []IndexKey { return s.keys }
