package schema

import "fmt"

// Schema is the root registry: the set of stores and the cross-links
// between their fields, joins and keys (spec C5).
type Schema struct {
	stores     []*StoreDesc
	nameToID   map[string]StoreID
	nextKeyID  KeyID
}

func New() *Schema {
	return &Schema{nameToID: make(map[string]StoreID)}
}

// AddStore registers a new store and returns its descriptor. Store IDs are
// assigned densely starting at 0; 0 is a valid store id (only RecId 0 is
// reserved, per the Open Question decision in DESIGN.md).
func (s *Schema) AddStore(name string) (*StoreDesc, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	if _, ok := s.nameToID[name]; ok {
		return nil, fmt.Errorf("%w: store %q", ErrNameCollision, name)
	}
	if len(s.stores) >= int(NoStoreID) {
		return nil, ErrStoreIDExhausted
	}
	id := StoreID(len(s.stores))
	sd := newStoreDesc(id, name)
	s.stores = append(s.stores, sd)
	s.nameToID[name] = id
	return sd, nil
}

func (s *Schema) Store(id StoreID) (*StoreDesc, error) {
	if int(id) >= len(s.stores) {
		return nil, fmt.Errorf("%w: store id %d", ErrUnknownStore, id)
	}
	return s.stores[id], nil
}

func (s *Schema) StoreByName(name string) (*StoreDesc, error) {
	id, ok := s.nameToID[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return s.Store(id)
}

func (s *Schema) Stores() []*StoreDesc { return s.stores }

func (s *Schema) allocKeyID() KeyID {
	id := s.nextKeyID
	s.nextKeyID++
	return id
}

// AddIndexKey registers an IndexKey on a store and assigns it a globally
// unique KeyID (spec §4.1: IndexVoc "assigns key IDs, globally unique
// across stores" -- Schema does the assignment so Store/Vocab agree on ids
// without a dependency cycle between the two packages).
func (s *Schema) AddIndexKey(storeID StoreID, name string, typ KeyType, sort SortType, fieldIDs []FieldID, tok Tokenizer) (KeyID, error) {
	sd, err := s.Store(storeID)
	if err != nil {
		return 0, err
	}
	k := IndexKey{
		ID:       s.allocKeyID(),
		StoreID:  storeID,
		Name:     name,
		Type:     typ,
		SortType: sort,
		FieldIDs: fieldIDs,
		Tokenizer: tok,
	}
	id := sd.addKey(k)
	for _, fid := range fieldIDs {
		fd, err := sd.Field(fid)
		if err != nil {
			return 0, err
		}
		fd.KeyIDs = append(fd.KeyIDs, int(id))
	}
	return id, nil
}

// AddFieldJoin registers a field-backed join: two hidden fields (RecId
// UInt64, Freq Int) on the source store, initialized to (NoJoinRecID, 0)
// (spec §4.5).
func (s *Schema) AddFieldJoin(srcStore StoreID, name string, targetStore StoreID) (JoinID, error) {
	src, err := s.Store(srcStore)
	if err != nil {
		return 0, err
	}
	if _, err := s.Store(targetStore); err != nil {
		return 0, fmt.Errorf("%w: join %q targets unregistered store %d", ErrForwardJoinReference, name, targetStore)
	}
	recField, err := src.AddField(name+"_RecId", FieldUInt64, FieldFlags{Internal: true})
	if err != nil {
		return 0, err
	}
	freqField, err := src.AddField(name+"_Freq", FieldInt, FieldFlags{Internal: true})
	if err != nil {
		return 0, err
	}
	jd := JoinDesc{
		TargetStoreID: targetStore,
		Kind:          FieldJoin,
		InverseJoinID: NoJoin,
		RecIDFieldID:  recField,
		FreqFieldID:   freqField,
	}
	return src.addJoinDesc(name, jd)
}

// AddIndexJoin registers an index-backed join: a KeyInternal index key is
// created in the target store's namespace (spec §4.5).
func (s *Schema) AddIndexJoin(srcStore StoreID, name string, targetStore StoreID) (JoinID, error) {
	src, err := s.Store(srcStore)
	if err != nil {
		return 0, err
	}
	if _, err := s.Store(targetStore); err != nil {
		return 0, fmt.Errorf("%w: join %q targets unregistered store %d", ErrForwardJoinReference, name, targetStore)
	}
	keyID, err := s.AddIndexKey(targetStore, fmt.Sprintf("__join_%s_%d", name, srcStore), KeyInternal, SortByID, nil, nil)
	if err != nil {
		return 0, err
	}
	jd := JoinDesc{
		TargetStoreID: targetStore,
		Kind:          IndexJoin,
		InverseJoinID: NoJoin,
		IndexKeyID:    int(keyID),
	}
	return src.addJoinDesc(name, jd)
}

// LinkInverse wires two joins as inverses of each other (spec §3 JoinDesc
// invariant, P2). Both joins must already be registered.
func (s *Schema) LinkInverse(storeA StoreID, joinA JoinID, storeB StoreID, joinB JoinID) error {
	a, err := s.Store(storeA)
	if err != nil {
		return err
	}
	b, err := s.Store(storeB)
	if err != nil {
		return err
	}
	ja, err := a.Join(joinA)
	if err != nil {
		return err
	}
	jb, err := b.Join(joinB)
	if err != nil {
		return err
	}
	if ja.TargetStoreID != storeB || jb.TargetStoreID != storeA {
		return fmt.Errorf("%w: join %q/%q do not target each other's stores", ErrTypeMismatch, ja.Name, jb.Name)
	}
	ja.InverseJoinID = joinB
	ja.InverseStoreID = storeB
	ja.HasInverse = true
	jb.InverseJoinID = joinA
	jb.InverseStoreID = storeA
	jb.HasInverse = true
	return nil
}
