package store

import "qminer/internal/schema"

// Trigger observes a store's record lifecycle (spec §4.9's stream-aggregate
// pipeline fans out through this interface, but any observer can register).
type Trigger interface {
	OnAdd(rec Record)
	OnUpdate(rec Record, changedField string)
	OnDelete(storeID schema.StoreID, recID uint64)
}
