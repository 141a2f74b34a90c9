package streamaggr

import (
	"qminer/internal/logging"
	"qminer/internal/schema"
	"qminer/internal/store"
)

// StreamAggrTrigger adapts a StreamAggrBase into a store.Trigger, fanning
// every add/update/delete out to each registered aggregate in turn. A
// per-aggregate error is logged and suppressed rather than propagated:
// store.Trigger's methods return no error, and one misbehaving aggregate
// must never abort or roll back the record mutation that produced it.
type StreamAggrTrigger struct {
	base *StreamAggrBase
}

func NewStreamAggrTrigger(base *StreamAggrBase) *StreamAggrTrigger {
	return &StreamAggrTrigger{base: base}
}

var _ store.Trigger = (*StreamAggrTrigger)(nil)

func (t *StreamAggrTrigger) OnAdd(rec store.Record) {
	for _, aggr := range t.base.All() {
		if err := aggr.OnAddRec(rec); err != nil {
			logging.Get(logging.CategoryStreamAggr).Warn("aggregate %q OnAddRec failed: %v", aggr.Name(), err)
		}
	}
}

func (t *StreamAggrTrigger) OnUpdate(rec store.Record, changedField string) {
	for _, aggr := range t.base.All() {
		if err := aggr.OnUpdateRec(rec); err != nil {
			logging.Get(logging.CategoryStreamAggr).Warn("aggregate %q OnUpdateRec failed: %v", aggr.Name(), err)
		}
	}
}

func (t *StreamAggrTrigger) OnDelete(storeID schema.StoreID, recID uint64) {
	for _, aggr := range t.base.All() {
		if err := aggr.OnDeleteRec(storeID, recID); err != nil {
			logging.Get(logging.CategoryStreamAggr).Warn("aggregate %q OnDeleteRec failed: %v", aggr.Name(), err)
		}
	}
}
