package streamaggr

import (
	"encoding/gob"
	"fmt"
	"io"

	"qminer/internal/schema"
	"qminer/internal/store"
)

// EMA tracks an exponential moving average over one named output of
// another aggregate (spec §4.9 "EMA-style, chained on another aggregate's
// output by name"). It is wired directly to the upstream aggregate's
// FloatSource rather than looked up by name through a base, so its value
// only updates when this aggregate's own OnAddRec/OnUpdateRec/OnDeleteRec
// fires --
// trigger fan-out order between two sibling aggregates is otherwise
// undefined, and an EMA racing its source within the same store mutation
// would be ambiguous.
type EMA struct {
	name      string
	source    FloatSource
	outputKey string
	alpha     float64

	value   float64
	hasInit bool
}

// NewEMA builds an EMA over source's outputKey output with smoothing
// factor alpha in (0, 1]; value = alpha*x + (1-alpha)*value.
func NewEMA(name string, source FloatSource, outputKey string, alpha float64) *EMA {
	return &EMA{name: name, source: source, outputKey: outputKey, alpha: alpha}
}

func (a *EMA) Name() string { return a.name }

func (a *EMA) sample() {
	outs := a.source.FloatOutputs()
	x, ok := outs[a.outputKey]
	if !ok {
		return
	}
	if !a.hasInit {
		a.value = x
		a.hasInit = true
		return
	}
	a.value = a.alpha*x + (1-a.alpha)*a.value
}

func (a *EMA) OnAddRec(rec store.Record) error {
	a.sample()
	return nil
}

func (a *EMA) OnUpdateRec(rec store.Record) error {
	a.sample()
	return nil
}

func (a *EMA) OnDeleteRec(storeID schema.StoreID, recID uint64) error {
	a.sample()
	return nil
}

func (a *EMA) IsInit() bool { return a.hasInit }

func (a *EMA) FloatOutputs() map[string]float64 {
	return map[string]float64{"value": a.value}
}

func (a *EMA) IntOutputs() map[string]int64 { return map[string]int64{} }

type emaState struct {
	Value   float64
	HasInit bool
}

func (a *EMA) SaveState(w io.Writer) error {
	st := emaState{Value: a.value, HasInit: a.hasInit}
	if err := gob.NewEncoder(w).Encode(&st); err != nil {
		return fmt.Errorf("failed to save ema aggregate %q: %w", a.name, err)
	}
	return nil
}

func (a *EMA) LoadState(r io.Reader) error {
	var st emaState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("failed to load ema aggregate %q: %w", a.name, err)
	}
	a.value, a.hasInit = st.Value, st.HasInit
	return nil
}
