package indicator

import "stratsim/internal/model"

// Engine computes every configured indicator for one bar series.
// Single-goroutine: each simulation owns its own Engine.
type Engine struct {
	specs      []Spec
	indicators []Indicator
}

// NewEngine creates an engine with fresh indicator instances for specs.
// specs are assumed validated (see ParseSpecs).
func NewEngine(specs []Spec) *Engine {
	inds := make([]Indicator, len(specs))
	for i, s := range specs {
		inds[i] = s.New()
	}
	return &Engine{specs: specs, indicators: inds}
}

// Process feeds the next bar to every indicator and returns a new snapshot
// of all series values after that bar.
func (e *Engine) Process(bar model.Bar) Snapshot {
	snap := make(Snapshot, len(e.indicators))
	for i, ind := range e.indicators {
		ind.Update(bar)
		names := e.specs[i].SeriesNames()
		for j, v := range ind.Values() {
			snap[names[j]] = v
		}
	}
	return snap
}

// Names returns all series names, sorted.
func (e *Engine) Names() []string { return SeriesNames(e.specs) }
