package indicator

import "stratsim/internal/model"

// Column is one output series aligned with the input bars.
type Column struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// Series holds the computed columns for one spec.
type Series struct {
	Spec    Spec     `json:"-"`
	Columns []Column `json:"columns"`
}

// Compute runs specs over a complete bar series and returns per-spec columns
// aligned index-for-index with bars.
func Compute(bars []model.Bar, specs []Spec) []Series {
	out := make([]Series, len(specs))
	inds := make([]Indicator, len(specs))
	for i, s := range specs {
		inds[i] = s.New()
		names := s.SeriesNames()
		cols := make([]Column, len(names))
		for j, n := range names {
			cols[j] = Column{Name: n, Values: make([]Value, len(bars))}
		}
		out[i] = Series{Spec: s, Columns: cols}
	}

	for t, bar := range bars {
		for i, ind := range inds {
			ind.Update(bar)
			for j, v := range ind.Values() {
				out[i].Columns[j].Values[t] = v
			}
		}
	}
	return out
}
