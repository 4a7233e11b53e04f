// Package strategy turns indicator snapshots into daily trading signals.
//
// A Config holds the validated indicators and ordered rules of one strategy.
// The Evaluator checks each rule against the current and previous snapshot and
// reduces the satisfied set to a single Signal: any satisfied SELL rule wins,
// otherwise any satisfied BUY rule, otherwise HOLD.
package strategy

import (
	"fmt"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
)

// Decision is the outcome of evaluating all rules for one day.
type Decision struct {
	Signal model.Signal
	Buy    []int // indices of satisfied BUY rules, in configured order
	Sell   []int // indices of satisfied SELL rules, in configured order
}

// Evaluator applies an ordered rule list. It holds no per-day state;
// the caller passes the previous snapshot for crossover detection.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator validates that every reference in rules is one of series.
func NewEvaluator(rules []Rule, series []string) (*Evaluator, error) {
	known := make(map[string]bool, len(series))
	for _, s := range series {
		known[s] = true
	}
	for i, r := range rules {
		if r.Condition == nil {
			return nil, model.ConfigErrorf(fmt.Sprintf("rules[%d].condition", i), "missing")
		}
		if r.Action != model.ActionBuy && r.Action != model.ActionSell {
			return nil, model.ConfigErrorf(fmt.Sprintf("rules[%d].action", i), "must be BUY or SELL")
		}
		for _, ref := range r.Condition.Refs() {
			if !known[ref] {
				return nil, model.ConfigErrorf(fmt.Sprintf("rules[%d]", i), "references unconfigured series %q", ref)
			}
		}
	}
	return &Evaluator{rules: rules}, nil
}

// Evaluate returns the decision for the day whose snapshot is cur.
// prev is nil on the first day, so crossover conditions cannot fire there.
func (e *Evaluator) Evaluate(prev, cur indicator.Snapshot) Decision {
	d := Decision{Signal: model.SignalHold}
	for i, r := range e.rules {
		if !Satisfied(r.Condition, prev, cur) {
			continue
		}
		if r.Action == model.ActionSell {
			d.Sell = append(d.Sell, i)
		} else {
			d.Buy = append(d.Buy, i)
		}
	}
	switch {
	case len(d.Sell) > 0:
		d.Signal = model.SignalSell
	case len(d.Buy) > 0:
		d.Signal = model.SignalBuy
	}
	return d
}

// Satisfied reports whether c holds. Undefined inputs never satisfy.
func Satisfied(c Condition, prev, cur indicator.Snapshot) bool {
	switch c := c.(type) {
	case Threshold:
		v := cur.Get(c.Indicator)
		return v.Defined && c.Operator.Compare(v.V, c.Value)
	case Crossover:
		p1, p2, c1, c2, ok := pair(c.Ind1, c.Ind2, prev, cur)
		return ok && p1 <= p2 && c1 > c2
	case Crossunder:
		p1, p2, c1, c2, ok := pair(c.Ind1, c.Ind2, prev, cur)
		return ok && p1 >= p2 && c1 < c2
	default:
		panic(fmt.Sprintf("strategy: unhandled condition %T", c))
	}
}

func pair(a, b string, prev, cur indicator.Snapshot) (p1, p2, c1, c2 float64, ok bool) {
	if prev == nil {
		return 0, 0, 0, 0, false
	}
	pa, pb, ca, cb := prev.Get(a), prev.Get(b), cur.Get(a), cur.Get(b)
	if !pa.Defined || !pb.Defined || !ca.Defined || !cb.Defined {
		return 0, 0, 0, 0, false
	}
	return pa.V, pb.V, ca.V, cb.V, true
}
