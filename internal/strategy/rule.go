package strategy

import (
	"fmt"
	"strings"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
)

// Operator is a threshold comparison.
type Operator string

const (
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpEQ Operator = "=="
)

// Compare applies the operator to a and b.
func (o Operator) Compare(a, b float64) bool {
	switch o {
	case OpLT:
		return a < b
	case OpLE:
		return a <= b
	case OpGT:
		return a > b
	case OpGE:
		return a >= b
	case OpEQ:
		return a == b
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpLT, OpLE, OpGT, OpGE, OpEQ:
		return true
	}
	return false
}

// Condition is the trigger of a rule. The variants are closed:
// Threshold, Crossover and Crossunder.
type Condition interface {
	// Refs returns the series names the condition reads.
	Refs() []string
	isCondition()
}

// Threshold fires when Operator(indicator[t], Value) holds.
type Threshold struct {
	Indicator string   `json:"indicator"`
	Operator  Operator `json:"operator"`
	Value     float64  `json:"value"`
}

// Crossover fires on the day Ind1 moves from <= Ind2 to > Ind2.
type Crossover struct {
	Ind1 string `json:"ind1"`
	Ind2 string `json:"ind2"`
}

// Crossunder fires on the day Ind1 moves from >= Ind2 to < Ind2.
type Crossunder struct {
	Ind1 string `json:"ind1"`
	Ind2 string `json:"ind2"`
}

func (Threshold) isCondition()  {}
func (Crossover) isCondition()  {}
func (Crossunder) isCondition() {}

func (c Threshold) Refs() []string  { return []string{c.Indicator} }
func (c Crossover) Refs() []string  { return []string{c.Ind1, c.Ind2} }
func (c Crossunder) Refs() []string { return []string{c.Ind1, c.Ind2} }

// Rule pairs an action with its trigger.
type Rule struct {
	Action    model.Action
	Condition Condition
}

// RuleSpec is the wire form of a rule. "type" is accepted as an alias of "action".
type RuleSpec struct {
	Action    string   `json:"action,omitempty"`
	Type      string   `json:"type,omitempty"`
	Condition string   `json:"condition"`
	Indicator string   `json:"indicator,omitempty"`
	Operator  string   `json:"operator,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Ind1      string   `json:"ind1,omitempty"`
	Ind2      string   `json:"ind2,omitempty"`
}

// ParseRule converts a wire rule into a typed Rule. Series references are
// checked later, against the configured indicators, by NewEvaluator.
func ParseRule(idx int, rs RuleSpec) (Rule, error) {
	field := fmt.Sprintf("rules[%d]", idx)

	act := rs.Action
	if act == "" {
		act = rs.Type
	}
	var action model.Action
	switch strings.ToLower(strings.TrimSpace(act)) {
	case "buy":
		action = model.ActionBuy
	case "sell":
		action = model.ActionSell
	default:
		return Rule{}, model.ConfigErrorf(field+".action", "must be buy or sell, got %q", act)
	}

	switch strings.ToLower(strings.TrimSpace(rs.Condition)) {
	case "threshold":
		if rs.Indicator == "" {
			return Rule{}, model.ConfigErrorf(field+".indicator", "required for threshold")
		}
		op := Operator(strings.TrimSpace(rs.Operator))
		if !op.valid() {
			return Rule{}, model.ConfigErrorf(field+".operator", "unsupported operator %q", rs.Operator)
		}
		if rs.Value == nil {
			return Rule{}, model.ConfigErrorf(field+".value", "required for threshold")
		}
		return Rule{Action: action, Condition: Threshold{Indicator: rs.Indicator, Operator: op, Value: *rs.Value}}, nil
	case "crossover", "crossunder":
		if rs.Ind1 == "" || rs.Ind2 == "" {
			return Rule{}, model.ConfigErrorf(field, "ind1 and ind2 are required for %s", rs.Condition)
		}
		if strings.EqualFold(rs.Condition, "crossover") {
			return Rule{Action: action, Condition: Crossover{Ind1: rs.Ind1, Ind2: rs.Ind2}}, nil
		}
		return Rule{Action: action, Condition: Crossunder{Ind1: rs.Ind1, Ind2: rs.Ind2}}, nil
	default:
		return Rule{}, model.ConfigErrorf(field+".condition", "unsupported condition %q", rs.Condition)
	}
}

// Config is a validated strategy: indicator specs plus ordered rules.
type Config struct {
	Indicators []indicator.Spec
	Rules      []Rule
}

// Compile validates wire indicators and rules into a Config. Every series a
// rule refers to must be produced by a configured indicator.
func Compile(rawInds []indicator.RawSpec, rawRules []RuleSpec) (Config, error) {
	specs, err := indicator.ParseSpecs(rawInds)
	if err != nil {
		return Config{}, err
	}
	rules := make([]Rule, 0, len(rawRules))
	for i, rs := range rawRules {
		r, err := ParseRule(i, rs)
		if err != nil {
			return Config{}, err
		}
		rules = append(rules, r)
	}
	cfg := Config{Indicators: specs, Rules: rules}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every rule reference names a configured series.
func (c Config) Validate() error {
	known := make(map[string]bool)
	for _, n := range indicator.SeriesNames(c.Indicators) {
		known[n] = true
	}
	for i, r := range c.Rules {
		if r.Condition == nil {
			return model.ConfigErrorf(fmt.Sprintf("rules[%d].condition", i), "missing")
		}
		for _, ref := range r.Condition.Refs() {
			if !known[ref] {
				return model.ConfigErrorf(fmt.Sprintf("rules[%d]", i), "references unconfigured series %q", ref)
			}
		}
	}
	return nil
}
