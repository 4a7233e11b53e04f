package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"stratsim/internal/model"
)

// Kind names a supported indicator family.
type Kind string

const (
	KindSMA  Kind = "SMA"
	KindRSI  Kind = "RSI"
	KindMACD Kind = "MACD"
)

// Defaults used when a parameter is omitted.
const (
	DefaultWindow     = 14
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9

	// MaxWindow bounds every period parameter.
	MaxWindow = 100_000
)

// Spec is a validated indicator configuration. The set of implementations is closed.
type Spec interface {
	Kind() Kind
	// SeriesNames lists the output series this spec produces, in Values order.
	SeriesNames() []string
	// New returns a fresh indicator instance.
	New() Indicator
	sealed()
}

// SMASpec configures SMA(window).
type SMASpec struct {
	Alias  string
	Window int
}

// RSISpec configures RSI(window).
type RSISpec struct {
	Alias  string
	Window int
}

// MACDSpec configures MACD(fast, slow, signal).
type MACDSpec struct {
	Alias              string
	Fast, Slow, Signal int
}

func (SMASpec) Kind() Kind  { return KindSMA }
func (RSISpec) Kind() Kind  { return KindRSI }
func (MACDSpec) Kind() Kind { return KindMACD }

func (SMASpec) sealed()  {}
func (RSISpec) sealed()  {}
func (MACDSpec) sealed() {}

func (s SMASpec) SeriesNames() []string {
	return []string{prefix(s.Alias, fmt.Sprintf("SMA_%d", s.Window))}
}

func (s RSISpec) SeriesNames() []string {
	return []string{prefix(s.Alias, fmt.Sprintf("RSI_%d", s.Window))}
}

func (s MACDSpec) SeriesNames() []string {
	p := prefix(s.Alias, fmt.Sprintf("MACD_%d_%d_%d", s.Fast, s.Slow, s.Signal))
	return []string{p, p + "_signal", p + "_hist"}
}

func (s SMASpec) New() Indicator  { return NewSMA(s.Window) }
func (s RSISpec) New() Indicator  { return NewRSI(s.Window) }
func (s MACDSpec) New() Indicator { return NewMACD(s.Fast, s.Slow, s.Signal) }

func prefix(alias, def string) string {
	if alias != "" {
		return alias
	}
	return def
}

// RawSpec is the wire form of an indicator: {"name"|"kind", "params", "alias"}.
type RawSpec struct {
	Name   string             `json:"name,omitempty"`
	Kind   string             `json:"kind,omitempty"`
	Alias  string             `json:"alias,omitempty"`
	Params map[string]float64 `json:"params,omitempty"`
}

var allowedParams = map[Kind][]string{
	KindSMA:  {"window"},
	KindRSI:  {"window"},
	KindMACD: {"fast", "slow", "signal"},
}

// ParseSpec validates one wire spec. idx is used in error field paths.
func ParseSpec(idx int, raw RawSpec) (Spec, error) {
	field := fmt.Sprintf("indicators[%d]", idx)

	kindStr := raw.Kind
	if kindStr == "" {
		kindStr = raw.Name
	}
	kind := Kind(strings.ToUpper(strings.TrimSpace(kindStr)))
	allowed, ok := allowedParams[kind]
	if !ok {
		if kindStr == "" {
			return nil, model.ConfigErrorf(field+".kind", "missing indicator kind")
		}
		return nil, model.ConfigErrorf(field+".kind", "unsupported indicator %q", kindStr)
	}

	for key := range raw.Params {
		if !contains(allowed, key) {
			return nil, model.ConfigErrorf(field+".params."+key, "unknown parameter for %s", kind)
		}
	}

	param := func(key string, def, min int) (int, error) {
		v, ok := raw.Params[key]
		if !ok {
			return def, nil
		}
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, model.ConfigErrorf(field+".params."+key, "must be an integer, got %v", v)
		}
		if v > MaxWindow {
			return 0, model.ConfigErrorf(field+".params."+key, "must be <= %d, got %v", MaxWindow, v)
		}
		if int(v) < min {
			return 0, model.ConfigErrorf(field+".params."+key, "must be >= %d, got %d", min, int(v))
		}
		return int(v), nil
	}

	switch kind {
	case KindSMA, KindRSI:
		w, err := param("window", DefaultWindow, 2)
		if err != nil {
			return nil, err
		}
		if kind == KindSMA {
			return SMASpec{Alias: raw.Alias, Window: w}, nil
		}
		return RSISpec{Alias: raw.Alias, Window: w}, nil
	default:
		fast, err := param("fast", DefaultMACDFast, 1)
		if err != nil {
			return nil, err
		}
		slow, err := param("slow", DefaultMACDSlow, 1)
		if err != nil {
			return nil, err
		}
		signal, err := param("signal", DefaultMACDSignal, 1)
		if err != nil {
			return nil, err
		}
		if fast >= slow {
			return nil, model.ConfigErrorf(field+".params", "fast (%d) must be < slow (%d)", fast, slow)
		}
		return MACDSpec{Alias: raw.Alias, Fast: fast, Slow: slow, Signal: signal}, nil
	}
}

// ParseSpecs validates a list of wire specs and rejects duplicate series names.
func ParseSpecs(raws []RawSpec) ([]Spec, error) {
	specs := make([]Spec, 0, len(raws))
	seen := make(map[string]bool)
	for i, raw := range raws {
		spec, err := ParseSpec(i, raw)
		if err != nil {
			return nil, err
		}
		for _, name := range spec.SeriesNames() {
			if seen[name] {
				return nil, model.ConfigErrorf(fmt.Sprintf("indicators[%d]", i), "duplicate series name %q", name)
			}
			seen[name] = true
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SeriesNames returns every series produced by specs, sorted.
func SeriesNames(specs []Spec) []string {
	var names []string
	for _, s := range specs {
		names = append(names, s.SeriesNames()...)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
