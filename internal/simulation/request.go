package simulation

import (
	"math"
	"strings"
	"time"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
	"stratsim/internal/strategy"
)

// DefaultInitialCapital is used when a request omits initial_capital.
const DefaultInitialCapital = 10000.0

// Request is the wire form of a strategy run, shared by every transport.
type Request struct {
	Ticker         string              `json:"ticker"`
	Indicators     []indicator.RawSpec `json:"indicators"`
	Rules          []strategy.RuleSpec `json:"rules"`
	InitialCapital *float64            `json:"initial_capital,omitempty"`
	StartDate      string              `json:"start_date,omitempty"`
	EndDate        string              `json:"end_date,omitempty"`
	Speed          *float64            `json:"speed,omitempty"`
	TrainRatio     *float64            `json:"train_ratio,omitempty"`
}

// Plan is a validated Request.
type Plan struct {
	Ticker         string
	Strategy       strategy.Config
	InitialCapital float64
	Start, End     time.Time // zero means unbounded
	Speed          float64
	TrainRatio     float64
}

// Defaults fill optional request fields.
type Defaults struct {
	Speed      float64
	MaxSpeed   float64
	TrainRatio float64
}

// Validate checks the request and applies defaults. Every failure is a ConfigError.
func (r Request) Validate(def Defaults) (Plan, error) {
	ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
	if ticker == "" {
		return Plan{}, model.ConfigErrorf("ticker", "must not be empty")
	}

	cfg, err := strategy.Compile(r.Indicators, r.Rules)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Ticker:         ticker,
		Strategy:       cfg,
		InitialCapital: DefaultInitialCapital,
		Speed:          def.Speed,
		TrainRatio:     def.TrainRatio,
	}

	if r.InitialCapital != nil {
		c := *r.InitialCapital
		if !(c > 0) || math.IsInf(c, 0) {
			return Plan{}, model.ConfigErrorf("initial_capital", "must be > 0, got %v", c)
		}
		p.InitialCapital = c
	}
	if r.Speed != nil {
		s := *r.Speed
		if !(s > 0) || math.IsInf(s, 0) {
			return Plan{}, model.ConfigErrorf("speed", "must be > 0, got %v", s)
		}
		if def.MaxSpeed > 0 && s > def.MaxSpeed {
			return Plan{}, model.ConfigErrorf("speed", "must be <= %v, got %v", def.MaxSpeed, s)
		}
		p.Speed = s
	}
	if r.TrainRatio != nil {
		p.TrainRatio = *r.TrainRatio
	}
	if p.TrainRatio < 0 || p.TrainRatio >= 1 || math.IsNaN(p.TrainRatio) {
		return Plan{}, model.ConfigErrorf("train_ratio", "must be in [0, 1), got %v", p.TrainRatio)
	}

	if r.StartDate != "" {
		if p.Start, err = time.Parse(model.DateLayout, r.StartDate); err != nil {
			return Plan{}, model.ConfigErrorf("start_date", "want YYYY-MM-DD, got %q", r.StartDate)
		}
	}
	if r.EndDate != "" {
		if p.End, err = time.Parse(model.DateLayout, r.EndDate); err != nil {
			return Plan{}, model.ConfigErrorf("end_date", "want YYYY-MM-DD, got %q", r.EndDate)
		}
	}
	return p, nil
}
