package simulation

import (
	"time"

	"stratsim/internal/indicator"
	"stratsim/internal/model"
)

// Phase is the driver lifecycle stage a day was processed in.
type Phase string

const (
	PhaseWarmup     Phase = "WARMUP"
	PhaseActive     Phase = "ACTIVE"
	PhaseTerminated Phase = "TERMINATED"
)

// Period is a contiguous run of bars.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

func periodOf(bars []model.Bar) *Period {
	if len(bars) == 0 {
		return nil
	}
	return &Period{Start: bars[0].Day(), End: bars[len(bars)-1].Day(), Days: len(bars)}
}

// Info describes a run before its first day is simulated.
type Info struct {
	Ticker           string   `json:"ticker"`
	TrainingPeriod   *Period  `json:"training_period"`
	SimulationPeriod Period   `json:"simulation_period"`
	InitialCapital   float64  `json:"initial_capital"`
	Series           []string `json:"series"`
}

// State is the per-day snapshot emitted after each simulated bar.
type State struct {
	DayIndex    int                `json:"day_index"` // index into the full bar series
	Day         int                `json:"day"`       // 1-based within the simulated period
	TotalDays   int                `json:"total_days"`
	Date        string             `json:"date"`
	Bar         model.Bar          `json:"bar"`
	Indicators  indicator.Snapshot `json:"indicators"`
	Phase       Phase              `json:"phase"`
	Signal      model.Signal       `json:"signal"`
	Position    model.Position     `json:"position"`
	Capital     float64            `json:"capital"`
	Equity      float64            `json:"equity"`
	Trade       *model.Trade       `json:"trade"`
	TotalTrades int                `json:"total_trades"`
	ReturnPct   float64            `json:"return_pct"`
}

// Result summarises a completed run.
type Result struct {
	Ticker         string        `json:"ticker"`
	InitialCapital float64       `json:"initial_capital"`
	FinalEquity    float64       `json:"final_equity"`
	TotalReturn    float64       `json:"total_return"`
	ReturnPct      float64       `json:"return_pct"`
	TradeCount     int           `json:"trade_count"`
	Trades         []model.Trade `json:"trades"`
	EquityCurve    []float64     `json:"equity_curve"`
	MaxEquity      float64       `json:"max_equity"`
	MinEquity      float64       `json:"min_equity"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	DaysSimulated  int           `json:"days_simulated"`
	WinRate        float64       `json:"win_rate"`
	StartDate      string        `json:"start_date,omitempty"`
	EndDate        string        `json:"end_date,omitempty"`
}

// EventType names a stream message.
type EventType string

const (
	EventInfo     EventType = "info"
	EventUpdate   EventType = "update"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item of a simulation stream. The variants are closed:
// InfoEvent, UpdateEvent, CompleteEvent and ErrorEvent. A stream ends with
// exactly one CompleteEvent or ErrorEvent, unless it was cancelled.
type Event interface {
	Type() EventType
	// Terminal reports whether no event can follow this one.
	Terminal() bool
}

type InfoEvent struct{ Info Info }
type UpdateEvent struct{ State State }
type CompleteEvent struct{ Result Result }
type ErrorEvent struct{ Err error }

func (InfoEvent) Type() EventType     { return EventInfo }
func (UpdateEvent) Type() EventType   { return EventUpdate }
func (CompleteEvent) Type() EventType { return EventComplete }
func (ErrorEvent) Type() EventType    { return EventError }

func (InfoEvent) Terminal() bool     { return false }
func (UpdateEvent) Terminal() bool   { return false }
func (CompleteEvent) Terminal() bool { return true }
func (ErrorEvent) Terminal() bool    { return true }

func dateOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}
