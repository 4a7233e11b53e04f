package model

import "time"

// Action is the side of a fill or of a rule.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is the day's decision produced by rule evaluation.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Trade is an immutable record of one fill at the daily close.
type Trade struct {
	Date   time.Time `json:"date"`
	Action Action    `json:"action"`
	Price  float64   `json:"price"`
	Shares float64   `json:"shares"`
}

// Position is the single open holding of a run. Shares == 0 means flat.
type Position struct {
	Shares     float64 `json:"shares"`
	EntryPrice float64 `json:"entry_price"`
}

// Flat reports whether no shares are held.
func (p Position) Flat() bool {
	return p.Shares == 0
}

// Value returns the market value of the position at price.
func (p Position) Value(price float64) float64 {
	return p.Shares * price
}
