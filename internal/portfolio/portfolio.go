// Package portfolio tracks the single-asset position, cash and P&L of one simulation.
//
// The Accountant is all-in/all-out: a BUY while flat converts all cash into
// shares at the bar's close, a SELL while long liquidates everything at the
// close. Fills are zero-fee. One Accountant belongs to one run and is not
// safe for concurrent use.
package portfolio

import (
	"stratsim/internal/model"
)

// Accountant applies daily signals to capital and position.
type Accountant struct {
	initial  float64
	capital  float64
	position model.Position
	trades   []model.Trade
	pnl      *PnLTracker
}

// NewAccountant creates a flat accountant holding initialCapital in cash.
func NewAccountant(initialCapital float64) *Accountant {
	return &Accountant{
		initial: initialCapital,
		capital: initialCapital,
		trades:  make([]model.Trade, 0, 16),
		pnl:     NewPnLTracker(),
	}
}

// Apply executes sig at bar's close and returns the resulting fill, or nil
// when the signal is a no-op (HOLD, BUY while long, SELL while flat).
func (a *Accountant) Apply(sig model.Signal, bar model.Bar) *model.Trade {
	price := bar.Close
	switch {
	case sig == model.SignalBuy && a.position.Flat():
		if a.capital <= 0 || price <= 0 {
			return nil
		}
		shares := a.capital / price
		a.position = model.Position{Shares: shares, EntryPrice: price}
		a.capital = 0
		return a.record(model.Trade{Date: bar.Date, Action: model.ActionBuy, Price: price, Shares: shares})

	case sig == model.SignalSell && !a.position.Flat():
		shares := a.position.Shares
		a.capital += shares * price
		a.position = model.Position{}
		return a.record(model.Trade{Date: bar.Date, Action: model.ActionSell, Price: price, Shares: shares})
	}
	return nil
}

func (a *Accountant) record(t model.Trade) *model.Trade {
	a.trades = append(a.trades, t)
	a.pnl.RecordTrade(t)
	return &t
}

// Equity is capital + shares*close.
func (a *Accountant) Equity(close float64) float64 {
	return a.capital + a.position.Value(close)
}

func (a *Accountant) Capital() float64         { return a.capital }
func (a *Accountant) InitialCapital() float64  { return a.initial }
func (a *Accountant) Position() model.Position { return a.position }
func (a *Accountant) TradeCount() int          { return len(a.trades) }

// Trades returns a copy of all fills so far.
func (a *Accountant) Trades() []model.Trade {
	cp := make([]model.Trade, len(a.trades))
	copy(cp, a.trades)
	return cp
}

// PnL returns the realized/unrealized summary at the given close.
func (a *Accountant) PnL(close float64) PnLSummary {
	return a.pnl.Summary(close)
}
