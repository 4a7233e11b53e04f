package portfolio

import "stratsim/internal/model"

// PnLTracker tracks realized P&L over completed round trips (BUY then SELL).
type PnLTracker struct {
	trades int

	// Realized P&L from closed positions
	realizedPnL float64
	roundTrips  int
	wins        int

	// Cost basis of the open position
	openQty   float64
	openPrice float64
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{}
}

// RecordTrade records a fill and returns the P&L it realized (0 for buys).
func (p *PnLTracker) RecordTrade(t model.Trade) float64 {
	p.trades++

	if t.Action == model.ActionBuy {
		if p.openQty == 0 {
			p.openQty = t.Shares
			p.openPrice = t.Price
		} else {
			// Weighted average price
			totalCost := p.openPrice*p.openQty + t.Price*t.Shares
			p.openQty += t.Shares
			p.openPrice = totalCost / p.openQty
		}
		return 0
	}

	// Reduce position, calculate realized P&L
	qty := t.Shares
	if qty > p.openQty {
		qty = p.openQty
	}
	realized := (t.Price - p.openPrice) * qty
	p.openQty -= qty
	if p.openQty <= 0 {
		p.openQty = 0
		p.openPrice = 0
		p.roundTrips++
		if realized > 0 {
			p.wins++
		}
	}
	p.realizedPnL += realized
	return realized
}

// PnLSummary is the P&L view of a run.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	RoundTrips    int     `json:"round_trips"`
	WinRate       float64 `json:"win_rate"`
}

// Summary returns the current P&L summary, marking the open position at price.
func (p *PnLTracker) Summary(price float64) PnLSummary {
	unrealized := 0.0
	if p.openQty > 0 {
		unrealized = (price - p.openPrice) * p.openQty
	}
	winRate := 0.0
	if p.roundTrips > 0 {
		winRate = float64(p.wins) / float64(p.roundTrips)
	}
	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		TotalTrades:   p.trades,
		RoundTrips:    p.roundTrips,
		WinRate:       winRate,
	}
}
