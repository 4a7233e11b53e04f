package portfolio

// EquityTracker follows the equity curve and its peak-to-trough drawdown.
type EquityTracker struct {
	count        int
	max, min     float64
	peak         float64
	maxDrawdown  float64 // fraction 0..1
	lastEquity   float64
	limitPct     float64
	limitTripped bool
}

// NewEquityTracker creates a tracker. A positive drawdownLimitPct (0-100)
// makes Record report the first day drawdown exceeds it.
func NewEquityTracker(drawdownLimitPct float64) *EquityTracker {
	return &EquityTracker{limitPct: drawdownLimitPct}
}

// Record adds one equity point. It returns true exactly once: on the first
// point whose drawdown exceeds the configured limit.
func (et *EquityTracker) Record(equity float64) bool {
	et.count++
	et.lastEquity = equity
	if et.count == 1 {
		et.max, et.min, et.peak = equity, equity, equity
	}
	if equity > et.max {
		et.max = equity
	}
	if equity < et.min {
		et.min = equity
	}
	if equity > et.peak {
		et.peak = equity
	}
	if et.peak > 0 {
		if dd := (et.peak - equity) / et.peak; dd > et.maxDrawdown {
			et.maxDrawdown = dd
		}
	}
	if et.limitPct > 0 && !et.limitTripped && et.DrawdownPct() > et.limitPct {
		et.limitTripped = true
		return true
	}
	return false
}

// DrawdownPct returns the current drawdown from peak in percent.
func (et *EquityTracker) DrawdownPct() float64 {
	if et.peak <= 0 {
		return 0
	}
	return (et.peak - et.lastEquity) / et.peak * 100
}

// RiskStatus is a point-in-time view of the equity curve.
type RiskStatus struct {
	MaxEquity      float64 `json:"max_equity"`
	MinEquity      float64 `json:"min_equity"`
	PeakEquity     float64 `json:"peak_equity"`
	DrawdownPct    float64 `json:"drawdown_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Points         int     `json:"points"`
}

// Status returns the current risk status.
func (et *EquityTracker) Status() RiskStatus {
	return RiskStatus{
		MaxEquity:      et.max,
		MinEquity:      et.min,
		PeakEquity:     et.peak,
		DrawdownPct:    et.DrawdownPct(),
		MaxDrawdownPct: et.maxDrawdown * 100,
		Points:         et.count,
	}
}
