package indicator

import "stratsim/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first reading (after period deltas, i.e. at bar index period) is seeded
// with simple averages; later readings use Wilder smoothing.
// Update is O(1) per bar, no history scans.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update consumes the bar's close.
func (r *RSI) Update(bar model.Bar) {
	price := bar.Close
	r.count++

	if r.count == 1 {
		// First bar: just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain := 0.0
	loss := 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFromAverages(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFromAverages(r.avgGain, r.avgLoss)
}

// rsiFromAverages maps average gain/loss to 0..100. A zero average loss
// (including a perfectly flat window) reads 100.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Value returns the latest reading, 0 until Ready.
func (r *RSI) Value() float64 { return r.current }

// Ready reports whether period deltas have been seen.
func (r *RSI) Ready() bool { return r.count > r.period }

// Values returns the single RSI series, undefined until Ready.
func (r *RSI) Values() []Value {
	if !r.Ready() {
		return []Value{Undefined}
	}
	return []Value{Defined(r.current)}
}
