package indicator

// EMA calculates Exponential Moving Average with multiplier 2/(period+1).
// It is seeded with the first value (EMA[0] = x[0]), so it is defined from
// the first sample on. O(1) per update. Used as the MACD building block.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Add feeds one value.
func (e *EMA) Add(x float64) {
	e.count++
	if e.count == 1 {
		e.current = x
		return
	}
	// EMA = (x * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (x * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

// Count returns the number of samples seen.
func (e *EMA) Count() int { return e.count }
