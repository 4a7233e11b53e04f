package indicator

import "stratsim/internal/model"

// SMA calculates Simple Moving Average of closes over a rolling window.
// The circular buffer grows with the closes seen until it holds period of
// them; defined once period closes are seen.
type SMA struct {
	period int
	buf    []float64 // circular once len(buf) == period
	idx    int       // current write position
	count  int       // total values received
	sum    float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, 0, min(period, smaInitialCap)),
	}
}

const smaInitialCap = 256

// Update feeds the bar's close.
func (s *SMA) Update(bar model.Bar) { s.Add(bar.Close) }

// Add feeds one raw value.
func (s *SMA) Add(price float64) {
	if len(s.buf) < s.period {
		s.buf = append(s.buf, price)
	} else {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
		s.buf[s.idx] = price
	}
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++
}

// Value returns the current mean. Only meaningful when Ready.
func (s *SMA) Value() float64 {
	if s.count < s.period {
		return 0
	}
	return s.sum / float64(s.period)
}

// Ready reports whether period closes have been seen.
func (s *SMA) Ready() bool { return s.count >= s.period }

// Values returns the mean, undefined during warm-up.
func (s *SMA) Values() []Value {
	if !s.Ready() {
		return []Value{Undefined}
	}
	return []Value{Defined(s.Value())}
}
