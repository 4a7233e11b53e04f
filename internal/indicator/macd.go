package indicator

import "stratsim/internal/model"

// MACD calculates moving-average convergence/divergence:
//
//	line      = EMA(fast) - EMA(slow)
//	signal    = EMA(line, signalPeriod)
//	histogram = line - signal
//
// Both price EMAs are defined from the first bar; the signal EMA needs
// signalPeriod line samples. All three outputs are reported together once
// the signal line has warmed up.
type MACD struct {
	fast, slow   *EMA
	signal       *EMA
	signalPeriod int
	line         float64
}

// NewMACD creates a MACD with the given periods.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:         NewEMA(fast),
		slow:         NewEMA(slow),
		signal:       NewEMA(signal),
		signalPeriod: signal,
	}
}

// Update advances both EMAs and the signal line by one close.
func (m *MACD) Update(bar model.Bar) {
	m.fast.Add(bar.Close)
	m.slow.Add(bar.Close)
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Add(m.line)
}

// Ready reports whether the signal EMA has a full window.
func (m *MACD) Ready() bool { return m.signal.Count() >= m.signalPeriod }

// Values returns line, signal and histogram, in that order.
func (m *MACD) Values() []Value {
	if !m.Ready() {
		return []Value{Undefined, Undefined, Undefined}
	}
	sig := m.signal.Value()
	return []Value{Defined(m.line), Defined(sig), Defined(m.line - sig)}
}
