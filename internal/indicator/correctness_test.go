package indicator

import (
	"fmt"
	"math"
	"testing"
	"time"

	"stratsim/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) model.Bar {
	return model.Bar{
		Date: day0.AddDate(0, 0, i),
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
	}
}

func bars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = bar(i, c)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after bar 3: (100+102+104)/3 = 102.0000
	// SMA after bar 4: (102+104+103)/3 = 103.0000
	// SMA after bar 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(bar(i, p))
		if sma.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		v := sma.Values()[0]
		if v.Defined != ready[i] {
			t.Errorf("bar %d: Defined=%v, want %v", i, v.Defined, ready[i])
		}
		if ready[i] {
			assertClose(t, fmt.Sprintf("SMA(3) bar %d", i), v.V, expected[i], 1e-9)
		}
	}
}

func TestSMA_Correctness_Period5(t *testing.T) {
	// Prices: 10, 11, 12, 13, 14, 15, 16
	// SMA(5) after bar 5: 12.0, bar 6: 13.0, bar 7: 14.0
	sma := NewSMA(5)
	prices := []float64{10, 11, 12, 13, 14, 15, 16}
	expected := map[int]float64{4: 12.0, 5: 13.0, 6: 14.0}

	for i, p := range prices {
		sma.Update(bar(i, p))
		if want, ok := expected[i]; ok {
			assertClose(t, fmt.Sprintf("SMA(5) bar %d", i), sma.Value(), want, 1e-9)
		} else if sma.Ready() {
			t.Errorf("bar %d: SMA(5) should still be warming up", i)
		}
	}
}

func TestSMA_MatchesNaiveMean(t *testing.T) {
	prices := []float64{5, 7, 3, 9, 12, 4, 8, 15, 1, 6, 11, 2}
	w := 4
	sma := NewSMA(w)
	for i, p := range prices {
		sma.Update(bar(i, p))
		if i < w-1 {
			continue
		}
		sum := 0.0
		for _, x := range prices[i-w+1 : i+1] {
			sum += x
		}
		assertClose(t, fmt.Sprintf("SMA(4) bar %d", i), sma.Value(), sum/float64(w), 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// alpha = 2/(3+1) = 0.5, seeded with the first value
	// Prices: 10, 11, 12, 13, 14
	// EMA: 10, 10.5, 11.25, 12.125, 13.0625
	ema := NewEMA(3)
	prices := []float64{10, 11, 12, 13, 14}
	expected := []float64{10, 10.5, 11.25, 12.125, 13.0625}

	for i, p := range prices {
		ema.Add(p)
		if !ema.Ready() {
			t.Fatalf("bar %d: EMA should be defined from the first sample", i)
		}
		assertClose(t, fmt.Sprintf("EMA(3) bar %d", i), ema.Value(), expected[i], 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 45, 44, 46, 47, 46, 48
	// Deltas: +1, -1, +2, +1, -1, +2
	// First 5 deltas: avgGain = 4/5 = 0.8, avgLoss = 2/5 = 0.4
	//   RS = 2.0 → RSI = 100 - 100/3 = 66.6667 (bar index 5)
	// Next delta +2 (Wilder): avgGain = (0.8*4+2)/5 = 1.04, avgLoss = (0.4*4)/5 = 0.32
	//   RS = 3.25 → RSI = 100 - 100/4.25 = 76.4706
	rsi := NewRSI(5)
	prices := []float64{44, 45, 44, 46, 47, 46, 48}

	for i, p := range prices {
		rsi.Update(bar(i, p))
		v := rsi.Values()[0]
		if i < 5 && v.Defined {
			t.Errorf("bar %d: RSI(5) must be undefined before 5 deltas", i)
		}
	}
	// replay to check intermediate reading
	rsi2 := NewRSI(5)
	for i, p := range prices[:6] {
		rsi2.Update(bar(i, p))
	}
	assertClose(t, "RSI(5) first reading", rsi2.Value(), 66.666667, 1e-4)
	assertClose(t, "RSI(5) Wilder step", rsi.Value(), 76.470588, 1e-4)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(3)
	for i, p := range []float64{10, 11, 12, 13, 14, 15} {
		rsi.Update(bar(i, p))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(3)
	for i, p := range []float64{15, 14, 13, 12, 11, 10} {
		rsi.Update(bar(i, p))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0, 1e-9)
}

func TestRSI_Flat_Is100(t *testing.T) {
	// Zero average loss reads 100, never a division error.
	rsi := NewRSI(3)
	for i := 0; i < 6; i++ {
		rsi.Update(bar(i, 50))
	}
	v := rsi.Values()[0]
	if !v.Defined {
		t.Fatal("RSI should be defined after period deltas")
	}
	assertClose(t, "RSI flat", v.V, 100, 1e-9)
}

func TestRSI_StaysInRange(t *testing.T) {
	rsi := NewRSI(4)
	prices := []float64{10, 12, 9, 14, 8, 15, 7, 16, 6, 17, 5}
	for i, p := range prices {
		rsi.Update(bar(i, p))
		if rsi.Ready() && (rsi.Value() < 0 || rsi.Value() > 100) {
			t.Errorf("bar %d: RSI %.4f out of range", i, rsi.Value())
		}
	}
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_Correctness_2_3_2(t *testing.T) {
	// fast alpha 2/3, slow alpha 1/2, signal alpha 2/3
	// Prices: 10, 11, 12
	// fast:   10, 10.666667, 11.555556
	// slow:   10, 10.5,      11.25
	// line:   0,  0.166667,  0.305556
	// signal: 0,  0.111111,  0.240741  (ready after 2 line samples)
	// hist:   -,  0.055556,  0.064815
	m := NewMACD(2, 3, 2)

	m.Update(bar(0, 10))
	for i, v := range m.Values() {
		if v.Defined {
			t.Errorf("bar 0 output %d: should be undefined before the signal line warms up", i)
		}
	}

	m.Update(bar(1, 11))
	vals := m.Values()
	assertClose(t, "MACD line bar 1", vals[0].V, 0.166667, 1e-5)
	assertClose(t, "MACD signal bar 1", vals[1].V, 0.111111, 1e-5)
	assertClose(t, "MACD hist bar 1", vals[2].V, 0.055556, 1e-5)

	m.Update(bar(2, 12))
	vals = m.Values()
	assertClose(t, "MACD line bar 2", vals[0].V, 0.305556, 1e-5)
	assertClose(t, "MACD signal bar 2", vals[1].V, 0.240741, 1e-5)
	assertClose(t, "MACD hist bar 2", vals[2].V, 0.064815, 1e-5)
}

// ────────────────────────────────────────────────────────────
// Cross-indicator sanity checks
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	// In a steady uptrend the fast EMA sits above the slow EMA, so MACD > 0.
	m := NewMACD(3, 6, 3)
	rsi := NewRSI(5)
	for i := 0; i < 30; i++ {
		b := bar(i, 100+float64(i))
		m.Update(b)
		rsi.Update(b)
	}
	if line := m.Values()[0]; !line.Defined || line.V <= 0 {
		t.Errorf("uptrend MACD line should be positive, got %+v", line)
	}
	if rsi.Value() <= 50 {
		t.Errorf("uptrend RSI should be > 50, got %.4f", rsi.Value())
	}
}

func TestIndicators_Causal(t *testing.T) {
	// Values up to bar t must not change when later bars differ.
	specs := []Spec{SMASpec{Window: 3}, RSISpec{Window: 3}, MACDSpec{Fast: 2, Slow: 4, Signal: 2}}
	a := bars(10, 11, 12, 11, 13, 14, 12, 15)
	b := bars(10, 11, 12, 11, 13, 1, 90, 2)

	sa := Compute(a, specs)
	sb := Compute(b, specs)
	for i := range sa {
		for j := range sa[i].Columns {
			for tt := 0; tt <= 4; tt++ {
				if sa[i].Columns[j].Values[tt] != sb[i].Columns[j].Values[tt] {
					t.Errorf("%s t=%d differs after altering future bars", sa[i].Columns[j].Name, tt)
				}
			}
		}
	}
}

func TestEngine_ProcessMatchesCompute(t *testing.T) {
	specs := []Spec{SMASpec{Window: 2}, MACDSpec{Alias: "m", Fast: 2, Slow: 3, Signal: 2}}
	series := bars(5, 6, 7, 6, 8)
	cols := Compute(series, specs)

	e := NewEngine(specs)
	for tt, b := range series {
		snap := e.Process(b)
		for _, s := range cols {
			for _, c := range s.Columns {
				if snap[c.Name] != c.Values[tt] {
					t.Errorf("t=%d %s: engine %+v, compute %+v", tt, c.Name, snap[c.Name], c.Values[tt])
				}
			}
		}
	}
}
