package marketdata

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"stratsim/internal/model"
)

// MockSource generates a seeded random walk. The same Seed, Days and Start
// always produce the same bars.
type MockSource struct {
	Seed  uint64
	Days  int
	Start time.Time
	Base  float64
}

// NewMockSource returns the demo series: 100 daily bars from 2023-01-01
// starting near 100.
func NewMockSource() *MockSource {
	return &MockSource{
		Seed:  42,
		Days:  100,
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Base:  100,
	}
}

func (m *MockSource) Fetch(_ context.Context, ticker string, r Range) ([]model.Bar, error) {
	return Filter(NormalizeTicker(ticker), m.Bars(), r)
}

// Bars returns the full series. Closes follow base + cumulative standard
// normal steps, floored at 1; high and low sit one point either side.
func (m *MockSource) Bars() []model.Bar {
	rng := rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15))
	bars := make([]model.Bar, m.Days)
	price := m.Base
	for i := range bars {
		price += rng.NormFloat64()
		c := math.Max(price, 1)
		bars[i] = model.Bar{
			Date:   m.Start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    math.Max(c-1, 0.01),
			Close:  c,
			Volume: 100000,
		}
	}
	return bars
}
