// Package marketdata supplies daily bar series to the simulation engine.
//
// A Source resolves a ticker and optional date range into chronologically
// ordered bars. Lookup failures are reported as model.DataError wrapping
// model.ErrNotFound or model.ErrRange.
package marketdata

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"stratsim/internal/model"
)

// MockTicker selects the deterministic synthetic series.
const MockTicker = "MOCK"

// Range bounds a fetch by calendar day, inclusive on both ends. A zero
// Start or End leaves that side open.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange parses optional YYYY-MM-DD bounds. Empty strings leave a side
// open. The pairing is checked by Validate.
func ParseRange(start, end string) (Range, error) {
	var r Range
	var err error
	if start != "" {
		if r.Start, err = time.Parse(model.DateLayout, start); err != nil {
			return Range{}, model.ConfigErrorf("start_date", "expected YYYY-MM-DD, got %q", start)
		}
	}
	if end != "" {
		if r.End, err = time.Parse(model.DateLayout, end); err != nil {
			return Range{}, model.ConfigErrorf("end_date", "expected YYYY-MM-DD, got %q", end)
		}
	}
	return r, nil
}

// Validate rejects a start after the end.
func (r Range) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return errors.Wrapf(model.ErrRange, "start %s after end %s",
			r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout))
	}
	return nil
}

// Contains reports whether t's calendar day is within the range.
func (r Range) Contains(t time.Time) bool {
	day := truncateDay(t)
	if !r.Start.IsZero() && day.Before(truncateDay(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(truncateDay(r.End)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Filter returns the bars inside r. An invalid range or an empty result
// is a DataError wrapping ErrRange.
func Filter(ticker string, bars []model.Bar, r Range) ([]model.Bar, error) {
	if err := r.Validate(); err != nil {
		return nil, model.NewDataError(ticker, err)
	}
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if r.Contains(b.Date) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, model.NewDataError(ticker, errors.Wrap(model.ErrRange, "no bars in requested range"))
	}
	return out, nil
}

// Source fetches the bar series for one ticker.
type Source interface {
	Fetch(ctx context.Context, ticker string, r Range) ([]model.Bar, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ticker string, r Range) ([]model.Bar, error)

func (f SourceFunc) Fetch(ctx context.Context, ticker string, r Range) ([]model.Bar, error) {
	return f(ctx, ticker, r)
}

// Router sends the mock ticker to Mock and everything else to Primary.
type Router struct {
	Primary Source
	Mock    Source
}

func (rt Router) Fetch(ctx context.Context, ticker string, r Range) ([]model.Bar, error) {
	if strings.EqualFold(ticker, MockTicker) && rt.Mock != nil {
		return rt.Mock.Fetch(ctx, MockTicker, r)
	}
	if rt.Primary == nil {
		return nil, model.NewDataError(ticker, model.ErrNotFound)
	}
	return rt.Primary.Fetch(ctx, ticker, r)
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func sortBars(bars []model.Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}
