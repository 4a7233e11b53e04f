package model

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the calendar-day format used on the wire and in storage.
const DateLayout = "2006-01-02"

// Bar is one trading day's OHLCV record for a single instrument.
// Bars are immutable once fetched and ordered chronologically.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Day returns the bar date formatted as YYYY-MM-DD.
func (b *Bar) Day() string {
	return b.Date.Format(DateLayout)
}

// ValidateBars checks that bars form a usable daily series: non-empty,
// strictly increasing dates (no duplicates, no reordering) and positive,
// finite closes. Violations are reported as a DataError.
func ValidateBars(ticker string, bars []Bar) error {
	if len(bars) == 0 {
		return NewDataError(ticker, fmt.Errorf("%w: no bars", ErrRange))
	}
	for i := range bars {
		c := bars[i].Close
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return NewDataError(ticker, fmt.Errorf("%w: invalid close %v on %s", ErrDataGap, c, bars[i].Day()))
		}
		if i > 0 && !bars[i].Date.After(bars[i-1].Date) {
			return NewDataError(ticker, fmt.Errorf("%w: %s does not follow %s", ErrDataGap, bars[i].Day(), bars[i-1].Day()))
		}
	}
	return nil
}
