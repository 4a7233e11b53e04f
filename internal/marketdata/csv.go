package marketdata

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/logger"
	"stratsim/internal/model"
)

// Layouts accepted in the Date column, tried in order. Day-first wins for
// ambiguous dates, matching the Nasdaq export format.
var dateLayouts = []string{"02-01-2006", model.DateLayout, "02/01/2006", "2006/01/02"}

// CSVSource reads <Dir>/<TICKER>.csv files.
type CSVSource struct {
	Dir string
	Log *zap.Logger
}

func NewCSVSource(dir string, log *zap.Logger) *CSVSource {
	return &CSVSource{Dir: dir, Log: logger.OrNop(log)}
}

func (s *CSVSource) Fetch(ctx context.Context, ticker string, r Range) ([]model.Bar, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" || strings.ContainsAny(ticker, `/\`) || strings.Contains(ticker, "..") {
		return nil, model.NewDataError(ticker, model.ErrNotFound)
	}
	path := filepath.Join(s.Dir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewDataError(ticker, errors.Wrapf(model.ErrNotFound, "no csv at %s", path))
		}
		return nil, errors.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close()

	bars, skipped, err := ParseCSV(f)
	if err != nil {
		return nil, model.NewDataError(ticker, err)
	}
	logger.For(ctx, logger.OrNop(s.Log)).Debug("csv loaded",
		zap.String("ticker", ticker),
		zap.String("path", path),
		zap.Int("bars", len(bars)),
		zap.Int("skipped", skipped),
	)
	return Filter(ticker, bars, r)
}

// ParseCSV reads a Date,Open,High,Low,Close,Volume table. Column order is
// free and names are matched case-insensitively. "Adjusted Close" (or
// "Adj Close") stands in for a missing Close; missing Open, High, Low and
// Volume are derived from Close. Rows with an unparseable date or value are
// dropped and counted in skipped. The result is sorted by date.
func ParseCSV(r io.Reader) (bars []model.Bar, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, errors.Wrap(model.ErrNotFound, "csv: empty file")
		}
		return nil, 0, errors.Wrap(err, "csv: read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	col := func(names ...string) int {
		for _, n := range names {
			if i, ok := cols[n]; ok {
				return i
			}
		}
		return -1
	}
	iDate := col("date")
	iClose := col("close", "adjusted close", "adj close")
	if iDate < 0 || iClose < 0 {
		return nil, 0, errors.Wrap(model.ErrDataGap, "csv: Date and Close columns are required")
	}
	iOpen, iHigh, iLow, iVol := col("open"), col("high"), col("low"), col("volume")

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, errors.Wrap(err, "csv: read row")
		}
		b, ok := parseRow(rec, iDate, iOpen, iHigh, iLow, iClose, iVol)
		if !ok {
			skipped++
			continue
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, skipped, errors.Wrap(model.ErrRange, "csv: no usable rows")
	}
	sortBars(bars)
	return bars, skipped, nil
}

func parseRow(rec []string, iDate, iOpen, iHigh, iLow, iClose, iVol int) (model.Bar, bool) {
	field := func(i int) (float64, bool, bool) {
		if i < 0 || i >= len(rec) {
			return 0, false, true
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0, true, false
		}
		return v, true, true
	}

	if iDate >= len(rec) {
		return model.Bar{}, false
	}
	date, ok := parseDate(rec[iDate])
	if !ok {
		return model.Bar{}, false
	}
	c, present, ok := field(iClose)
	if !present || !ok {
		return model.Bar{}, false
	}
	b := model.Bar{Date: date, Close: c}

	derive := []struct {
		idx int
		dst *float64
		def float64
	}{
		{iOpen, &b.Open, c * 0.998},
		{iHigh, &b.High, c * 1.005},
		{iLow, &b.Low, c * 0.995},
		{iVol, &b.Volume, 100000},
	}
	for _, d := range derive {
		v, present, ok := field(d.idx)
		if !ok {
			return model.Bar{}, false
		}
		if !present {
			v = d.def
		}
		*d.dst = v
	}
	return b, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
