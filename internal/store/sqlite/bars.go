package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/logger"
	"stratsim/internal/marketdata"
	"stratsim/internal/model"
)

type barRow struct {
	Date   string  `db:"date"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

// ImportBars upserts bars for ticker in one transaction and returns the
// number of rows written.
func (s *Store) ImportBars(ctx context.Context, ticker string, bars []model.Bar) (int, error) {
	ticker = marketdata.NormalizeTicker(ticker)
	if ticker == "" {
		return 0, model.ConfigErrorf("ticker", "must not be empty")
	}
	if len(bars) == 0 {
		return 0, nil
	}

	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO bars (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite prepare bars")
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		if _, err := stmt.ExecContext(ctx, ticker, b.Day(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return 0, errors.Wrapf(err, "sqlite insert bar %s %s", ticker, b.Day())
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sqlite commit bars")
	}

	logger.For(ctx, s.log).Info("bars imported",
		zap.String("ticker", ticker),
		zap.Int("rows", len(bars)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return len(bars), nil
}

// Fetch implements marketdata.Source over the bars table.
func (s *Store) Fetch(ctx context.Context, ticker string, r marketdata.Range) ([]model.Bar, error) {
	ticker = marketdata.NormalizeTicker(ticker)
	if err := r.Validate(); err != nil {
		return nil, model.NewDataError(ticker, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT date, open, high, low, close, volume FROM bars WHERE ticker = ?`
	args := []any{ticker}
	if !r.Start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, r.Start.Format(model.DateLayout))
	}
	if !r.End.IsZero() {
		query += ` AND date <= ?`
		args = append(args, r.End.Format(model.DateLayout))
	}
	query += ` ORDER BY date ASC`

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "sqlite query bars %s", ticker)
	}
	if len(rows) == 0 {
		n, err := s.CountBars(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, model.NewDataError(ticker, model.ErrNotFound)
		}
		return nil, model.NewDataError(ticker, errors.Wrap(model.ErrRange, "no bars in requested range"))
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		d, err := time.Parse(model.DateLayout, row.Date)
		if err != nil {
			return nil, model.NewDataError(ticker, errors.Wrapf(model.ErrDataGap, "bad stored date %q", row.Date))
		}
		bars = append(bars, model.Bar{Date: d, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, Volume: row.Volume})
	}
	return bars, nil
}

// CountBars returns how many bars are stored for ticker.
func (s *Store) CountBars(ctx context.Context, ticker string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM bars WHERE ticker = ?`, marketdata.NormalizeTicker(ticker)); err != nil {
		return 0, errors.Wrap(err, "sqlite count bars")
	}
	return n, nil
}

// Tickers lists every ticker with stored bars.
func (s *Store) Tickers(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT ticker FROM bars ORDER BY ticker`); err != nil {
		return nil, errors.Wrap(err, "sqlite list tickers")
	}
	return out, nil
}
