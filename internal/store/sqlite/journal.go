package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"stratsim/internal/marketdata"
	"stratsim/internal/model"
	"stratsim/internal/simulation"
)

// DefaultTradeLimit caps RecentTrades when the caller passes no limit.
const DefaultTradeLimit = 100

// TradeRecord is one journaled fill of an archived run.
type TradeRecord struct {
	ID       int64   `db:"id" json:"id"`
	ResultID string  `db:"result_id" json:"result_id"`
	Ticker   string  `db:"ticker" json:"ticker"`
	Action   string  `db:"action" json:"action"`
	Date     string  `db:"date" json:"date"`
	Price    float64 `db:"price" json:"price"`
	Shares   float64 `db:"shares" json:"shares"`
}

func journalTrades(ctx context.Context, tx *sqlx.Tx, resultID string, res simulation.Result) error {
	if len(res.Trades) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO trades (result_id, ticker, action, date, price, shares)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "sqlite prepare trade")
	}
	defer stmt.Close()

	for _, t := range res.Trades {
		if _, err := stmt.ExecContext(ctx, resultID, res.Ticker, string(t.Action),
			t.Date.Format(model.DateLayout), t.Price, t.Shares); err != nil {
			return errors.Wrap(err, "sqlite insert trade")
		}
	}
	return nil
}

// RecentTrades returns journaled trades newest first. An empty ticker
// matches every ticker; limit <= 0 means DefaultTradeLimit.
func (s *Store) RecentTrades(ctx context.Context, ticker string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	ticker = marketdata.NormalizeTicker(ticker)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	trades := []TradeRecord{}
	err := s.db.SelectContext(ctx, &trades, `
		SELECT id, result_id, ticker, action, date, price, shares
		FROM trades
		WHERE ? = '' OR ticker = ?
		ORDER BY id DESC
		LIMIT ?
	`, ticker, ticker, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite read trades")
	}
	return trades, nil
}
