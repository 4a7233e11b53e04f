package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/logger"
	"stratsim/internal/simulation"
)

// ErrResultNotFound is returned by LoadResult for an unknown id.
var ErrResultNotFound = errors.New("simulation result not found")

// Archived is a stored batch run.
type Archived struct {
	ID        string             `json:"id"`
	Ticker    string             `json:"ticker"`
	CreatedAt time.Time          `json:"created_at"`
	Request   simulation.Request `json:"request"`
	Result    simulation.Result  `json:"result"`
}

type resultRow struct {
	ID        string `db:"id"`
	Ticker    string `db:"ticker"`
	CreatedAt int64  `db:"created_at"`
	Request   string `db:"request"`
	Result    string `db:"result"`
}

// SaveResult archives a completed run under a new id and journals its
// trades in the same transaction.
func (s *Store) SaveResult(ctx context.Context, req simulation.Request, res simulation.Result) (string, error) {
	reqJSON, err := sonic.MarshalString(req)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}
	resJSON, err := sonic.MarshalString(res)
	if err != nil {
		return "", errors.Wrap(err, "marshal result")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := resultRow{
		ID:        uuid.NewString(),
		Ticker:    res.Ticker,
		CreatedAt: time.Now().UTC().UnixMilli(),
		Request:   reqJSON,
		Result:    resJSON,
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "sqlite begin")
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO simulation_results (id, ticker, created_at, request, result)
		VALUES (:id, :ticker, :created_at, :request, :result)
	`, row)
	if err != nil {
		return "", errors.Wrap(err, "sqlite insert result")
	}
	if err := journalTrades(ctx, tx, row.ID, res); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "sqlite commit result")
	}
	logger.For(ctx, s.log).Debug("result archived", zap.String("id", row.ID), zap.String("ticker", row.Ticker))
	return row.ID, nil
}

// LoadResult returns an archived run.
func (s *Store) LoadResult(ctx context.Context, id string) (Archived, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row resultRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, ticker, created_at, request, result
		FROM simulation_results WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Archived{}, errors.Wrap(ErrResultNotFound, id)
		}
		return Archived{}, errors.Wrap(err, "sqlite read result")
	}

	out := Archived{ID: row.ID, Ticker: row.Ticker, CreatedAt: time.UnixMilli(row.CreatedAt).UTC()}
	if err := sonic.UnmarshalString(row.Request, &out.Request); err != nil {
		return Archived{}, errors.Wrap(err, "unmarshal request")
	}
	if err := sonic.UnmarshalString(row.Result, &out.Result); err != nil {
		return Archived{}, errors.Wrap(err, "unmarshal result")
	}
	return out, nil
}
