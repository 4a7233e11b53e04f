// Package sqlite persists daily bars and archived simulation results in a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stratsim/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	Path    string        // database file, e.g. "data/stratsim.db"
	Timeout time.Duration // per-query timeout, 0 means 5s
}

// Store is safe for concurrent use. Writes are serialised by the single
// pooled connection.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	log     *zap.Logger
}

// Open opens (creating if needed) the database with WAL mode and applies the schema.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log = logger.OrNop(log)
	log.Info("sqlite opened", zap.String("path", cfg.Path))
	return &Store{db: db, timeout: timeout, log: log}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS bars (
		ticker TEXT    NOT NULL,
		date   TEXT    NOT NULL,
		open   REAL    NOT NULL,
		high   REAL    NOT NULL,
		low    REAL    NOT NULL,
		close  REAL    NOT NULL,
		volume REAL    NOT NULL DEFAULT 0,
		PRIMARY KEY (ticker, date)
	);

	CREATE TABLE IF NOT EXISTS simulation_results (
		id         TEXT    PRIMARY KEY,
		ticker     TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		request    TEXT    NOT NULL,
		result     TEXT    NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_ticker ON simulation_results (ticker, created_at);

	CREATE TABLE IF NOT EXISTS trades (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id TEXT    NOT NULL REFERENCES simulation_results (id),
		ticker    TEXT    NOT NULL,
		action    TEXT    NOT NULL,
		date      TEXT    NOT NULL,
		price     REAL    NOT NULL,
		shares    REAL    NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades (ticker, id);
	CREATE INDEX IF NOT EXISTS idx_trades_result ON trades (result_id);
`

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
