// Package store persists backtest runs to a SQLite database so results can
// be inspected and compared after the process exits.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/evdnx/gridbot/backtest"
	"github.com/evdnx/gridbot/config"
)

// DB wraps a SQLite database holding runs, fills, and stats.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS runs (
				id               TEXT PRIMARY KEY,
				created_at       TEXT NOT NULL DEFAULT (datetime('now')),
				starting_balance REAL NOT NULL,
				final_balance    REAL NOT NULL,
				final_equity     REAL NOT NULL,
				n_fills          INTEGER NOT NULL,
				n_stats          INTEGER NOT NULL,
				config_json      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS fills (
				run_id    TEXT NOT NULL REFERENCES runs(id),
				idx       INTEGER NOT NULL,
				timestamp REAL NOT NULL,
				pnl       REAL NOT NULL,
				fee       REAL NOT NULL,
				balance   REAL NOT NULL,
				equity    REAL NOT NULL,
				qty       REAL NOT NULL,
				price     REAL NOT NULL,
				psize     REAL NOT NULL,
				pprice    REAL NOT NULL,
				tag       TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id);

			CREATE TABLE IF NOT EXISTS stats (
				run_id        TEXT NOT NULL REFERENCES runs(id),
				timestamp     REAL NOT NULL,
				balance       REAL NOT NULL,
				equity        REAL NOT NULL,
				bkr_price     REAL NOT NULL,
				long_psize    REAL NOT NULL,
				long_pprice   REAL NOT NULL,
				short_psize   REAL NOT NULL,
				short_pprice  REAL NOT NULL,
				price         REAL NOT NULL,
				closest_bkr   REAL NOT NULL,
				balance_long  REAL NOT NULL,
				balance_short REAL NOT NULL,
				equity_long   REAL NOT NULL,
				equity_short  REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_stats_run ON stats(run_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// SaveRun writes a completed simulation to the database and returns the run id.
func (d *DB) SaveRun(cfg *config.BotConfig, res *backtest.Result) (string, error) {
	runID := uuid.NewString()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	finalBalance := cfg.StartingBalance
	finalEquity := cfg.StartingBalance
	if n := len(res.Fills); n > 0 {
		finalBalance = res.Fills[n-1].Balance
		finalEquity = res.Fills[n-1].Equity
	}
	if n := len(res.Stats); n > 0 && res.Stats[n-1].Timestamp > lastFillTS(res) {
		finalBalance = res.Stats[n-1].Balance
		finalEquity = res.Stats[n-1].Equity
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (id, starting_balance, final_balance, final_equity, n_fills, n_stats, config_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, cfg.StartingBalance, finalBalance, finalEquity,
		len(res.Fills), len(res.Stats), string(cfgJSON),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	fillStmt, err := tx.Prepare(
		`INSERT INTO fills (run_id, idx, timestamp, pnl, fee, balance, equity, qty, price, psize, pprice, tag)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare fills: %w", err)
	}
	defer fillStmt.Close()
	for _, f := range res.Fills {
		if _, err := fillStmt.Exec(
			runID, f.Index, f.Timestamp, f.PnL, f.Fee, f.Balance, f.Equity,
			f.Qty, f.Price, f.PSize, f.PPrice, f.Tag,
		); err != nil {
			return "", fmt.Errorf("insert fill: %w", err)
		}
	}

	statStmt, err := tx.Prepare(
		`INSERT INTO stats (run_id, timestamp, balance, equity, bkr_price, long_psize, long_pprice,
		                    short_psize, short_pprice, price, closest_bkr, balance_long, balance_short,
		                    equity_long, equity_short)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare stats: %w", err)
	}
	defer statStmt.Close()
	for _, s := range res.Stats {
		if _, err := statStmt.Exec(
			runID, s.Timestamp, s.Balance, s.Equity, s.BkrPrice,
			s.LongPSize, s.LongPPrice, s.ShortPSize, s.ShortPPrice,
			s.Price, s.ClosestBkr, s.BalanceLong, s.BalanceShort,
			s.EquityLong, s.EquityShort,
		); err != nil {
			return "", fmt.Errorf("insert stat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

func lastFillTS(res *backtest.Result) float64 {
	if len(res.Fills) == 0 {
		return 0
	}
	return res.Fills[len(res.Fills)-1].Timestamp
}
