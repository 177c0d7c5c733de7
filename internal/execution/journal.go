package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Journal persists runs and their closed trades to SQLite for analysis and
// audit. It is a model.TradeSink.
type Journal struct {
	mu         sync.Mutex
	db         *sql.DB
	instrument string
}

// NewJournal opens (or creates) a SQLite journal database. instrument tags
// trades recorded through RecordTrade.
func NewJournal(dbPath, instrument string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		instrument  TEXT NOT NULL,
		mode        TEXT NOT NULL,
		params      TEXT,
		summary     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		instrument  TEXT NOT NULL,
		direction   TEXT NOT NULL,
		entry_time  TEXT NOT NULL,
		exit_time   TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		profit_pct  REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		hold_hours  REAL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument, entry_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("component", "journal").Str("path", dbPath).Msg("opened trade journal")
	return &Journal{db: db, instrument: instrument}, nil
}

// RecordTrade persists a closed trade.
func (j *Journal) RecordTrade(ctx context.Context, runID string, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.insertTrade(ctx, j.db, runID, j.instrument, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (j *Journal) insertTrade(ctx context.Context, db execer, runID, instrument string, t model.Trade) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO trades (run_id, instrument, direction, entry_time, exit_time, entry_price, exit_price, profit_pct, exit_reason, hold_hours)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		instrument,
		string(t.Direction),
		t.EntryTime.UTC().Format(time.RFC3339Nano),
		t.ExitTime.UTC().Format(time.RFC3339Nano),
		t.EntryPrice,
		t.ExitPrice,
		t.ProfitPct,
		string(t.ExitReason),
		t.HoldHours,
	)
	return err
}

// RunRecord is a row of the runs table.
type RunRecord struct {
	RunID      string          `json:"run_id"`
	Instrument string          `json:"instrument"`
	Mode       string          `json:"mode"` // backtest | paper
	Params     json.RawMessage `json:"params,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// SaveRun stores run metadata and all of its trades in one transaction.
// Saving the same run again replaces it.
func (j *Journal) SaveRun(ctx context.Context, rec RunRecord, trades []model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, rec.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, instrument, mode, params, summary) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Instrument, rec.Mode, string(rec.Params), string(rec.Summary),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, t := range trades {
		if err := j.insertTrade(ctx, tx, rec.RunID, rec.Instrument, t); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	return tx.Commit()
}

// Trades returns the trades of a run in ledger order.
func (j *Journal) Trades(ctx context.Context, runID string) ([]model.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT direction, entry_time, exit_time, entry_price, exit_price, profit_pct, exit_reason, hold_hours
		 FROM trades WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var (
			t               model.Trade
			dir, reason     string
			entryTS, exitTS string
			hold            sql.NullFloat64
		)
		if err := rows.Scan(&dir, &entryTS, &exitTS, &t.EntryPrice, &t.ExitPrice, &t.ProfitPct, &reason, &hold); err != nil {
			return nil, err
		}
		t.Direction = model.Direction(dir)
		t.ExitReason = model.ExitReason(reason)
		t.HoldHours = hold.Float64
		if t.EntryTime, err = time.Parse(time.RFC3339Nano, entryTS); err != nil {
			return nil, fmt.Errorf("entry_time %q: %w", entryTS, err)
		}
		if t.ExitTime, err = time.Parse(time.RFC3339Nano, exitTS); err != nil {
			return nil, fmt.Errorf("exit_time %q: %w", exitTS, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Run returns the metadata of one run. ok is false when it doesn't exist.
func (j *Journal) Run(ctx context.Context, runID string) (rec RunRecord, ok bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var params, summary sql.NullString
	err = j.db.QueryRowContext(ctx,
		`SELECT run_id, instrument, mode, params, summary, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.Instrument, &rec.Mode, &params, &summary, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	if params.String != "" {
		rec.Params = json.RawMessage(params.String)
	}
	if summary.String != "" {
		rec.Summary = json.RawMessage(summary.String)
	}
	return rec, true, nil
}

// DB returns the underlying database for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
