package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/snapshots.db"
	Logger *zerolog.Logger
}

// Writer is a single-connection SQLite writer. Batching is left to
// store.Archive.
type Writer struct {
	db  *sql.DB
	log zerolog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// Open opens path with WAL mode and the connection options both sides use.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("component", "sqlite").Logger()
	l.Info().Str("path", cfg.DBPath).Msg("opened database")
	return &Writer{db: db, log: l}, nil
}

// CreateSchema creates the snapshot tables if they don't exist. ts is unix
// nanoseconds, so snapshots are kept at full time resolution; seq keeps the
// reading order of a snapshot.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			price      REAL    NOT NULL,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS readings (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			seq        INTEGER NOT NULL,
			name       TEXT    NOT NULL,
			value      REAL,
			color      TEXT,
			intensity  TEXT,
			PRIMARY KEY (instrument, ts, name)
		);
	`)
	return err
}

// WriteSnapshots stores snaps in a single transaction, replacing any snapshot
// already stored at the same timestamp.
func (w *Writer) WriteSnapshots(ctx context.Context, instrument string, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	snapStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO snapshots (instrument, ts, price) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer snapStmt.Close()

	delStmt, err := tx.PrepareContext(ctx, `DELETE FROM readings WHERE instrument = ? AND ts = ?`)
	if err != nil {
		return err
	}
	defer delStmt.Close()

	readStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (instrument, ts, seq, name, value, color, intensity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer readStmt.Close()

	for _, s := range snaps {
		ts := s.Time.UnixNano()
		if _, err := snapStmt.ExecContext(ctx, instrument, ts, s.Price); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", s.Time.Format(time.RFC3339), err)
		}
		if _, err := delStmt.ExecContext(ctx, instrument, ts); err != nil {
			return err
		}
		for i, r := range s.Readings {
			if _, err := readStmt.ExecContext(ctx, instrument, ts, i, r.Name, r.Value, r.Color, r.Intensity); err != nil {
				return fmt.Errorf("insert reading %s at %s: %w", r.Name, s.Time.Format(time.RFC3339), err)
			}
		}
	}
	return tx.Commit()
}

// LastTimestamp returns the last stored snapshot time for an instrument, or
// the zero time when none exist.
func (w *Writer) LastTimestamp(ctx context.Context, instrument string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM snapshots WHERE instrument = ?`, instrument,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
