package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Reader provides read-only access to stored snapshots for backtests and replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Info().Str("component", "sqlite-reader").Str("path", dbPath).Msg("opened database")
	return &Reader{db: db}, nil
}

// ReadSnapshots returns raw snapshots with from <= ts < to, ordered by
// timestamp, readings in stored order. A zero bound is open.
func (r *Reader) ReadSnapshots(ctx context.Context, instrument string, from, to time.Time) ([]model.RawSnapshot, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.ts, s.price, r.name, r.value, r.color, r.intensity
		FROM snapshots s
		LEFT JOIN readings r ON r.instrument = s.instrument AND r.ts = s.ts
		WHERE s.instrument = ? AND s.ts >= ? AND s.ts < ?
		ORDER BY s.ts ASC, r.seq ASC
	`, instrument, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query snapshots: %w", err)
	}
	defer rows.Close()

	var (
		out  []model.RawSnapshot
		last int64
	)
	for rows.Next() {
		var (
			ts               int64
			price            float64
			name, col, inten sql.NullString
			value            sql.NullFloat64
		)
		if err := rows.Scan(&ts, &price, &name, &value, &col, &inten); err != nil {
			return nil, fmt.Errorf("sqlite scan snapshots: %w", err)
		}
		if len(out) == 0 || ts != last {
			out = append(out, model.RawSnapshot{
				Time:  time.Unix(0, ts).UTC().Format(time.RFC3339Nano),
				Price: price,
			})
			last = ts
		}
		if name.Valid {
			cur := &out[len(out)-1]
			cur.Readings = append(cur.Readings, model.Reading{
				Name:      name.String,
				Value:     value.Float64,
				Color:     col.String,
				Intensity: inten.String,
			})
		}
	}
	return out, rows.Err()
}

// Instruments lists the instruments that have stored snapshots.
func (r *Reader) Instruments(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT instrument FROM snapshots ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
