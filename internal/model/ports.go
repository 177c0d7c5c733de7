package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine and its runners from concrete storage
// implementations (SQLite, Redis, files).

// RawSnapshot is a snapshot as it arrives from a source, before acceptance.
// Time stays a string so that unparsable timestamps are rejected per record
// instead of failing the whole load.
type RawSnapshot struct {
	Time     string    `json:"ts"`
	Price    float64   `json:"price"`
	Readings []Reading `json:"readings"`
}

// SnapshotReader loads raw snapshots for an instrument in a time range.
type SnapshotReader interface {
	// ReadSnapshots returns raw records with from <= ts < to.
	// A zero from or to leaves that side unbounded.
	ReadSnapshots(ctx context.Context, instrument string, from, to time.Time) ([]RawSnapshot, error)

	// Close releases underlying resources.
	Close() error
}

// SnapshotWriter stores accepted snapshots.
type SnapshotWriter interface {
	WriteSnapshots(ctx context.Context, instrument string, snaps []Snapshot) error
	Close() error
}

// SnapshotConsumer streams snapshots as they arrive (e.g. Redis Streams).
type SnapshotConsumer interface {
	// ConsumeSnapshots blocks until ctx is cancelled, sending each decoded
	// snapshot to out.
	ConsumeSnapshots(ctx context.Context, instrument string, out chan<- Snapshot) error
	Close() error
}

// TradeSink receives closed trades, e.g. a journal or a stream publisher.
type TradeSink interface {
	RecordTrade(ctx context.Context, runID string, trade Trade) error
}
