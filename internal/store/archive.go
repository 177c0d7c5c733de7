// Package store holds what the snapshot stores share.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Archive reads snapshots from ch and hands them to w in batches. It flushes
// every batchSize snapshots OR every flushDelay, whichever first, and blocks
// until ctx is cancelled or ch is closed.
func Archive(ctx context.Context, w model.SnapshotWriter, instrument string, ch <-chan model.Snapshot, l zerolog.Logger) {
	batch := make([]model.Snapshot, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// The run context may already be cancelled; the final flush still has to land.
		if err := w.WriteSnapshots(context.Background(), instrument, batch); err != nil {
			l.Error().Err(err).Int("batch", len(batch)).Msg("batch write failed")
		} else {
			l.Debug().Int("batch", len(batch)).Dur("took", time.Since(start)).Msg("committed snapshots")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case s, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}
