// Package replay emits stored snapshots onto a channel at a configurable
// speed, so the paper trader can run over history exactly as it runs live.
package replay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// maxGap caps a single scaled sleep so long market gaps don't stall playback.
const maxGap = 5 * time.Second

// Config selects what to replay.
type Config struct {
	From, To time.Time // zero = unbounded
	// Speed is the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
	Speed  float64
	Accept series.Options
}

// Replayer reads snapshots from a SnapshotReader and replays them.
// It satisfies model.SnapshotConsumer.
type Replayer struct {
	reader model.SnapshotReader
	cfg    Config
	log    zerolog.Logger

	// Warnings from the last acceptance pass.
	Warnings []series.Warning

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by reader.
func New(reader model.SnapshotReader, cfg Config) *Replayer {
	return &Replayer{
		reader: reader,
		cfg:    cfg,
		log:    log.Logger.With().Str("component", "replay").Logger(),
		sleep:  sleepCtx,
	}
}

// ConsumeSnapshots loads, accepts and emits the instrument's snapshots in
// time order, then returns nil. It does not close out.
func (r *Replayer) ConsumeSnapshots(ctx context.Context, instrument string, out chan<- model.Snapshot) error {
	raws, err := r.reader.ReadSnapshots(ctx, instrument, r.cfg.From, r.cfg.To)
	if err != nil {
		return err
	}
	snaps, warnings := series.Build(raws, r.cfg.Accept)
	r.Warnings = warnings
	for _, w := range warnings {
		r.log.Warn().Str("instrument", instrument).Msg(w.String())
	}
	if len(snaps) == 0 {
		r.log.Info().Str("instrument", instrument).Msg("no snapshots to replay")
		return nil
	}
	r.log.Info().Str("instrument", instrument).Int("snapshots", len(snaps)).
		Float64("speed", r.cfg.Speed).Msg("replay started")

	var prevTS time.Time
	emitted := 0
	for _, s := range snaps {
		if err := ctx.Err(); err != nil {
			r.log.Info().Int("emitted", emitted).Msg("replay cancelled")
			return err
		}
		if r.cfg.Speed > 0 && !prevTS.IsZero() {
			if gap := s.Time.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / r.cfg.Speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return err
				}
			}
		}
		prevTS = s.Time

		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	r.log.Info().Int("emitted", emitted).Msg("replay completed")
	return nil
}

// Close closes the underlying reader.
func (r *Replayer) Close() error {
	return r.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
