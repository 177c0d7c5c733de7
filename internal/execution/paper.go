package execution

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/bus"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
)

// Status is a point-in-time view of a paper session.
type Status struct {
	RunID      string              `json:"run_id"`
	Instrument string              `json:"instrument"`
	Position   *portfolio.Position `json:"position,omitempty"`
	Trades     int                 `json:"trades"`
	Skipped    int                 `json:"skipped"`
	Summary    portfolio.Summary   `json:"summary"`
}

// PaperTrader drives a backtest.Session from a live or replayed snapshot
// stream. Trades are simulated only; nothing is routed to an exchange.
type PaperTrader struct {
	runID      string
	instrument string
	sess       *backtest.Session
	log        zerolog.Logger

	// Trades receives every closed trade; typically a bus.FanOut input.
	Trades chan<- bus.TradeEvent
	// Archive, if set, receives every snapshot read, e.g. a SQLite writer.
	Archive chan<- model.Snapshot

	mu sync.RWMutex // guards sess reads from Status
}

// NewPaperTrader creates a paper session with a fresh random run ID.
func NewPaperTrader(instrument string, p backtest.Params, opts ...backtest.Option) (*PaperTrader, error) {
	runID := uuid.NewString()
	l := log.Logger.With().Str("component", "paper").Str("run_id", runID).Str("instrument", instrument).Logger()
	opts = append([]backtest.Option{backtest.WithLogger(l)}, opts...)
	sess, err := backtest.NewSession(p, opts...)
	if err != nil {
		return nil, err
	}
	return &PaperTrader{runID: runID, instrument: instrument, sess: sess, log: l}, nil
}

// RunID identifies this paper session.
func (p *PaperTrader) RunID() string { return p.runID }

// Run consumes src until ctx is cancelled or the source ends, then applies
// the end-of-sequence policy. Cancellation is a normal shutdown.
func (p *PaperTrader) Run(ctx context.Context, src model.SnapshotConsumer) error {
	snaps := make(chan model.Snapshot, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.ConsumeSnapshots(ctx, p.instrument, snaps)
		close(snaps)
	}()

	p.log.Info().Msg("paper session started")
	for s := range snaps {
		if p.Archive != nil {
			select {
			case p.Archive <- s:
			default:
				p.log.Warn().Time("ts", s.Time).Msg("archive channel full, snapshot not archived")
			}
		}
		p.mu.Lock()
		tr, err := p.sess.Step(s)
		p.mu.Unlock()
		if err != nil {
			return err
		}
		p.emit(ctx, tr)
	}

	p.mu.Lock()
	tr, err := p.sess.Finish()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.emit(context.Background(), tr)

	st := p.Status()
	p.log.Info().Int("trades", st.Trades).Int("skipped", st.Skipped).
		Float64("total_pnl_pct", st.Summary.TotalPnLPct).Msg("paper session stopped")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *PaperTrader) emit(ctx context.Context, tr *model.Trade) {
	if tr == nil {
		return
	}
	p.log.Info().Str("direction", string(tr.Direction)).Str("exit_reason", string(tr.ExitReason)).
		Float64("profit_pct", tr.ProfitPct).Msg("trade closed")
	if p.Trades == nil {
		return
	}
	select {
	case p.Trades <- bus.TradeEvent{RunID: p.runID, Trade: *tr}:
	case <-ctx.Done():
		p.log.Warn().Time("exit_time", tr.ExitTime).Msg("shutdown before trade was published")
	}
}

// Status returns the current session state.
func (p *PaperTrader) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		RunID:      p.runID,
		Instrument: p.instrument,
		Trades:     len(p.sess.Ledger().Trades),
		Skipped:    len(p.sess.Warnings()),
		Summary:    p.sess.Ledger().Summary(),
	}
	if pos, ok := p.sess.Position(); ok {
		st.Position = &pos
	}
	return st
}

// Ledger returns a copy of the closed trades.
func (p *PaperTrader) Ledger() []model.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	trades := p.sess.Ledger().Trades
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	return out
}
