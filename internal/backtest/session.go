package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/ringbuf"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/strategy"
)

// Option configures a Session or Simulator.
type Option func(*options)

type options struct {
	log zerolog.Logger
	obs Observer
}

// WithLogger sets the logger used for skip warnings and trade events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver registers an Observer, e.g. metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.obs = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: log.Logger, obs: nopObserver{}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Session runs the position lifecycle one snapshot at a time. It holds at
// most one open position and is not safe for concurrent use.
type Session struct {
	params Params
	eval   *strategy.Evaluator
	exits  *portfolio.ExitManager
	ledger *portfolio.Ledger

	history *ringbuf.Window
	pos     *portfolio.Position
	last    *model.Snapshot

	index    int
	accepted int
	warnings []series.Warning
	finished bool

	log zerolog.Logger
	obs Observer
}

// NewSession validates p and returns a ready Session.
func NewSession(p Params, opts ...Option) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()
	o := buildOptions(opts)
	eval := strategy.NewEvaluator(p.Entry)
	return &Session{
		params:  p,
		eval:    eval,
		exits:   portfolio.NewExitManager(p.Exit),
		ledger:  portfolio.NewLedger(p.InitialCapital, p.SizingFraction),
		history: ringbuf.New(eval.Lookback()),
		log:     o.log,
		obs:     o.obs,
	}, nil
}

// Step processes the next snapshot and returns the trade it closed, if any.
// A snapshot that breaks ordering or has an invalid price is skipped with a
// warning. A tick that closes a position never opens a new one.
func (s *Session) Step(snap model.Snapshot) (*model.Trade, error) {
	if s.finished {
		return nil, fmt.Errorf("session already finished")
	}
	idx := s.index
	s.index++

	if err := series.Check(s.last, &snap); err != nil {
		w := series.NewWarning(idx, snap.Time.Format(time.RFC3339), err)
		s.warnings = append(s.warnings, w)
		s.log.Warn().Int("index", idx).Time("ts", snap.Time).Float64("price", snap.Price).
			Err(err).Msg("skipping snapshot")
		s.obs.SnapshotSkipped(skipReason(err))
		return nil, nil
	}
	snap = snap.Clone()
	s.last = &snap
	s.accepted++
	s.obs.SnapshotProcessed()

	var closed *model.Trade
	if s.pos != nil {
		s.pos.Mark(snap.Price)
		d := s.exits.CheckExit(s.pos, snap.Price, snap.Time)
		if d.ShouldExit {
			t, err := s.close(snap, d.Reason)
			if err != nil {
				return nil, err
			}
			closed = t
		}
	} else {
		sig := s.eval.Evaluate(snap, s.history.Slice())
		if sig.Entry() {
			s.pos = portfolio.Open(sig.Direction, snap.Price, snap.Time, sig.Quality, sig.Reason)
			s.log.Debug().Str("direction", string(sig.Direction)).Float64("price", snap.Price).
				Time("ts", snap.Time).Float64("quality", sig.Quality).Str("reason", sig.Reason).
				Msg("position opened")
			s.obs.PositionOpened(*s.pos)
		}
	}
	s.history.Push(snap)
	return closed, nil
}

func (s *Session) close(snap model.Snapshot, reason model.ExitReason) (*model.Trade, error) {
	t := s.pos.Close(snap.Price, snap.Time, reason)
	if err := s.ledger.Append(t); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	s.pos = nil
	s.log.Debug().Str("direction", string(t.Direction)).Str("exit_reason", string(t.ExitReason)).
		Float64("profit_pct", t.ProfitPct).Time("exit_time", t.ExitTime).Msg("position closed")
	s.obs.TradeClosed(t)
	return &t, nil
}

// Finish applies the end-of-sequence policy to a still open position and
// returns the trade it produced, if any. Further Steps fail.
func (s *Session) Finish() (*model.Trade, error) {
	if s.finished {
		return nil, nil
	}
	s.finished = true
	if s.pos == nil {
		return nil, nil
	}
	pos := s.pos
	if s.params.EndPolicy == EndDiscard || !s.last.Time.After(pos.EntryTime) {
		s.log.Info().Str("direction", string(pos.Direction)).Time("entry_time", pos.EntryTime).
			Str("policy", string(s.params.EndPolicy)).Msg("discarding open position at end of data")
		s.pos = nil
		return nil, nil
	}
	return s.close(*s.last, model.ExitEndOfData)
}

// Position returns a copy of the open position.
func (s *Session) Position() (portfolio.Position, bool) {
	if s.pos == nil {
		return portfolio.Position{}, false
	}
	return *s.pos, true
}

// Ledger returns the trades closed so far.
func (s *Session) Ledger() *portfolio.Ledger { return s.ledger }

// Warnings returns the skipped-record warnings so far.
func (s *Session) Warnings() []series.Warning { return s.warnings }

// Accepted returns the number of snapshots that passed validation.
func (s *Session) Accepted() int { return s.accepted }

// Params returns the effective parameters, defaults applied.
func (s *Session) Params() Params { return s.params }

func skipReason(err error) string {
	switch {
	case errors.Is(err, series.ErrDuplicateTime):
		return "duplicate_ts"
	case errors.Is(err, series.ErrNotAscending):
		return "not_ascending"
	case errors.Is(err, series.ErrBadPrice):
		return "bad_price"
	}
	return "other"
}
