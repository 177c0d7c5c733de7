// Package backtest replays a snapshot sequence through the entry evaluator and
// exit manager and produces a deterministic trade ledger.
//
// The same Params and sequence always produce byte-identical ledgers and the
// same RunID: nothing in a run depends on wall-clock time or randomness.
package backtest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
)

// runNamespace scopes run IDs so they never collide with other UUIDv5 users.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("backtest.run"))

// Result is the outcome of one run.
type Result struct {
	RunID     string            `json:"run_id"`
	Params    Params            `json:"params"`
	Trades    []model.Trade     `json:"trades"`
	Summary   portfolio.Summary `json:"summary"`
	Warnings  []series.Warning  `json:"warnings,omitempty"`
	Snapshots int               `json:"snapshots"`
	Ledger    *portfolio.Ledger `json:"-"`
}

// Simulator runs complete sequences. It is stateless between runs and may be
// reused; each Run gets a fresh Session.
type Simulator struct {
	params Params
	opts   []Option
	log    zerolog.Logger
}

// New validates p and returns a Simulator.
func New(p Params, opts ...Option) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{params: p.withDefaults(), opts: opts, log: buildOptions(opts).log}, nil
}

// Params returns the effective parameters.
func (s *Simulator) Params() Params { return s.params }

// Run processes seq in a single pass. An empty sequence yields an empty
// ledger with zero aggregates.
func (s *Simulator) Run(seq []model.Snapshot) (*Result, error) {
	sess, err := NewSession(s.params, s.opts...)
	if err != nil {
		return nil, err
	}
	for i := range seq {
		if _, err := sess.Step(seq[i]); err != nil {
			return nil, err
		}
	}
	if _, err := sess.Finish(); err != nil {
		return nil, err
	}

	ledger := sess.Ledger()
	res := &Result{
		RunID:     RunID(s.params, seq),
		Params:    s.params,
		Trades:    ledger.Trades,
		Summary:   ledger.Summary(),
		Warnings:  sess.Warnings(),
		Snapshots: sess.Accepted(),
		Ledger:    ledger,
	}
	s.log.Info().Str("run_id", res.RunID).Int("snapshots", res.Snapshots).
		Int("skipped", len(res.Warnings)).Int("trades", res.Summary.TotalTrades).
		Float64("total_pnl_pct", res.Summary.TotalPnLPct).Msg("backtest complete")
	return res, nil
}

// RunID derives a stable UUIDv5 from the parameters and a fingerprint of the
// sequence.
func RunID(p Params, seq []model.Snapshot) string {
	h := sha256.New()
	pj, _ := json.Marshal(p.withDefaults())
	h.Write(pj)

	var buf [8]byte
	putFloat := func(f float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	for i := range seq {
		binary.BigEndian.PutUint64(buf[:], uint64(seq[i].Time.UnixNano()))
		h.Write(buf[:])
		putFloat(seq[i].Price)
		for _, r := range seq[i].Readings {
			h.Write([]byte(r.Name))
			putFloat(r.Value)
			h.Write([]byte(r.Color))
			h.Write([]byte(r.Intensity))
		}
	}
	return uuid.NewSHA1(runNamespace, h.Sum(nil)).String()
}
