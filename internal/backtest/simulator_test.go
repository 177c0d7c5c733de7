package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func snap(h int, price, rsi float64) model.Snapshot {
	return model.Snapshot{
		Time:     at(h),
		Price:    price,
		Readings: []model.Reading{{Name: "rsi", Value: rsi}},
	}
}

func rsiParams() Params {
	p := DefaultParams()
	p.Entry = strategy.Params{
		Long:  strategy.RuleSet{Conditions: []strategy.Condition{{Kind: strategy.KindBand, Indicator: "rsi", Min: 20, Max: 35}}},
		Short: strategy.RuleSet{Conditions: []strategy.Condition{{Kind: strategy.KindBand, Indicator: "rsi", Min: 65, Max: 80}}},
	}
	return p
}

func quiet() Option { return WithLogger(zerolog.Nop()) }

func run(t *testing.T, p Params, seq []model.Snapshot) *Result {
	t.Helper()
	sim, err := New(p, quiet())
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	res, err := sim.Run(seq)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func TestRun_TakeProfit(t *testing.T) {
	res := run(t, rsiParams(), []model.Snapshot{
		snap(10, 100, 30),
		snap(11, 106, 50),
		snap(12, 96, 50),
	})
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Direction != model.Long || tr.ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected long take_profit, got %s %s", tr.Direction, tr.ExitReason)
	}
	if tr.ProfitPct != 6 {
		t.Errorf("expected +6%%, got %v", tr.ProfitPct)
	}
	if !tr.EntryTime.Equal(at(10)) || !tr.ExitTime.Equal(at(11)) {
		t.Errorf("unexpected times %s -> %s", tr.EntryTime, tr.ExitTime)
	}
	if !res.Summary.FinalCapital.Equal(decimal.NewFromInt(10060)) {
		t.Errorf("expected capital 10060, got %s", res.Summary.FinalCapital)
	}
}

func TestRun_StopLoss(t *testing.T) {
	res := run(t, rsiParams(), []model.Snapshot{
		snap(10, 100, 30),
		snap(11, 101, 50),
		snap(12, 97, 50),
	})
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != model.ExitStopLoss || tr.ProfitPct != -3 {
		t.Fatalf("expected stop_loss at -3, got %s at %v", tr.ExitReason, tr.ProfitPct)
	}
	if !tr.ExitTime.Equal(at(12)) {
		t.Errorf("expected exit at 12h, got %s", tr.ExitTime)
	}
}

func TestRun_ShortEntry(t *testing.T) {
	res := run(t, rsiParams(), []model.Snapshot{
		snap(0, 100, 70),
		snap(1, 94, 50),
	})
	if len(res.Trades) != 1 || res.Trades[0].Direction != model.Short || res.Trades[0].ProfitPct != 6 {
		t.Fatalf("expected short +6, got %+v", res.Trades)
	}
}

func TestRun_EndPolicy(t *testing.T) {
	seq := []model.Snapshot{snap(0, 100, 30), snap(1, 101, 50)}

	res := run(t, rsiParams(), seq)
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != model.ExitEndOfData || res.Trades[0].ProfitPct != 1 {
		t.Fatalf("expected end_of_data +1, got %+v", res.Trades)
	}

	p := rsiParams()
	p.EndPolicy = EndDiscard
	if res := run(t, p, seq); len(res.Trades) != 0 {
		t.Fatalf("expected discard, got %d trades", len(res.Trades))
	}

	// Entry on the final snapshot cannot close on the same tick.
	res = run(t, rsiParams(), []model.Snapshot{snap(0, 100, 50), snap(1, 100, 30)})
	if len(res.Trades) != 0 {
		t.Fatalf("expected entry-tick position discarded, got %+v", res.Trades)
	}
}

func TestRun_SkipsBadSnapshots(t *testing.T) {
	res := run(t, rsiParams(), []model.Snapshot{
		snap(10, 100, 30),
		snap(10, 120, 50), // duplicate timestamp
		snap(11, math.NaN(), 50),
		snap(9, 120, 50), // goes backwards
		snap(12, 106, 50),
	})
	if len(res.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}
	if res.Snapshots != 2 {
		t.Errorf("expected 2 accepted snapshots, got %d", res.Snapshots)
	}
	if len(res.Trades) != 1 || res.Trades[0].ProfitPct != 6 || !res.Trades[0].ExitTime.Equal(at(12)) {
		t.Fatalf("expected take profit at 12h, got %+v", res.Trades)
	}
}

func TestRun_Empty(t *testing.T) {
	res := run(t, rsiParams(), nil)
	if len(res.Trades) != 0 || res.Summary.TotalTrades != 0 || res.Summary.WinRate != 0 {
		t.Fatalf("expected empty result, got %+v", res.Summary)
	}
	if !res.Summary.FinalCapital.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected untouched capital, got %s", res.Summary.FinalCapital)
	}
}

func TestNew_ConfigError(t *testing.T) {
	p := rsiParams()
	p.SizingFraction = 1.5
	p.Exit.TakeProfitPct = -1
	p.EndPolicy = "hold"

	_, err := New(p)
	if err == nil {
		t.Fatal("expected config error")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	for _, field := range []string{"exit", "position_sizing_fraction", "end_of_sequence_policy"} {
		if !bytes.Contains([]byte(err.Error()), []byte(field)) {
			t.Errorf("expected error to mention %s: %v", field, err)
		}
	}
}

// wave builds a deterministic sequence with regular oversold/overbought swings.
func wave(n int) []model.Snapshot {
	seq := make([]model.Snapshot, n)
	for i := range seq {
		price := 100 + 6*math.Sin(float64(i)/7) + float64(i)*0.01
		rsi := 50 + 30*math.Sin(float64(i)/5)
		seq[i] = snap(i, price, rsi)
	}
	return seq
}

func TestRun_DeterministicAndNonOverlapping(t *testing.T) {
	seq := wave(400)
	a := run(t, rsiParams(), seq)
	b := run(t, rsiParams(), seq)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Fatal("identical inputs produced different results")
	}
	if a.RunID != b.RunID {
		t.Fatalf("run id differs: %s vs %s", a.RunID, b.RunID)
	}
	if len(a.Trades) < 2 {
		t.Fatalf("expected several trades from the wave, got %d", len(a.Trades))
	}
	for i, tr := range a.Trades {
		if !tr.EntryTime.Before(tr.ExitTime) {
			t.Fatalf("trade %d: entry %s not before exit %s", i, tr.EntryTime, tr.ExitTime)
		}
		if i > 0 && !tr.EntryTime.After(a.Trades[i-1].ExitTime) {
			t.Fatalf("trade %d enters at %s, not after previous exit %s", i, tr.EntryTime, a.Trades[i-1].ExitTime)
		}
	}

	// Capital must equal compounding the trades in order.
	want := decimal.NewFromFloat(DefaultInitialCapital)
	for _, tr := range a.Trades {
		want = portfolio.Compound(want, DefaultSizingFraction, tr.ProfitPct)
	}
	if !a.Summary.FinalCapital.Equal(want) {
		t.Fatalf("expected capital %s, got %s", want, a.Summary.FinalCapital)
	}
}

func TestRunID_ChangesWithInput(t *testing.T) {
	seq := wave(50)
	p := rsiParams()
	id := RunID(p, seq)
	if id != RunID(p, seq) {
		t.Fatal("run id not stable")
	}
	p.Exit.TakeProfitPct = 7
	if id == RunID(p, seq) {
		t.Fatal("run id ignores params")
	}
	if id == RunID(rsiParams(), seq[:49]) {
		t.Fatal("run id ignores sequence")
	}
}

type countingObserver struct {
	processed, skipped, opened, closed int
}

func (c *countingObserver) SnapshotProcessed() { c.processed++ }
func (c *countingObserver) SnapshotSkipped(string) { c.skipped++ }
func (c *countingObserver) PositionOpened(portfolio.Position) { c.opened++ }
func (c *countingObserver) TradeClosed(model.Trade) { c.closed++ }

func TestSession_StepAndObserver(t *testing.T) {
	obs := &countingObserver{}
	sess, err := NewSession(rsiParams(), quiet(), WithObserver(obs))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if tr, _ := sess.Step(snap(0, 100, 30)); tr != nil {
		t.Fatal("entry tick must not close")
	}
	if _, open := sess.Position(); !open {
		t.Fatal("expected open position")
	}
	sess.Step(snap(0, 100, 30)) // duplicate
	tr, err := sess.Step(snap(1, 105, 50))
	if err != nil || tr == nil || tr.ExitReason != model.ExitTakeProfit {
		t.Fatalf("expected take profit, got %+v err=%v", tr, err)
	}
	// The closing tick had rsi 50; a closing tick never re-enters anyway.
	if _, open := sess.Position(); open {
		t.Fatal("expected flat after exit")
	}
	if obs.processed != 2 || obs.skipped != 1 || obs.opened != 1 || obs.closed != 1 {
		t.Fatalf("unexpected observer counts %+v", obs)
	}
	if _, err := sess.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := sess.Step(snap(2, 100, 30)); err == nil {
		t.Fatal("expected error stepping a finished session")
	}
}

func TestSession_NoReentryOnClosingTick(t *testing.T) {
	sess, _ := NewSession(rsiParams(), quiet())
	sess.Step(snap(0, 100, 30))
	tr, _ := sess.Step(snap(1, 106, 30)) // closes; rsi still oversold
	if tr == nil {
		t.Fatal("expected close on tick 1")
	}
	if _, open := sess.Position(); open {
		t.Fatal("closing tick must not open a new position")
	}
	sess.Step(snap(2, 106, 30))
	if pos, open := sess.Position(); !open || !pos.EntryTime.Equal(at(2)) {
		t.Fatalf("expected re-entry at tick 2, got %+v open=%v", pos, open)
	}
}

func TestSweep_OrderPreserved(t *testing.T) {
	seq := wave(300)
	var ps []Params
	for _, tp := range []float64{2, 4, 6, 8} {
		p := rsiParams()
		p.Exit.TakeProfitPct = tp
		ps = append(ps, p)
	}
	results, err := Sweep(context.Background(), seq, ps, 2, quiet())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(results) != len(ps) {
		t.Fatalf("expected %d results, got %d", len(ps), len(results))
	}
	for i, r := range results {
		if r.Params.Exit.TakeProfitPct != ps[i].Exit.TakeProfitPct {
			t.Fatalf("result %d out of order: tp %v", i, r.Params.Exit.TakeProfitPct)
		}
		single := run(t, ps[i], seq)
		if single.RunID != r.RunID || len(single.Trades) != len(r.Trades) {
			t.Fatalf("result %d differs from a standalone run", i)
		}
	}

	bad := rsiParams()
	bad.InitialCapital = -1
	if _, err := Sweep(context.Background(), seq, []Params{ps[0], bad}, 2, quiet()); err == nil {
		t.Fatal("expected sweep to fail on invalid params")
	}
}
