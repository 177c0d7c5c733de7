package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/strategy"
)

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instrument != "BTCUSDT" {
		t.Errorf("expected instrument BTCUSDT, got %q", cfg.Instrument)
	}
	if cfg.TakeProfitPct != 4.0 || cfg.StopLossPct != 2.0 {
		t.Errorf("expected inline exit rules, got tp=%v sl=%v", cfg.TakeProfitPct, cfg.StopLossPct)
	}
	if len(cfg.TrailingSteps) != 1 || cfg.TrailingSteps[0].DistancePct != 1.0 {
		t.Errorf("expected one trailing step, got %+v", cfg.TrailingSteps)
	}

	p := cfg.BacktestParams()
	if p.EndPolicy != backtest.EndDiscard {
		t.Errorf("expected discard policy, got %q", p.EndPolicy)
	}
	if p.Entry.TiePolicy != strategy.TiePreferLong {
		t.Errorf("expected prefer_long, got %q", p.Entry.TiePolicy)
	}
	if len(p.Entry.Long.Conditions) != 2 || p.Entry.Long.MinQuality != 0.5 {
		t.Errorf("unexpected long rule set %+v", p.Entry.Long)
	}

	if len(cfg.Derive) != 2 || cfg.Derive[1].ReadingName() != "rsi_fast" {
		t.Errorf("unexpected derive list %+v", cfg.Derive)
	}

	tol, err := cfg.Tolerance()
	if err != nil || tol != 90*time.Minute {
		t.Errorf("expected 90m tolerance, got %v (%v)", tol, err)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TakeProfitPct != 5.0 || cfg.SizingFraction != 0.10 {
		t.Errorf("expected defaults, got tp=%v f=%v", cfg.TakeProfitPct, cfg.SizingFraction)
	}
	if tol, _ := cfg.Tolerance(); tol != 2*time.Hour {
		t.Errorf("expected default 2h tolerance, got %v", tol)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("SQLITE_PATH", "/tmp/snap.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.SQLitePath != "/tmp/snap.db" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.HTTPAddr != ":9999" || cfg.RedisDB != 3 {
		t.Errorf("env not applied: level=%s http=%s db=%d", cfg.LogLevel, cfg.HTTPAddr, cfg.RedisDB)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := "stop_loss_pct: -1\nposition_sizing_fraction: 2\nreconcile:\n  match_tolerance_window: -5m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var cerr *backtest.ConfigError
	if !errors.As(err, &cerr) {
		t.Errorf("expected a ConfigError in %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	body := `
- exit: {take_profit_pct: 4}
- exit: {take_profit_pct: 6}
  position_sizing_fraction: 0.2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	base := Default().BacktestParams()

	runs, err := LoadSweep(path, base)
	if err != nil {
		t.Fatalf("LoadSweep: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Exit.TakeProfitPct != 4 || runs[0].Exit.StopLossPct != base.Exit.StopLossPct {
		t.Errorf("run 0 should only override take profit: %+v", runs[0].Exit)
	}
	if runs[1].SizingFraction != 0.2 || runs[0].SizingFraction != base.SizingFraction {
		t.Errorf("overrides leaked between runs: %v %v", runs[0].SizingFraction, runs[1].SizingFraction)
	}
}
