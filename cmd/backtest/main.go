// cmd/backtest runs the entry/exit rules over a historical snapshot sequence
// and writes the resulting trade ledger.
//
// Usage:
//
//	go run ./cmd/backtest --config=config.yaml --csv=data/snapshots.csv --out=ledger.json
//	go run ./cmd/backtest --db=data/snapshots.db --instrument=BTCUSDT --sweep=sweep.yaml
//	go run ./cmd/backtest --redis --from=2024-03-01T00:00:00Z
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/config"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/execution"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/indicator"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/logger"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/metrics"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	redisstore "github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store/redis"
	sqlitestore "github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store/sqlite"
)

func main() {
	// Flags
	cfgPath := flag.String("config", "", "YAML config file (defaults when empty)")
	csvPath := flag.String("csv", "", "Normalized snapshot CSV to replay")
	dbPath := flag.String("db", "", "SQLite snapshot database (used when --csv is empty)")
	fromRedis := flag.Bool("redis", false, "Backtest over the snapshot history retained in the Redis stream")
	instrument := flag.String("instrument", "", "Instrument to load from --db (default from config)")
	fromStr := flag.String("from", "", "Start time, inclusive (RFC3339 or unix)")
	toStr := flag.String("to", "", "End time, exclusive (RFC3339 or unix)")
	outPath := flag.String("out", "", "Write the ledger JSON here (a directory with --sweep)")
	sweepPath := flag.String("sweep", "", "YAML list of parameter overrides to run in parallel")
	workers := flag.Int("workers", 4, "Parallel runs for --sweep")
	journal := flag.Bool("journal", false, "Save the run to the SQLite journal")
	deriveStr := flag.String("derive", "", "Derive readings from price: TYPE:PERIOD,... (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[backtest] config: %v\n", err)
		os.Exit(2)
	}
	l := logger.New(os.Stderr, "backtest", cfg.LogLevel)
	if *instrument == "" {
		*instrument = cfg.Instrument
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	params := cfg.BacktestParams()
	seq, warnings, err := loadSequence(ctx, cfg, *csvPath, *dbPath, *fromRedis, *instrument, *fromStr, *toStr)
	if err != nil {
		log.Fatal().Err(err).Msg("[backtest] load snapshots failed")
	}
	for _, w := range warnings {
		l.Warn().Msg(w.String())
	}

	derive := cfg.Derive
	if *deriveStr != "" {
		if derive, err = indicator.ParseConfigs(*deriveStr); err != nil {
			log.Fatal().Err(err).Msg("[backtest] invalid --derive")
		}
	}
	if len(derive) > 0 {
		eng, err := indicator.NewEngine(derive)
		if err != nil {
			log.Fatal().Err(err).Msg("[backtest] invalid derive config")
		}
		seq = eng.Derive(seq)
		l.Info().Strs("readings", eng.Names()).Msg("derived indicator readings")
	}

	m := metrics.New()
	opts := []backtest.Option{backtest.WithLogger(l), backtest.WithObserver(m)}

	if *sweepPath != "" {
		runSweep(ctx, seq, params, *sweepPath, *workers, *outPath, opts)
		return
	}

	start := time.Now()
	sim, err := backtest.New(params, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("[backtest] invalid parameters")
	}
	res, err := sim.Run(seq)
	if err != nil {
		log.Fatal().Err(err).Msg("[backtest] run failed")
	}
	m.ObserveRun("backtest", time.Since(start))
	res.Warnings = append(warnings, res.Warnings...)

	if *outPath != "" {
		if err := writeLedger(*outPath, res.Ledger); err != nil {
			log.Fatal().Err(err).Msg("[backtest] write ledger failed")
		}
	}
	if *journal {
		if err := saveRun(ctx, cfg.JournalPath, *instrument, res); err != nil {
			log.Fatal().Err(err).Msg("[backtest] journal failed")
		}
	}

	printSummary(res, len(res.Warnings), time.Since(start))
}

func loadSequence(ctx context.Context, cfg *config.Config, csvPath, dbPath string, fromRedis bool, instrument, fromStr, toStr string) ([]model.Snapshot, []series.Warning, error) {
	from, err := parseBound(fromStr)
	if err != nil {
		return nil, nil, fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(toStr)
	if err != nil {
		return nil, nil, fmt.Errorf("--to: %w", err)
	}

	var raws []model.RawSnapshot
	var readWarnings []series.Warning
	switch {
	case csvPath != "":
		raws, readWarnings, err = series.LoadCSV(csvPath)
	case dbPath != "" || fromRedis:
		var reader model.SnapshotReader
		reader, err = openReader(cfg, dbPath, fromRedis)
		if err != nil {
			return nil, nil, err
		}
		defer reader.Close()
		raws, err = reader.ReadSnapshots(ctx, instrument, from, to)
	default:
		return nil, nil, fmt.Errorf("one of --csv, --db or --redis is required")
	}
	if err != nil {
		return nil, nil, err
	}

	seq, warnings := series.Build(raws, series.Options{Sort: true})
	if csvPath != "" && (!from.IsZero() || !to.IsZero()) {
		seq = clip(seq, from, to)
	}
	return seq, append(readWarnings, warnings...), nil
}

func openReader(cfg *config.Config, dbPath string, fromRedis bool) (model.SnapshotReader, error) {
	if fromRedis {
		r, err := redisstore.NewReader(redisstore.ReaderConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return series.ParseTime(s, nil, time.UTC)
}

func clip(seq []model.Snapshot, from, to time.Time) []model.Snapshot {
	out := seq[:0:0]
	for _, s := range seq {
		if !from.IsZero() && s.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !s.Time.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func runSweep(ctx context.Context, seq []model.Snapshot, base backtest.Params, path string, workers int, outDir string, opts []backtest.Option) {
	runs, err := config.LoadSweep(path, base)
	if err != nil {
		log.Fatal().Err(err).Msg("[backtest] sweep config failed")
	}
	start := time.Now()
	results, err := backtest.Sweep(ctx, seq, runs, workers, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("[backtest] sweep failed")
	}

	fmt.Println()
	fmt.Printf("%-4s  %-36s  %7s  %8s  %10s  %12s\n", "#", "RUN", "TRADES", "WIN%", "TOTAL%", "FINAL")
	for i, r := range results {
		fmt.Printf("%-4d  %-36s  %7d  %8.2f  %10.3f  %12s\n",
			i, r.RunID, r.Summary.TotalTrades, r.Summary.WinRate, r.Summary.TotalPnLPct, r.Summary.FinalCapital)
		if outDir != "" {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				log.Fatal().Err(err).Msg("[backtest] create output dir failed")
			}
			if err := writeLedger(filepath.Join(outDir, r.RunID+".json"), r.Ledger); err != nil {
				log.Fatal().Err(err).Msg("[backtest] write ledger failed")
			}
		}
	}
	fmt.Printf("\n%d runs in %s\n", len(results), time.Since(start).Round(time.Millisecond))
}

func writeLedger(path string, l *portfolio.Ledger) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := portfolio.WriteLedger(f, l); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveRun(ctx context.Context, path, instrument string, res *backtest.Result) error {
	j, err := execution.NewJournal(path, instrument)
	if err != nil {
		return err
	}
	defer j.Close()
	pj, _ := json.Marshal(res.Params)
	sj, _ := json.Marshal(res.Summary)
	return j.SaveRun(ctx, execution.RunRecord{
		RunID:      res.RunID,
		Instrument: instrument,
		Mode:       "backtest",
		Params:     pj,
		Summary:    sj,
	}, res.Trades)
}

func printSummary(res *backtest.Result, skipped int, took time.Duration) {
	s := res.Summary
	reasons := make([]string, 0, len(s.ExitReasons))
	for _, r := range []model.ExitReason{
		model.ExitTakeProfit, model.ExitStopLoss, model.ExitProfitLock,
		model.ExitTrailingStop, model.ExitMaxHold, model.ExitEndOfData,
	} {
		if n := s.ExitReasons[r]; n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║               BACKTEST COMPLETE              ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Run:        %-31s ║\n", res.RunID[:8])
	fmt.Printf("║  Snapshots:  %-31d ║\n", res.Snapshots)
	fmt.Printf("║  Skipped:    %-31d ║\n", skipped)
	fmt.Printf("║  Trades:     %-31d ║\n", s.TotalTrades)
	fmt.Printf("║  Win rate:   %-31s ║\n", fmt.Sprintf("%.2f%% (%d/%d)", s.WinRate, s.Wins, s.TotalTrades))
	fmt.Printf("║  Total P&L:  %-31s ║\n", fmt.Sprintf("%.3f%%", s.TotalPnLPct))
	fmt.Printf("║  Avg hold:   %-31s ║\n", fmt.Sprintf("%.2fh", s.AvgHoldHours))
	fmt.Printf("║  Capital:    %-31s ║\n", fmt.Sprintf("%s -> %s", s.InitialCapital, s.FinalCapital))
	fmt.Printf("║  Return:     %-31s ║\n", fmt.Sprintf("%.3f%%", s.ReturnPct))
	fmt.Printf("║  Took:       %-31s ║\n", took.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════════════╝")
	if len(reasons) > 0 {
		fmt.Println("Exits: " + strings.Join(reasons, " "))
	}
}
