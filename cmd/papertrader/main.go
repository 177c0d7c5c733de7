// cmd/papertrader runs the entry/exit rules against a live Redis snapshot
// stream, or a SQLite replay, and records simulated trades.
//
// Usage:
//
//	go run ./cmd/papertrader --config=config.yaml --source=redis --archive
//	go run ./cmd/papertrader --source=sqlite --speed=100 --republish
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/config"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/execution"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/indicator"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/logger"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/bus"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/replay"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/metrics"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store"
	redisstore "github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store/redis"
	sqlitestore "github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (defaults when empty)")
	source := flag.String("source", "redis", "Snapshot source: redis | sqlite")
	speed := flag.Float64("speed", 0, "Replay speed for --source=sqlite (0=max, 1=realtime)")
	fromStr := flag.String("from", "", "Replay start time for --source=sqlite")
	archive := flag.Bool("archive", false, "Archive streamed snapshots to SQLite (--source=redis)")
	republish := flag.Bool("republish", false, "Republish replayed snapshots to the Redis stream (--source=sqlite)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("[papertrader] config: " + err.Error() + "\n")
		os.Exit(2)
	}
	l := logger.Init("papertrader", cfg.LogLevel)
	l.Info().Str("instrument", cfg.Instrument).Str("source", *source).Msg("starting")

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	// runCtx stops the source; pipeCtx outlives it so the final trade still
	// reaches every sink.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	pipeCtx, stopPipe := context.WithCancel(context.Background())
	defer stopPipe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		l.Info().Msg("shutdown requested")
		stopRun()
	}()

	// ---- Journal ----
	os.MkdirAll("data", 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath, cfg.Instrument)
	if err != nil {
		l.Fatal().Err(err).Msg("journal init failed")
	}
	defer journal.Close()

	// ---- Redis ----
	var rdb *goredis.Client
	rdb, err = redisstore.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		if *source == "redis" {
			l.Fatal().Err(err).Msg("redis required for --source=redis")
		}
		l.Warn().Err(err).Msg("redis unavailable, continuing without trade publishing")
		rdb = nil
	}
	health.StartLivenessChecker(pipeCtx, rdb, journal.DB(), 10*time.Second)

	// ---- Fan-out for closed trades (journal + Redis) ----
	fanout := bus.New(1000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	var sinks sync.WaitGroup
	drain := func(sink model.TradeSink) {
		sub := fanout.Subscribe()
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			bus.Drain(pipeCtx, sub, sink, l)
		}()
	}
	drain(journal)
	var redisSink *redisstore.BufferedWriter
	if rdb != nil {
		redisSink = newRedisSink(pipeCtx, rdb, cfg.Instrument, prom, l)
		drain(redisSink)
	}
	tradeCh := make(chan bus.TradeEvent, 256)
	go fanout.Run(pipeCtx, tradeCh)

	// ---- Paper trader ----
	params := cfg.BacktestParams()
	trader, err := execution.NewPaperTrader(cfg.Instrument, params, backtest.WithObserver(prom))
	if err != nil {
		l.Fatal().Err(err).Msg("invalid parameters")
	}
	trader.Trades = tradeCh

	src, closeSrc := openSource(*source, *speed, *fromStr, cfg, rdb, l)
	defer closeSrc()
	if len(cfg.Derive) > 0 {
		eng, err := indicator.NewEngine(cfg.Derive)
		if err != nil {
			l.Fatal().Err(err).Msg("invalid derive config")
		}
		src = indicator.NewConsumer(src, eng)
	}

	// ---- Snapshot archive: Redis stream -> SQLite, or SQLite replay -> Redis stream ----
	var archiveW model.SnapshotWriter
	switch {
	case *archive && *source == "redis":
		sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, Logger: &l})
		if err != nil {
			l.Fatal().Err(err).Msg("sqlite archive init failed")
		}
		defer sqlWriter.Close()
		archiveW = sqlWriter
	case *republish && *source == "sqlite":
		if rdb == nil {
			l.Fatal().Msg("redis required for --republish")
		}
		// Shares rdb with the trade sink, so it is not closed separately.
		archiveW = redisstore.NewWriterFromClient(rdb, redisstore.WriterConfig{Addr: cfg.RedisAddr, Instrument: cfg.Instrument, Logger: &l})
	}
	if archiveW != nil {
		archiveCh := make(chan model.Snapshot, 5000)
		trader.Archive = archiveCh
		archiveDone := make(chan struct{})
		go func() {
			defer close(archiveDone)
			store.Archive(pipeCtx, archiveW, cfg.Instrument, archiveCh, l)
		}()
		defer func() {
			close(archiveCh)
			<-archiveDone
		}()
	}

	go statusLoop(runCtx, trader, fanout, prom, l)

	l.Info().Str("run_id", trader.RunID()).Msg("╔══ paper trading started ══╗")
	runErr := trader.Run(runCtx, src)

	// Flush the pipeline: closing tradeCh closes every subscriber, then
	// drains finish.
	close(tradeCh)
	sinks.Wait()
	if redisSink != nil {
		if left := redisSink.Flush(); left > 0 {
			l.Error().Int("trades", left).Msg("redis unreachable at shutdown, trades not published")
		}
	}

	st := trader.Status()
	pj, _ := json.Marshal(params)
	sj, _ := json.Marshal(st.Summary)
	rec := execution.RunRecord{RunID: trader.RunID(), Instrument: cfg.Instrument, Mode: "paper", Params: pj, Summary: sj}
	if err := journal.SaveRun(context.Background(), rec, trader.Ledger()); err != nil {
		l.Error().Err(err).Msg("save run failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)

	if runErr != nil {
		l.Fatal().Err(runErr).Msg("paper session failed")
	}
	l.Info().Int("trades", st.Trades).Float64("total_pnl_pct", st.Summary.TotalPnLPct).
		Str("final_capital", st.Summary.FinalCapital.String()).Msg("╚══ paper trading stopped ══╝")
}

func openSource(kind string, speed float64, fromStr string, cfg *config.Config, rdb *goredis.Client, l zerolog.Logger) (model.SnapshotConsumer, func()) {
	switch kind {
	case "redis":
		host, _ := os.Hostname()
		r := redisstore.NewReaderFromClient(rdb, redisstore.ReaderConfig{
			Addr:         cfg.RedisAddr,
			ConsumerName: "papertrader-" + host,
			Logger:       &l,
		})
		return r, func() { r.Close() }
	case "sqlite":
		var from time.Time
		if fromStr != "" {
			t, err := series.ParseTime(fromStr, nil, time.UTC)
			if err != nil {
				l.Fatal().Err(err).Msg("invalid --from")
			}
			from = t
		}
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			l.Fatal().Err(err).Msg("sqlite open failed")
		}
		r := replay.New(reader, replay.Config{From: from, Speed: speed, Accept: series.Options{Sort: true}})
		return r, func() { r.Close() }
	}
	l.Fatal().Str("source", kind).Msg("unknown source")
	return nil, nil
}

// newRedisSink publishes trades through a circuit breaker, buffering while
// Redis is down.
func newRedisSink(ctx context.Context, rdb *goredis.Client, instrument string, prom *metrics.Metrics, l zerolog.Logger) *redisstore.BufferedWriter {
	w := redisstore.NewWriterFromClient(rdb, redisstore.WriterConfig{Instrument: instrument, Logger: &l})
	cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("redis circuit breaker")
	}
	bw := redisstore.NewBufferedWriter(ctx, w, cb, 10000)
	bw.OnBuffer = prom.RedisBufferedTrades.Inc
	bw.OnFlush = func(n int) {
		l.Info().Int("count", n).Msg("flushed buffered trades")
	}
	return bw
}

func statusLoop(ctx context.Context, trader *execution.PaperTrader, fanout *bus.FanOut, prom *metrics.Metrics, l zerolog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, cs := range fanout.ChannelStats() {
				prom.ObserveQueue(i, cs.Len, cs.Cap)
			}
			st := trader.Status()
			ev := l.Info().Int("trades", st.Trades).Int("skipped", st.Skipped).
				Float64("total_pnl_pct", st.Summary.TotalPnLPct)
			if st.Position != nil {
				ev = ev.Str("position", string(st.Position.Direction)).Float64("peak_pct", st.Position.PeakPct)
			}
			ev.Msg("status")
		}
	}
}
