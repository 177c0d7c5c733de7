// cmd/api serves backtests, reconciliation and the trade journal over HTTP.
//
// Usage:
//
//	go run ./cmd/api --config=config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/config"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/api"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/execution"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/logger"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/metrics"
	redisstore "github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store/redis"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (defaults when empty)")
	logAll := flag.Bool("log-all", false, "Log every request, not only failures")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("[api] config: " + err.Error() + "\n")
		os.Exit(2)
	}
	l := logger.Init("api", cfg.LogLevel)
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.MkdirAll("data", 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath, cfg.Instrument)
	if err != nil {
		l.Fatal().Err(err).Msg("journal init failed")
	}
	defer journal.Close()

	// Redis only feeds the health report here.
	var rdb *goredis.Client
	if c, err := redisstore.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		l.Warn().Err(err).Msg("redis unavailable, health will not report it")
	} else {
		rdb = c
		defer rdb.Close()
	}
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, rdb, journal.DB(), 10*time.Second)

	tol, _ := cfg.Tolerance()
	router := api.NewRouter(api.Deps{
		Journal:    journal,
		Metrics:    metrics.New(),
		Health:     health,
		Defaults:   cfg.BacktestParams(),
		Tolerance:  tol,
		Instrument: cfg.Instrument,
		Logger:     &l,
		LogAll:     *logAll,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("api server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	l.Info().Msg("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("graceful shutdown failed")
	}
}
