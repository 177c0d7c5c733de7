// Package api serves backtests, reconciliation and stored runs over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/execution"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/indicator"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/logger"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/metrics"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/reconcile"
)

// Deps wires the router to its collaborators. Journal and Health may be nil.
type Deps struct {
	Journal    *execution.Journal
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	Defaults   backtest.Params
	Tolerance  time.Duration
	Instrument string
	Logger     *zerolog.Logger
	LogAll     bool
}

type handler struct {
	Deps
	log zerolog.Logger
}

// BacktestRequest runs the simulator over inline snapshots. Params fields
// that are present override the server defaults.
type BacktestRequest struct {
	Instrument string              `json:"instrument"`
	Params     json.RawMessage     `json:"params,omitempty"`
	Snapshots  []model.RawSnapshot `json:"snapshots"`
	Derive     []indicator.Config  `json:"derive,omitempty"`
}

// ReconcileRequest compares two ledgers. Tolerance is a Go duration string.
type ReconcileRequest struct {
	Reference []model.Trade `json:"reference"`
	Candidate []model.Trade `json:"candidate"`
	Tolerance string        `json:"tolerance,omitempty"`
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) *gin.Engine {
	l := log.Logger
	if d.Logger != nil {
		l = *d.Logger
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	h := &handler{Deps: d, log: l.With().Str("component", "api").Logger()}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.health)
	v1.POST("/backtests", h.runBacktest)
	v1.POST("/reconcile", h.reconcile)
	v1.GET("/runs/:id", h.getRun)
	v1.GET("/runs/:id/trades", h.getRunTrades)

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	return r
}

// requestLogger tags the request with a trace ID and logs failed requests,
// or every request when LogAll is set.
func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		tid := c.GetHeader("X-Request-ID")
		if tid == "" {
			tid = logger.GenerateTraceID(h.Instrument, start)
		}
		ctx := logger.WithTraceID(c.Request.Context(), tid)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", tid)

		c.Next()

		status := c.Writer.Status()
		if !h.LogAll && status < 400 {
			return
		}
		l := logger.Ctx(ctx, h.log)
		ev := l.Info()
		if status >= 500 {
			ev = l.Error()
		} else if status >= 400 {
			ev = l.Warn()
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			ev = ev.Str("error", msg)
		}
		ev.Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (h *handler) health(c *gin.Context) {
	if h.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	rep, code := h.Health.Report()
	c.JSON(code, rep)
}

func (h *handler) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	p, err := h.params(req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid params: %v", err)})
		return
	}

	start := time.Now()
	l := logger.Ctx(c.Request.Context(), h.log)
	sim, err := backtest.New(p, backtest.WithLogger(l), backtest.WithObserver(h.Metrics))
	if err != nil {
		var cerr *backtest.ConfigError
		if errors.As(err, &cerr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "field": cerr.Field})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	seq, warns := series.Build(req.Snapshots, series.Options{Sort: true})
	if len(req.Derive) > 0 {
		eng, err := indicator.NewEngine(req.Derive)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		seq = eng.Derive(seq)
	}
	res, err := sim.Run(seq)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	res.Warnings = append(warns, res.Warnings...)
	h.Metrics.ObserveRun("backtest", time.Since(start))

	if h.Journal != nil {
		instrument := req.Instrument
		if instrument == "" {
			instrument = h.Instrument
		}
		pj, _ := json.Marshal(res.Params)
		sj, _ := json.Marshal(res.Summary)
		rec := execution.RunRecord{RunID: res.RunID, Instrument: instrument, Mode: "backtest", Params: pj, Summary: sj}
		if err := h.Journal.SaveRun(c.Request.Context(), rec, res.Trades); err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save run: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, res)
}

// params overlays raw onto a deep copy of the defaults.
func (h *handler) params(raw json.RawMessage) (backtest.Params, error) {
	var p backtest.Params
	base, err := json.Marshal(h.Defaults)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(base, &p); err != nil {
		return p, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (h *handler) reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	tol := h.Tolerance
	if req.Tolerance != "" {
		d, err := time.ParseDuration(req.Tolerance)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid tolerance: %v", err)})
			return
		}
		tol = d
	}

	start := time.Now()
	rep, err := reconcile.Compare(req.Reference, req.Candidate, tol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Metrics.ObserveRun("reconcile", time.Since(start))
	h.Metrics.ReconcileMatch.Set(rep.MatchRate)
	c.JSON(http.StatusOK, rep)
}

func (h *handler) getRun(c *gin.Context) {
	if h.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	rec, ok, err := h.Journal.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) getRunTrades(c *gin.Context) {
	if h.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	ctx, id := c.Request.Context(), c.Param("id")
	_, ok, err := h.Journal.Run(ctx, id)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	trades, err := h.Journal.Trades(ctx, id)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "trades": trades})
}
