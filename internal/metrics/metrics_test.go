package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
)

func TestMetrics_Observer(t *testing.T) {
	m := New()
	m.SnapshotProcessed()
	m.SnapshotProcessed()
	m.SnapshotSkipped("duplicate_ts")
	m.PositionOpened(portfolio.Position{Direction: model.Short})

	if got := testutil.ToFloat64(m.OpenPosition); got != -1 {
		t.Fatalf("expected open position -1, got %v", got)
	}
	m.TradeClosed(model.Trade{Direction: model.Short, ExitReason: model.ExitStopLoss, ProfitPct: -3})

	if got := testutil.ToFloat64(m.SnapshotsProcessed); got != 2 {
		t.Errorf("expected 2 processed, got %v", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsSkipped.WithLabelValues("duplicate_ts")); got != 1 {
		t.Errorf("expected 1 skipped, got %v", got)
	}
	if got := testutil.ToFloat64(m.TradesClosed.WithLabelValues("short", "stop_loss")); got != 1 {
		t.Errorf("expected 1 closed trade, got %v", got)
	}
	if got := testutil.ToFloat64(m.OpenPosition); got != 0 {
		t.Errorf("expected flat after close, got %v", got)
	}
}

func TestMetrics_ObserveQueue(t *testing.T) {
	m := New()
	m.ObserveQueue(0, 25, 100)
	m.ObserveQueue(1, 3, 0)
	if got := testutil.ToFloat64(m.FanoutSaturation.WithLabelValues("0")); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	if got := testutil.ToFloat64(m.FanoutSaturation.WithLabelValues("1")); got != 0 {
		t.Errorf("expected 0 for zero capacity, got %v", got)
	}
}

func TestMetrics_HandlerUsesPrivateRegistry(t *testing.T) {
	a, b := New(), New() // no duplicate registration panic
	a.SnapshotProcessed()
	_ = b

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "engine_snapshots_processed_total 1") {
		t.Fatalf("expected counter in output:\n%s", rec.Body.String())
	}
}

func TestHealthStatus_Report(t *testing.T) {
	h := NewHealthStatus()
	if _, code := h.Report(); code != http.StatusServiceUnavailable {
		t.Fatalf("expected degraded before the first sqlite check, got %d", code)
	}
	h.SQLiteOK = true
	r, code := h.Report()
	if code != http.StatusOK || r.Status != "healthy" {
		t.Fatalf("expected healthy without redis configured, got %s %d", r.Status, code)
	}
	h.RedisEnabled = true
	if r, _ := h.Report(); r.Status != "degraded" {
		t.Fatalf("expected degraded with redis down, got %s", r.Status)
	}
}
