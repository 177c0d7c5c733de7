package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

func TestDecodeSnapshot(t *testing.T) {
	snap, err := DecodeSnapshot(map[string]interface{}{
		"data": `{"ts":"2024-03-01T10:00:00Z","price":101.5,"readings":[{"name":"rsi","value":28}]}`,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Time.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) || snap.Price != 101.5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if v, ok := snap.Value("rsi"); !ok || v != 28 {
		t.Fatalf("expected rsi 28, got %v %v", v, ok)
	}

	for _, bad := range []map[string]interface{}{
		{},
		{"data": "{not json"},
		{"data": `{"ts":"soon","price":1}`},
	} {
		if _, err := DecodeSnapshot(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

func TestEncodeTrade(t *testing.T) {
	tr := model.Trade{Direction: model.Long, ProfitPct: 2.5, ExitReason: model.ExitTrailingStop}
	data, err := EncodeTrade("run-1", "BTC", tr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg TradeMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.RunID != "run-1" || msg.Instrument != "BTC" || msg.Trade.ExitReason != model.ExitTrailingStop {
		t.Fatalf("unexpected message %+v", msg)
	}
	if TradeStream("BTC") != "trades:BTC" || SnapshotStream("BTC") != "snap:BTC" {
		t.Fatal("unexpected stream keys")
	}
}

// flakySink fails while down is set.
type flakySink struct {
	mu     sync.Mutex
	down   bool
	stored []string
}

func (s *flakySink) RecordTrade(_ context.Context, runID string, _ model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("connection refused")
	}
	s.stored = append(s.stored, runID)
	return nil
}

func (s *flakySink) setDown(v bool) {
	s.mu.Lock()
	s.down = v
	s.mu.Unlock()
}

func TestBufferedWriter_BuffersAndFlushes(t *testing.T) {
	sink := &flakySink{down: true}
	cb, _ := newTestBreaker(1)
	bw := NewBufferedWriter(context.Background(), sink, cb, 2)

	buffered := 0
	bw.OnBuffer = func() { buffered++ }

	for _, id := range []string{"a", "b", "c"} {
		if err := bw.RecordTrade(context.Background(), id, model.Trade{}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open breaker, got %v", cb.CurrentState())
	}
	// Capacity 2 drops the oldest.
	if bw.PendingCount() != 2 || buffered != 3 {
		t.Fatalf("expected 2 pending after 3 buffered, got %d/%d", bw.PendingCount(), buffered)
	}

	sink.setDown(false)
	if left := bw.Flush(); left != 0 || bw.PendingCount() != 0 {
		t.Fatalf("expected empty buffer, got %d", bw.PendingCount())
	}
	if len(sink.stored) != 2 || sink.stored[0] != "b" || sink.stored[1] != "c" {
		t.Fatalf("expected [b c] flushed in order, got %v", sink.stored)
	}
}

func TestBufferedWriter_FailedFlushKeepsOrder(t *testing.T) {
	sink := &flakySink{down: true}
	cb, _ := newTestBreaker(5)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	bw.RecordTrade(context.Background(), "a", model.Trade{})
	bw.RecordTrade(context.Background(), "b", model.Trade{})
	bw.Flush() // still down

	if bw.PendingCount() != 2 {
		t.Fatalf("expected trades kept after failed flush, got %d", bw.PendingCount())
	}
	sink.setDown(false)
	bw.Flush()
	if len(sink.stored) != 2 || sink.stored[0] != "a" {
		t.Fatalf("expected [a b], got %v", sink.stored)
	}
}

func TestBufferedWriter_SingleFailureKeepsOrder(t *testing.T) {
	sink := &flakySink{down: true}
	cb, _ := newTestBreaker(5)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	flushed := 0
	bw.OnFlush = func(n int) { flushed += n }

	bw.RecordTrade(context.Background(), "t1", model.Trade{})
	if cb.CurrentState() != StateClosed || bw.PendingCount() != 1 {
		t.Fatalf("expected closed breaker with t1 pending, got %v/%d", cb.CurrentState(), bw.PendingCount())
	}

	sink.setDown(false)
	for _, id := range []string{"t2", "t3", "t4"} {
		bw.RecordTrade(context.Background(), id, model.Trade{})
	}
	if bw.PendingCount() != 0 {
		t.Fatalf("expected buffer drained, got %d pending", bw.PendingCount())
	}
	want := []string{"t1", "t2", "t3", "t4"}
	if len(sink.stored) != len(want) {
		t.Fatalf("expected %v, got %v", want, sink.stored)
	}
	for i := range want {
		if sink.stored[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, sink.stored)
		}
	}
	if flushed != 1 {
		t.Fatalf("expected 1 backlog trade reported, got %d", flushed)
	}
}

func TestBufferedWriter_QueuesBehindBacklog(t *testing.T) {
	sink := &flakySink{down: true}
	cb, clk := newTestBreaker(1)
	bw := NewBufferedWriter(context.Background(), sink, cb, 10)

	bw.RecordTrade(context.Background(), "a", model.Trade{})
	sink.setDown(false)
	// Breaker is still open: b must queue behind a, not jump ahead.
	bw.RecordTrade(context.Background(), "b", model.Trade{})
	if len(sink.stored) != 0 || bw.PendingCount() != 2 {
		t.Fatalf("expected both buffered while open, stored=%v pending=%d", sink.stored, bw.PendingCount())
	}

	clk.advance(11 * time.Second)
	bw.RecordTrade(context.Background(), "c", model.Trade{})
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected breaker closed after the half-open call, got %v", cb.CurrentState())
	}
	if len(sink.stored) != 3 || sink.stored[0] != "a" || sink.stored[1] != "b" || sink.stored[2] != "c" {
		t.Fatalf("expected [a b c], got %v", sink.stored)
	}
}
