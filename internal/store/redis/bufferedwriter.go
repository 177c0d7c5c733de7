package redis

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// pendingTrade is a trade waiting for a successful publish.
type pendingTrade struct {
	runID string
	trade model.Trade
}

// BufferedWriter wraps a trade sink with a circuit breaker. A trade that
// cannot be published is buffered locally. Every later publish drains the
// buffer first, so trades reach the sink in the order they were recorded.
type BufferedWriter struct {
	sink model.TradeSink
	cb   *CircuitBreaker
	ctx  context.Context
	log  zerolog.Logger

	sendMu sync.Mutex // serializes publishing
	mu     sync.Mutex
	buffer []pendingTrade
	maxBuf int // max buffered trades before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a trade is left in the buffer (for metrics)
	OnFlush  func(count int) // called after previously buffered trades were published
}

// NewBufferedWriter creates a BufferedWriter around sink. Flush runs with ctx.
func NewBufferedWriter(ctx context.Context, sink model.TradeSink, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		sink:   sink,
		cb:     cb,
		ctx:    ctx,
		log:    log.Logger.With().Str("component", "buffered-writer").Logger(),
		buffer: make([]pendingTrade, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// RecordTrade queues t behind any buffered trades and publishes as many as
// the breaker lets through. It never fails: what is not published stays
// buffered for the next call or Flush.
func (bw *BufferedWriter) RecordTrade(ctx context.Context, runID string, t model.Trade) error {
	bw.sendMu.Lock()
	defer bw.sendMu.Unlock()

	before := bw.push(runID, t)
	sent, err := bw.drain(func(p pendingTrade) error {
		return bw.cb.Execute(func() error {
			return bw.sink.RecordTrade(ctx, p.runID, p.trade)
		})
	})
	if backlog := min(sent, before); backlog > 0 && bw.OnFlush != nil {
		bw.OnFlush(backlog)
	}
	if sent <= before {
		bw.log.Warn().Err(err).Str("run_id", runID).Int("pending", bw.PendingCount()).Msg("buffering trade")
		if bw.OnBuffer != nil {
			bw.OnBuffer()
		}
	}
	return nil
}

// push appends to the buffer and returns how many trades were ahead of it.
func (bw *BufferedWriter) push(runID string, t model.Trade) int {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.log.Error().Str("run_id", bw.buffer[0].runID).Msg("buffer full, dropping oldest trade")
		bw.buffer = bw.buffer[1:]
	}
	before := len(bw.buffer)
	bw.buffer = append(bw.buffer, pendingTrade{runID: runID, trade: t})
	return before
}

// drain sends buffered trades front to back and stops at the first failure.
// Returns the number sent.
func (bw *BufferedWriter) drain(send func(pendingTrade) error) (int, error) {
	sent := 0
	for {
		bw.mu.Lock()
		if len(bw.buffer) == 0 {
			bw.mu.Unlock()
			return sent, nil
		}
		p := bw.buffer[0]
		bw.mu.Unlock()

		if err := send(p); err != nil {
			return sent, err
		}

		bw.mu.Lock()
		bw.buffer = bw.buffer[1:]
		bw.mu.Unlock()
		sent++
	}
}

// Flush publishes buffered trades in order, straight to the sink without
// consulting the breaker. Trades that fail again stay at the front of the
// buffer. Returns the number still pending.
func (bw *BufferedWriter) Flush() int {
	bw.sendMu.Lock()
	defer bw.sendMu.Unlock()

	sent, err := bw.drain(func(p pendingTrade) error {
		return bw.sink.RecordTrade(bw.ctx, p.runID, p.trade)
	})
	left := bw.PendingCount()
	if err != nil {
		bw.log.Error().Err(err).Int("remaining", left).Msg("flush interrupted")
	}
	if sent > 0 {
		bw.log.Info().Int("count", sent).Msg("flushed buffered trades")
		if bw.OnFlush != nil {
			bw.OnFlush(sent)
		}
	}
	return left
}

// PendingCount returns the number of buffered trades waiting to be published.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
