package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

const (
	// Stream trimming: plenty of history for a live session.
	snapshotMaxLen   = 20000
	tradeMaxLen      = 5000
	defaultLatestTTL = 24 * time.Hour
)

// TradeStream returns the stream key closed trades of instrument go to.
func TradeStream(instrument string) string { return "trades:" + instrument }

func latestTradeKey(instrument string) string { return "trade:latest:" + instrument }

func tradeChannel(instrument string) string { return "pub:trades:" + instrument }

// TradeMessage is the payload published for each closed trade.
type TradeMessage struct {
	RunID      string      `json:"run_id"`
	Instrument string      `json:"instrument"`
	Trade      model.Trade `json:"trade"`
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr       string // for logging; the client is dialed by the caller
	Instrument string
	Logger     *zerolog.Logger
}

// Writer publishes closed trades and feeds snapshot streams.
type Writer struct {
	client     *goredis.Client
	instrument string
	log        zerolog.Logger
}

// NewWriterFromClient wraps an existing client.
func NewWriterFromClient(client *goredis.Client, cfg WriterConfig) *Writer {
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("component", "redis-writer").Logger()
	l.Info().Str("addr", cfg.Addr).Str("instrument", cfg.Instrument).Msg("connected")
	return &Writer{client: client, instrument: cfg.Instrument, log: l}
}

// EncodeTrade returns the JSON payload for a trade message.
func EncodeTrade(runID, instrument string, t model.Trade) (string, error) {
	b, err := json.Marshal(TradeMessage{RunID: runID, Instrument: instrument, Trade: t})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RecordTrade publishes a trade in one pipeline: XADD to the trade stream,
// SET as the latest trade, PUBLISH for live subscribers.
func (w *Writer) RecordTrade(ctx context.Context, runID string, t model.Trade) error {
	data, err := EncodeTrade(runID, w.instrument, t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: TradeStream(w.instrument),
		MaxLen: tradeMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data, "run_id": runID},
	})
	pipe.Set(ctx, latestTradeKey(w.instrument), data, defaultLatestTTL)
	pipe.Publish(ctx, tradeChannel(w.instrument), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trade pipeline %s: %w", w.instrument, err)
	}
	return nil
}

// EncodeSnapshot returns the "data" payload of a snapshot stream message.
func EncodeSnapshot(s model.Snapshot) (string, error) {
	b, err := json.Marshal(model.RawSnapshot{
		Time:     s.Time.UTC().Format(time.RFC3339Nano),
		Price:    s.Price,
		Readings: s.Readings,
	})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(b), nil
}

// WriteSnapshots appends snapshots to the instrument's snapshot stream, in
// the shape Reader consumes. It satisfies model.SnapshotWriter.
func (w *Writer) WriteSnapshots(ctx context.Context, instrument string, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range snaps {
		data, err := EncodeSnapshot(snaps[i])
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SnapshotStream(instrument),
			MaxLen: snapshotMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("snapshot pipeline %s (%d): %w", instrument, len(snaps), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
