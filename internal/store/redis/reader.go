package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// SnapshotStream returns the stream key snapshots of instrument are added to.
func SnapshotStream(instrument string) string { return "snap:" + instrument }

// ReaderConfig configures the Redis snapshot reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "papertrader"
	ConsumerName  string // unique consumer name, e.g. hostname
	Logger        *zerolog.Logger
}

// Reader consumes snapshot streams through a consumer group and reads stream
// history for backtests over recent data.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	log           zerolog.Logger
}

// Dial connects and pings the server.
func Dial(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client, err := Dial(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	return NewReaderFromClient(client, cfg), nil
}

// NewReaderFromClient wraps an existing client.
func NewReaderFromClient(client *goredis.Client, cfg ReaderConfig) *Reader {
	group := cfg.ConsumerGroup
	if group == "" {
		group = "papertrader"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("component", "redis-reader").Logger()
	l.Info().Str("addr", cfg.Addr).Str("group", group).Str("consumer", consumer).Msg("connected")
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		log:           l,
	}
}

// EnsureConsumerGroup creates the consumer group on stream if it doesn't
// exist. New groups start at "$" (only new messages).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, stream string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", stream, err)
	}
	return nil
}

// DecodeSnapshot parses the "data" field of a stream message into an
// accepted-shape snapshot. Price and ordering checks are left to the session.
func DecodeSnapshot(values map[string]interface{}) (model.Snapshot, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.Snapshot{}, errors.New("message has no data field")
	}
	var raw model.RawSnapshot
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return model.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	ts, err := series.ParseTime(raw.Time, nil, nil)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{Time: ts, Price: raw.Price, Readings: raw.Readings}, nil
}

// ConsumeSnapshots reads new snapshots of instrument with XREADGROUP and sends
// them to out, acking each after hand-off. Undecodable messages are acked and
// dropped so they can't block the group. Returns when ctx is cancelled.
func (r *Reader) ConsumeSnapshots(ctx context.Context, instrument string, out chan<- model.Snapshot) error {
	stream := SnapshotStream(instrument)
	if err := r.EnsureConsumerGroup(ctx, stream); err != nil {
		return err
	}
	if err := r.recoverPending(ctx, stream, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			r.log.Error().Err(err).Str("stream", stream).Msg("xreadgroup failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, st := range results {
			if err := r.deliver(ctx, st.Stream, st.Messages, out); err != nil {
				return err
			}
		}
	}
}

// recoverPending re-delivers messages this consumer read but never acked,
// e.g. before a crash.
func (r *Reader) recoverPending(ctx context.Context, stream string, out chan<- model.Snapshot) error {
	for {
		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  []string{stream, "0"},
			Count:    100,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			return fmt.Errorf("recover pending %s: %w", stream, err)
		}
		n := 0
		for _, st := range results {
			n += len(st.Messages)
			if err := r.deliver(ctx, st.Stream, st.Messages, out); err != nil {
				return err
			}
		}
		if n == 0 {
			return nil
		}
		r.log.Info().Int("count", n).Str("stream", stream).Msg("recovered pending snapshots")
	}
}

func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Snapshot) error {
	for _, msg := range msgs {
		snap, err := DecodeSnapshot(msg.Values)
		if err != nil {
			r.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping bad snapshot message")
			r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			continue
		}
		select {
		case out <- snap:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// ReadSnapshots returns the raw snapshots retained in the stream with
// from <= ts < to. It reads the whole stream and filters by snapshot time,
// since stream IDs carry arrival time, not snapshot time. It satisfies
// model.SnapshotReader.
func (r *Reader) ReadSnapshots(ctx context.Context, instrument string, from, to time.Time) ([]model.RawSnapshot, error) {
	stream := SnapshotStream(instrument)
	var out []model.RawSnapshot
	start := "-"
	for {
		msgs, err := r.client.XRangeN(ctx, stream, start, "+", 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("xrange %s: %w", stream, err)
		}
		for _, msg := range msgs {
			if raw, ok := rawFromMessage(msg); ok && inRange(raw, from, to) {
				out = append(out, raw)
			}
		}
		if len(msgs) < 1000 {
			return out, nil
		}
		start = "(" + msgs[len(msgs)-1].ID
	}
}

// rawFromMessage extracts a raw snapshot from a stream message. Messages
// without a data field are skipped; undecodable ones are kept with an
// invalid time so acceptance reports them.
func rawFromMessage(msg goredis.XMessage) (model.RawSnapshot, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return model.RawSnapshot{}, false
	}
	var raw model.RawSnapshot
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return model.RawSnapshot{Time: "invalid:" + msg.ID}, true
	}
	return raw, true
}

// inRange keeps records whose time can't be parsed, so acceptance can warn.
func inRange(raw model.RawSnapshot, from, to time.Time) bool {
	ts, err := series.ParseTime(raw.Time, nil, nil)
	if err != nil {
		return true
	}
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	return to.IsZero() || ts.Before(to)
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
