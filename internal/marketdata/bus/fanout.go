// Package bus fans closed trades out to independent sinks (journal, stream
// publisher, metrics) so a slow sink can't stall the trading loop.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// TradeEvent is one closed trade of a run.
type TradeEvent struct {
	RunID string
	Trade model.Trade
}

// FanOut broadcasts trade events from a single input channel to N output
// channels. If an output channel is full, the event is dropped for that
// consumer.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan TradeEvent
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut) Subscribe() <-chan TradeEvent {
	ch := make(chan TradeEvent, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. Blocks until ctx is
// cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan TradeEvent) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Warn().Int("subscriber", i).Str("run_id", ev.RunID).
							Time("entry_time", ev.Trade.EntryTime).Msg("output channel full, dropping trade")
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// Drain feeds every event from sub into sink until sub is closed. Sink
// errors are logged and do not stop the drain.
func Drain(ctx context.Context, sub <-chan TradeEvent, sink model.TradeSink, l zerolog.Logger) {
	for ev := range sub {
		if err := sink.RecordTrade(ctx, ev.RunID, ev.Trade); err != nil {
			l.Error().Err(err).Str("run_id", ev.RunID).Msg("trade sink failed")
		}
	}
}

// ChannelStat reports (length, capacity) of a subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns saturation for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
