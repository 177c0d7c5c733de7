package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Reading labels assigned to derived values.
const (
	ColorUp   = "green"
	ColorDown = "red"
	ColorFlat = "flat"

	IntensityStrong = "strong"
	IntensityWeak   = "weak"
)

// DefaultStrongPct is the relative change, in percent, from which a derived
// reading is labelled strong.
const DefaultStrongPct = 0.1

// Config specifies a single indicator to derive.
type Config struct {
	Type   string `yaml:"type" json:"type"` // SMA, EMA, SMMA, RSI
	Period int    `yaml:"period" json:"period"`
	// Name overrides the reading name; default is lower(type)_period.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// ReadingName is the name the derived reading is stored under.
func (c Config) ReadingName() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.ToLower(c.Type) + "_" + strconv.Itoa(c.Period)
}

// Validate checks type and period.
func (c Config) Validate() error {
	switch strings.ToUpper(c.Type) {
	case "SMA", "EMA", "SMMA", "RSI":
	default:
		return fmt.Errorf("unknown indicator type %q", c.Type)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%s period %d must be > 0", c.Type, c.Period)
	}
	return nil
}

func (c Config) build() Indicator {
	switch strings.ToUpper(c.Type) {
	case "EMA":
		return NewEMA(c.Period)
	case "SMMA":
		return NewSMMA(c.Period)
	case "RSI":
		return NewRSI(c.Period)
	}
	return NewSMA(c.Period)
}

// ParseConfigs parses specs of the form TYPE:PERIOD,... e.g. "RSI:14,EMA:9".
func ParseConfigs(s string) ([]Config, error) {
	var configs []Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("indicator spec %q: want TYPE:PERIOD", part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("indicator spec %q: %w", part, err)
		}
		c := Config{Type: strings.ToUpper(strings.TrimSpace(tokens[0])), Period: period}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, nil
}

type slot struct {
	cfg     Config
	name    string
	ind     Indicator
	prev    float64
	hasPrev bool
}

// Engine derives readings for one instrument's price series.
// Designed for single-goroutine usage, no locks needed.
type Engine struct {
	slots     []*slot
	StrongPct float64
}

// NewEngine validates configs and creates fresh indicator instances.
func NewEngine(configs []Config) (*Engine, error) {
	var errs []error
	slots := make([]*slot, 0, len(configs))
	for i, c := range configs {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("derive[%d]: %w", i, err))
			continue
		}
		slots = append(slots, &slot{cfg: c, name: c.ReadingName(), ind: c.build()})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Engine{slots: slots, StrongPct: DefaultStrongPct}, nil
}

// Names returns the reading names the engine produces.
func (e *Engine) Names() []string {
	out := make([]string, len(e.slots))
	for i, s := range e.slots {
		out[i] = s.name
	}
	return out
}

// Apply feeds snap's price to every indicator and appends a reading for each
// one that is ready. A reading the source already carries is left untouched.
func (e *Engine) Apply(snap *model.Snapshot) {
	for _, s := range e.slots {
		s.ind.Update(snap.Price)
		if !s.ind.Ready() {
			continue
		}
		v := s.ind.Value()
		color, intensity := ColorFlat, IntensityWeak
		if s.hasPrev {
			color, intensity = e.label(s.prev, v)
		}
		s.prev, s.hasPrev = v, true

		if _, exists := snap.Reading(s.name); exists {
			continue
		}
		snap.Readings = append(snap.Readings, model.Reading{
			Name:      s.name,
			Value:     v,
			Color:     color,
			Intensity: intensity,
		})
	}
}

func (e *Engine) label(prev, cur float64) (color, intensity string) {
	switch {
	case cur > prev:
		color = ColorUp
	case cur < prev:
		color = ColorDown
	default:
		color = ColorFlat
	}
	intensity = IntensityWeak
	if prev != 0 && math.Abs(cur-prev)*100/math.Abs(prev) >= e.StrongPct {
		intensity = IntensityStrong
	}
	return color, intensity
}

// Derive returns a copy of seq with derived readings added. The input is not
// modified. Indicator state starts fresh, so repeated calls on the same
// sequence give the same readings.
func (e *Engine) Derive(seq []model.Snapshot) []model.Snapshot {
	e.Reset()
	out := make([]model.Snapshot, len(seq))
	for i := range seq {
		out[i] = seq[i].Clone()
		e.Apply(&out[i])
	}
	return out
}

// Reset clears all indicator state.
func (e *Engine) Reset() {
	for _, s := range e.slots {
		s.ind.Reset()
		s.prev, s.hasPrev = 0, false
	}
}

// Consumer adds derived readings to a streamed snapshot source. It satisfies
// model.SnapshotConsumer.
type Consumer struct {
	src    model.SnapshotConsumer
	engine *Engine
}

// NewConsumer wraps src.
func NewConsumer(src model.SnapshotConsumer, engine *Engine) *Consumer {
	return &Consumer{src: src, engine: engine}
}

// ConsumeSnapshots relays src's snapshots to out with derived readings.
func (c *Consumer) ConsumeSnapshots(ctx context.Context, instrument string, out chan<- model.Snapshot) error {
	mid := make(chan model.Snapshot, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.src.ConsumeSnapshots(ctx, instrument, mid)
		close(mid)
	}()

	for s := range mid {
		if ctx.Err() != nil {
			continue // let the source wind down
		}
		c.engine.Apply(&s)
		select {
		case out <- s:
		case <-ctx.Done():
		}
	}
	return <-errCh
}

// Close closes the wrapped source.
func (c *Consumer) Close() error { return c.src.Close() }
