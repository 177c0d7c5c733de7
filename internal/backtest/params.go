package backtest

import (
	"errors"
	"fmt"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/strategy"
)

// EndPolicy decides what happens to a position still open when the sequence ends.
type EndPolicy string

const (
	// EndForceClose closes at the last accepted snapshot with reason end_of_data.
	EndForceClose EndPolicy = "force_close"
	// EndDiscard drops the open position without recording a trade.
	EndDiscard EndPolicy = "discard"
)

const (
	DefaultSizingFraction = 0.10
	DefaultInitialCapital = 10000.0
)

// Params is the complete configuration of one backtest run.
type Params struct {
	Entry strategy.Params     `yaml:"entry" json:"entry"`
	Exit  portfolio.ExitRules `yaml:"exit" json:"exit"`

	// SizingFraction is the fraction of capital exposed per trade, in (0, 1].
	SizingFraction float64   `yaml:"position_sizing_fraction" json:"position_sizing_fraction"`
	InitialCapital float64   `yaml:"initial_capital" json:"initial_capital"`
	EndPolicy      EndPolicy `yaml:"end_of_sequence_policy" json:"end_of_sequence_policy"`
}

// DefaultParams returns the default exit rules and accounting settings with
// empty entry rule sets.
func DefaultParams() Params {
	return Params{
		Exit:           portfolio.DefaultExitRules(),
		SizingFraction: DefaultSizingFraction,
		InitialCapital: DefaultInitialCapital,
		EndPolicy:      EndForceClose,
	}
}

// withDefaults fills unset accounting fields.
func (p Params) withDefaults() Params {
	if p.SizingFraction == 0 {
		p.SizingFraction = DefaultSizingFraction
	}
	if p.InitialCapital == 0 {
		p.InitialCapital = DefaultInitialCapital
	}
	if p.EndPolicy == "" {
		p.EndPolicy = EndForceClose
	}
	if p.Entry.TiePolicy == "" {
		p.Entry.TiePolicy = strategy.TiePreferQuality
	}
	return p
}

// ConfigError reports an invalid parameter. Validation returns every
// ConfigError joined, so callers can use errors.As to reach the first one.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks p after defaults are applied.
func (p Params) Validate() error {
	p = p.withDefaults()
	var errs []error
	if err := p.Entry.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "entry", Err: err})
	}
	if err := p.Exit.Validate(); err != nil {
		errs = append(errs, &ConfigError{Field: "exit", Err: err})
	}
	if p.SizingFraction <= 0 || p.SizingFraction > 1 {
		errs = append(errs, &ConfigError{Field: "position_sizing_fraction", Err: fmt.Errorf("%g not in (0, 1]", p.SizingFraction)})
	}
	if p.InitialCapital <= 0 {
		errs = append(errs, &ConfigError{Field: "initial_capital", Err: fmt.Errorf("%g must be > 0", p.InitialCapital)})
	}
	switch p.EndPolicy {
	case EndForceClose, EndDiscard:
	default:
		errs = append(errs, &ConfigError{Field: "end_of_sequence_policy", Err: fmt.Errorf("unknown policy %q", p.EndPolicy)})
	}
	return errors.Join(errs...)
}
