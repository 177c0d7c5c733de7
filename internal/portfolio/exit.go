package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// TrailStep widens the trailing distance once the peak reaches MinPeakPct.
type TrailStep struct {
	MinPeakPct  float64 `yaml:"min_peak_pct" json:"min_peak_pct"`
	DistancePct float64 `yaml:"distance_pct" json:"distance_pct"`
}

// ExitRules defines the configurable exit thresholds. All values are percent
// except MaxHoldHours. A zero ProfitLockPct, MaxHoldHours or trailing
// configuration disables that rule.
type ExitRules struct {
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	ProfitLockPct float64 `yaml:"profit_lock_threshold_pct" json:"profit_lock_threshold_pct"`

	TrailingActivationPct float64     `yaml:"trailing_activation_pct" json:"trailing_activation_pct"`
	TrailingStopPct       float64     `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	TrailingSteps         []TrailStep `yaml:"trailing_steps,omitempty" json:"trailing_steps,omitempty"`

	MaxHoldHours float64 `yaml:"max_hold_hours" json:"max_hold_hours"`
}

// DefaultExitRules returns the thresholds the strategy was tuned with.
func DefaultExitRules() ExitRules {
	return ExitRules{
		TakeProfitPct:         5.0,
		StopLossPct:           3.0,
		ProfitLockPct:         1.0,
		TrailingActivationPct: 1.5,
		TrailingStopPct:       0.8,
		TrailingSteps: []TrailStep{
			{MinPeakPct: 3.0, DistancePct: 1.2},
			{MinPeakPct: 4.0, DistancePct: 1.6},
		},
		MaxHoldHours: 24,
	}
}

// Validate reports every out-of-range threshold.
func (r ExitRules) Validate() error {
	var errs []error
	if r.TakeProfitPct <= 0 {
		errs = append(errs, fmt.Errorf("take_profit_pct %g must be > 0", r.TakeProfitPct))
	}
	if r.StopLossPct <= 0 {
		errs = append(errs, fmt.Errorf("stop_loss_pct %g must be > 0", r.StopLossPct))
	}
	if r.ProfitLockPct < 0 {
		errs = append(errs, fmt.Errorf("profit_lock_threshold_pct %g must be >= 0", r.ProfitLockPct))
	}
	if r.TrailingActivationPct < 0 {
		errs = append(errs, fmt.Errorf("trailing_activation_pct %g must be >= 0", r.TrailingActivationPct))
	}
	if r.TrailingStopPct < 0 {
		errs = append(errs, fmt.Errorf("trailing_stop_pct %g must be >= 0", r.TrailingStopPct))
	}
	for i, s := range r.TrailingSteps {
		if s.MinPeakPct < 0 || s.DistancePct <= 0 {
			errs = append(errs, fmt.Errorf("trailing_steps[%d]: min_peak_pct must be >= 0 and distance_pct > 0", i))
		}
	}
	if r.MaxHoldHours < 0 {
		errs = append(errs, fmt.Errorf("max_hold_hours %g must be >= 0", r.MaxHoldHours))
	}
	return errors.Join(errs...)
}

// MaxHold returns the time-based exit threshold, 0 when disabled.
func (r ExitRules) MaxHold() time.Duration {
	return time.Duration(r.MaxHoldHours * float64(time.Hour))
}

// ExitDecision is the result of one exit check. ShouldExit=false is the
// normal "stay open" outcome, not an error.
type ExitDecision struct {
	ShouldExit  bool             `json:"should_exit"`
	Reason      model.ExitReason `json:"reason,omitempty"`
	RealizedPct float64          `json:"realized_pct"`
}

// ExitManager evaluates ExitRules against an open position.
// It holds no per-position state and is safe for concurrent use.
type ExitManager struct {
	rules ExitRules
	steps []TrailStep // sorted by MinPeakPct ascending
}

// NewExitManager creates an ExitManager. Rules should have passed Validate.
func NewExitManager(rules ExitRules) *ExitManager {
	steps := make([]TrailStep, len(rules.TrailingSteps))
	copy(steps, rules.TrailingSteps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].MinPeakPct < steps[j].MinPeakPct })
	return &ExitManager{rules: rules, steps: steps}
}

// Rules returns the configured thresholds.
func (m *ExitManager) Rules() ExitRules { return m.rules }

// TrailDistance returns the trailing distance that applies at the given peak.
// The widest step whose MinPeakPct has been reached wins; below every step
// the flat TrailingStopPct applies.
func (m *ExitManager) TrailDistance(peakPct float64) float64 {
	d := m.rules.TrailingStopPct
	for _, s := range m.steps {
		if peakPct < s.MinPeakPct {
			break
		}
		d = s.DistancePct
	}
	return d
}

// CheckExit decides whether pos must close at price and now. pos.PeakPct must
// already include the current tick (see Position.Mark).
//
// Rules are checked in strict priority order and the first match wins:
// take-profit, stop-loss, profit lock, trailing stop, max hold.
func (m *ExitManager) CheckExit(pos *Position, price float64, now time.Time) ExitDecision {
	realized := pos.ProfitPct(price)
	peak := pos.PeakPct
	r := m.rules

	exit := func(reason model.ExitReason) ExitDecision {
		return ExitDecision{ShouldExit: true, Reason: reason, RealizedPct: realized}
	}

	if realized >= r.TakeProfitPct {
		return exit(model.ExitTakeProfit)
	}
	if realized <= -r.StopLossPct {
		return exit(model.ExitStopLoss)
	}
	if r.ProfitLockPct > 0 && peak >= r.ProfitLockPct && realized <= 0 {
		return exit(model.ExitProfitLock)
	}
	if peak > r.TrailingActivationPct {
		if d := m.TrailDistance(peak); d > 0 && peak-realized > d {
			return exit(model.ExitTrailingStop)
		}
	}
	if maxHold := r.MaxHold(); maxHold > 0 && pos.Held(now) >= maxHold {
		return exit(model.ExitMaxHold)
	}
	return ExitDecision{RealizedPct: realized}
}
