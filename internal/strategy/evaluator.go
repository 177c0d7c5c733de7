// Package strategy provides the entry-signal evaluator.
//
// An Evaluator receives one indicator snapshot plus the snapshots before it and
// decides whether a LONG, SHORT or no entry is warranted. It keeps no state:
// the same inputs always produce the same Signal, which backtest replay relies on.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// MaxQuality is the upper bound of Signal.Quality.
const MaxQuality = 100

// Signal is the evaluator output for one snapshot.
type Signal struct {
	Direction model.Direction `json:"direction"`
	Quality   float64         `json:"quality"` // 0..MaxQuality
	Reason    string          `json:"reason"`
}

// Entry reports whether the signal asks to open a position.
func (s Signal) Entry() bool {
	return s.Direction == model.Long || s.Direction == model.Short
}

// TiePolicy decides what happens when long and short rule sets fire on the same snapshot.
type TiePolicy string

const (
	// TiePreferQuality takes the higher quality side; equal quality means no entry.
	TiePreferQuality TiePolicy = "prefer_quality"
	TiePreferLong    TiePolicy = "prefer_long"
	TiePreferShort   TiePolicy = "prefer_short"
	// TieSkip refuses to enter on any conflict.
	TieSkip TiePolicy = "skip"
)

// Params is the complete, externally supplied rule configuration.
type Params struct {
	Long      RuleSet   `yaml:"long" json:"long"`
	Short     RuleSet   `yaml:"short" json:"short"`
	TiePolicy TiePolicy `yaml:"tie_policy,omitempty" json:"tie_policy,omitempty"`

	// Lookback is the number of past snapshots kept as history. It is raised
	// to the longest momentum window automatically.
	Lookback int `yaml:"lookback,omitempty" json:"lookback,omitempty"`
}

// Validate reports every invalid rule at once.
func (p Params) Validate() error {
	var errs []error
	switch p.TiePolicy {
	case "", TiePreferQuality, TiePreferLong, TiePreferShort, TieSkip:
	default:
		errs = append(errs, fmt.Errorf("unknown tie_policy %q", p.TiePolicy))
	}
	if p.Lookback < 0 {
		errs = append(errs, fmt.Errorf("lookback %d must be >= 0", p.Lookback))
	}
	if err := p.Long.validate(); err != nil {
		errs = append(errs, fmt.Errorf("long: %w", err))
	}
	if err := p.Short.validate(); err != nil {
		errs = append(errs, fmt.Errorf("short: %w", err))
	}
	return errors.Join(errs...)
}

// Evaluator applies Params to snapshots.
type Evaluator struct {
	params Params
}

// NewEvaluator creates an evaluator. Params should have passed Validate.
func NewEvaluator(p Params) *Evaluator {
	if p.TiePolicy == "" {
		p.TiePolicy = TiePreferQuality
	}
	return &Evaluator{params: p}
}

// Lookback returns how many past snapshots Evaluate needs to see.
func (e *Evaluator) Lookback() int {
	n := e.params.Lookback
	for _, rs := range []RuleSet{e.params.Long, e.params.Short} {
		for _, c := range rs.Conditions {
			if c.Kind == KindMomentum && c.Window > n {
				n = c.Window
			}
		}
	}
	return n
}

// RequiredIndicators lists the indicator names referenced by enabled rule sets,
// in first-seen order.
func (e *Evaluator) RequiredIndicators() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || n == model.PriceIndicator || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	for _, rs := range []RuleSet{e.params.Long, e.params.Short} {
		if rs.Disabled {
			continue
		}
		for _, c := range rs.Conditions {
			add(c.Indicator)
			for _, n := range c.Indicators {
				add(n)
			}
		}
	}
	return names
}

type outcome struct {
	fired   bool
	quality float64
	reason  string
}

// Evaluate returns the entry signal for snap. history holds the preceding
// snapshots, oldest first, and may be shorter than Lookback near the start of
// a sequence. Missing readings never panic or error; they just fail the rule.
func (e *Evaluator) Evaluate(snap model.Snapshot, history []model.Snapshot) Signal {
	long := evalRuleSet(e.params.Long, &snap, history)
	short := evalRuleSet(e.params.Short, &snap, history)

	switch {
	case long.fired && short.fired:
		return e.breakTie(long, short)
	case long.fired:
		return Signal{Direction: model.Long, Quality: long.quality, Reason: long.reason}
	case short.fired:
		return Signal{Direction: model.Short, Quality: short.quality, Reason: short.reason}
	}
	return Signal{
		Direction: model.None,
		Reason:    "long: " + long.reason + "; short: " + short.reason,
	}
}

func (e *Evaluator) breakTie(long, short outcome) Signal {
	pick := model.None
	switch e.params.TiePolicy {
	case TiePreferLong:
		pick = model.Long
	case TiePreferShort:
		pick = model.Short
	case TiePreferQuality:
		if long.quality > short.quality {
			pick = model.Long
		} else if short.quality > long.quality {
			pick = model.Short
		}
	}
	switch pick {
	case model.Long:
		return Signal{Direction: model.Long, Quality: long.quality, Reason: long.reason + " (tie: " + string(e.params.TiePolicy) + ")"}
	case model.Short:
		return Signal{Direction: model.Short, Quality: short.quality, Reason: short.reason + " (tie: " + string(e.params.TiePolicy) + ")"}
	}
	return Signal{
		Direction: model.None,
		Reason:    fmt.Sprintf("ambiguous: long %.1f vs short %.1f", long.quality, short.quality),
	}
}

func evalRuleSet(rs RuleSet, snap *model.Snapshot, history []model.Snapshot) outcome {
	if rs.Disabled {
		return outcome{reason: "disabled"}
	}
	if len(rs.Conditions) == 0 {
		return outcome{reason: "no conditions"}
	}

	var total, passed float64
	var failures, hits []string
	blocked := false
	for _, c := range rs.Conditions {
		w := c.weight()
		total += w
		ok, note := c.check(snap, history)
		if ok {
			passed += w
			hits = append(hits, c.label())
			continue
		}
		if !c.Optional {
			blocked = true
		}
		failures = append(failures, note)
	}

	quality := 0.0
	if total > 0 {
		quality = MaxQuality * passed / total
	}
	if blocked {
		return outcome{quality: quality, reason: strings.Join(failures, ", ")}
	}
	if quality < rs.MinQuality {
		return outcome{quality: quality, reason: fmt.Sprintf("quality %.1f < %g", quality, rs.MinQuality)}
	}
	return outcome{fired: true, quality: quality, reason: strings.Join(hits, ", ")}
}
