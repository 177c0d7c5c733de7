package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// ConditionKind selects how a Condition tests a snapshot.
type ConditionKind string

const (
	// KindBand passes when the reading value lies within [Min, Max].
	KindBand ConditionKind = "band"
	// KindAbove passes when the reading value is >= Threshold.
	KindAbove ConditionKind = "above"
	// KindBelow passes when the reading value is <= Threshold.
	KindBelow ConditionKind = "below"
	// KindState passes when the reading color is in States and, if given,
	// its intensity is in Intensities.
	KindState ConditionKind = "state"
	// KindAlignment passes when the fraction of Indicators whose color is in
	// States reaches Threshold (0..1).
	KindAlignment ConditionKind = "alignment"
	// KindMomentum passes when the change of the reading over the last Window
	// snapshots reaches the signed Threshold.
	KindMomentum ConditionKind = "momentum"
)

// Condition is one threshold test of an entry rule set.
type Condition struct {
	Kind        ConditionKind `yaml:"kind" json:"kind"`
	Indicator   string        `yaml:"indicator,omitempty" json:"indicator,omitempty"`
	Indicators  []string      `yaml:"indicators,omitempty" json:"indicators,omitempty"`
	Min         float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max         float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Threshold   float64       `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	States      []string      `yaml:"states,omitempty" json:"states,omitempty"`
	Intensities []string      `yaml:"intensities,omitempty" json:"intensities,omitempty"`
	Window      int           `yaml:"window,omitempty" json:"window,omitempty"`
	Percent     bool          `yaml:"percent,omitempty" json:"percent,omitempty"`

	// Optional conditions only contribute to quality; they never block entry.
	Optional bool    `yaml:"optional,omitempty" json:"optional,omitempty"`
	Weight   float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// RuleSet is the entry rule for one direction.
type RuleSet struct {
	Disabled   bool        `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	MinQuality float64     `yaml:"min_quality,omitempty" json:"min_quality,omitempty"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

func (c Condition) weight() float64 {
	if c.Weight == 0 {
		return 1
	}
	return c.Weight
}

func (c Condition) label() string {
	if c.Kind == KindAlignment {
		return fmt.Sprintf("%s[%s]", c.Kind, strings.Join(c.Indicators, ","))
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Indicator)
}

// check evaluates the condition against snap. note explains a failure and is
// empty on success.
func (c Condition) check(snap *model.Snapshot, history []model.Snapshot) (pass bool, note string) {
	switch c.Kind {
	case KindBand, KindAbove, KindBelow:
		v, ok := snap.Value(c.Indicator)
		if !ok {
			return false, "missing " + c.Indicator
		}
		switch c.Kind {
		case KindBand:
			if v < c.Min || v > c.Max {
				return false, fmt.Sprintf("%s %.4g outside [%g,%g]", c.Indicator, v, c.Min, c.Max)
			}
		case KindAbove:
			if v < c.Threshold {
				return false, fmt.Sprintf("%s %.4g < %g", c.Indicator, v, c.Threshold)
			}
		case KindBelow:
			if v > c.Threshold {
				return false, fmt.Sprintf("%s %.4g > %g", c.Indicator, v, c.Threshold)
			}
		}
		return true, ""

	case KindState:
		r, ok := snap.Reading(c.Indicator)
		if !ok {
			return false, "missing " + c.Indicator
		}
		if len(c.States) > 0 && !containsFold(c.States, r.Color) {
			return false, fmt.Sprintf("%s color %q", c.Indicator, r.Color)
		}
		if len(c.Intensities) > 0 && !containsFold(c.Intensities, r.Intensity) {
			return false, fmt.Sprintf("%s intensity %q", c.Indicator, r.Intensity)
		}
		return true, ""

	case KindAlignment:
		aligned := 0
		for _, name := range c.Indicators {
			r, ok := snap.Reading(name)
			if !ok {
				return false, "missing " + name
			}
			if containsFold(c.States, r.Color) {
				aligned++
			}
		}
		frac := float64(aligned) / float64(len(c.Indicators))
		if frac < c.Threshold {
			return false, fmt.Sprintf("alignment %.2f < %g", frac, c.Threshold)
		}
		return true, ""

	case KindMomentum:
		now, ok := snap.Value(c.Indicator)
		if !ok {
			return false, "missing " + c.Indicator
		}
		if len(history) < c.Window {
			return false, fmt.Sprintf("momentum %s needs %d snapshots, have %d", c.Indicator, c.Window, len(history))
		}
		past := history[len(history)-c.Window]
		then, ok := past.Value(c.Indicator)
		if !ok {
			return false, "missing " + c.Indicator + " in history"
		}
		change := now - then
		if c.Percent {
			if then == 0 {
				return false, "momentum " + c.Indicator + " base is zero"
			}
			change = change * 100 / then
		}
		if c.Threshold >= 0 && change < c.Threshold {
			return false, fmt.Sprintf("momentum %s %.4g < %g", c.Indicator, change, c.Threshold)
		}
		if c.Threshold < 0 && change > c.Threshold {
			return false, fmt.Sprintf("momentum %s %.4g > %g", c.Indicator, change, c.Threshold)
		}
		return true, ""
	}
	return false, "unknown condition " + string(c.Kind)
}

func (c Condition) validate() error {
	switch c.Kind {
	case KindBand, KindAbove, KindBelow, KindState, KindMomentum:
		if c.Indicator == "" {
			return fmt.Errorf("%s: indicator is required", c.Kind)
		}
	case KindAlignment:
		if len(c.Indicators) == 0 {
			return errors.New("alignment: indicators are required")
		}
		if len(c.States) == 0 {
			return errors.New("alignment: states are required")
		}
		if c.Threshold < 0 || c.Threshold > 1 {
			return fmt.Errorf("alignment: threshold %g outside [0,1]", c.Threshold)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	if c.Kind == KindBand && c.Min > c.Max {
		return fmt.Errorf("band %s: min %g > max %g", c.Indicator, c.Min, c.Max)
	}
	if c.Kind == KindState && len(c.States) == 0 && len(c.Intensities) == 0 {
		return fmt.Errorf("state %s: states or intensities are required", c.Indicator)
	}
	if c.Kind == KindMomentum && c.Window < 1 {
		return fmt.Errorf("momentum %s: window must be >= 1", c.Indicator)
	}
	if c.Weight < 0 {
		return fmt.Errorf("%s: negative weight", c.label())
	}
	return nil
}

func (rs RuleSet) validate() error {
	var errs []error
	if rs.MinQuality < 0 || rs.MinQuality > MaxQuality {
		errs = append(errs, fmt.Errorf("min_quality %g outside [0,%g]", rs.MinQuality, float64(MaxQuality)))
	}
	for i, c := range rs.Conditions {
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
