// Package reconcile compares a candidate trade ledger against a reference
// ledger and reports which reference trades were reproduced.
//
// Matching is greedy in reference order: each reference trade takes the
// closest still-unused candidate of the same direction whose entry lies within
// the tolerance window. This is not a globally optimal assignment; a later
// reference trade can lose a candidate an earlier one took.
package reconcile

import (
	"errors"
	"math"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// DefaultTolerance is the entry-time window used when none is configured.
const DefaultTolerance = 2 * time.Hour

// ErrNegativeTolerance is returned for a tolerance window below zero.
var ErrNegativeTolerance = errors.New("match tolerance must be >= 0")

// Match pairs a reference trade with the candidate that reproduced it.
type Match struct {
	Reference     model.Trade `json:"reference"`
	Candidate     model.Trade `json:"candidate"`
	OffsetMinutes float64     `json:"offset_minutes"` // candidate entry minus reference entry
}

// Report is the outcome of one comparison. Rates are percentages.
type Report struct {
	Matched []Match       `json:"matched"`
	Missed  []model.Trade `json:"missed"`
	Extra   []model.Trade `json:"extra"`

	MatchedCount int     `json:"matched_count"`
	MissedCount  int     `json:"missed_count"`
	ExtraCount   int     `json:"extra_count"`
	MatchRate    float64 `json:"match_rate"`
	MissedRate   float64 `json:"missed_rate"`

	ExtraWins    int     `json:"extra_wins"`
	ExtraLosses  int     `json:"extra_losses"`
	ExtraWinRate float64 `json:"extra_win_rate"`

	MatchedPnL   float64 `json:"matched_pnl"` // sum of candidate profit over matches
	ExtraPnL     float64 `json:"extra_pnl"`
	MissedPnL    float64 `json:"missed_pnl"`
	ReferencePnL float64 `json:"reference_pnl"`
	CandidatePnL float64 `json:"candidate_pnl"`

	ToleranceMinutes float64 `json:"tolerance_minutes"`
}

// Compare matches candidate against reference. Both slices are read-only.
// A candidate matches when its direction equals the reference direction and
// |candidate entry - reference entry| <= tolerance. Among several candidates
// the smallest offset wins, then the lower candidate index.
func Compare(reference, candidate []model.Trade, tolerance time.Duration) (Report, error) {
	if tolerance < 0 {
		return Report{}, ErrNegativeTolerance
	}
	r := Report{
		Matched:          []Match{},
		Missed:           []model.Trade{},
		Extra:            []model.Trade{},
		ToleranceMinutes: tolerance.Minutes(),
	}
	used := make([]bool, len(candidate))

	for _, ref := range reference {
		best := -1
		var bestAbs time.Duration
		for j := range candidate {
			if used[j] || candidate[j].Direction != ref.Direction {
				continue
			}
			d := absDuration(candidate[j].EntryTime.Sub(ref.EntryTime))
			if d > tolerance {
				continue
			}
			if best < 0 || d < bestAbs {
				best, bestAbs = j, d
			}
		}
		r.ReferencePnL += ref.ProfitPct
		if best < 0 {
			r.Missed = append(r.Missed, ref)
			r.MissedPnL += ref.ProfitPct
			continue
		}
		used[best] = true
		c := candidate[best]
		r.Matched = append(r.Matched, Match{
			Reference:     ref,
			Candidate:     c,
			OffsetMinutes: c.EntryTime.Sub(ref.EntryTime).Minutes(),
		})
		r.MatchedPnL += c.ProfitPct
	}

	for j, c := range candidate {
		r.CandidatePnL += c.ProfitPct
		if used[j] {
			continue
		}
		r.Extra = append(r.Extra, c)
		r.ExtraPnL += c.ProfitPct
		if c.Win() {
			r.ExtraWins++
		} else {
			r.ExtraLosses++
		}
	}

	r.MatchedCount = len(r.Matched)
	r.MissedCount = len(r.Missed)
	r.ExtraCount = len(r.Extra)
	r.MatchRate = pct(r.MatchedCount, len(reference))
	r.MissedRate = pct(r.MissedCount, len(reference))
	r.ExtraWinRate = pct(r.ExtraWins, r.ExtraCount)
	return r, nil
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		if d == math.MinInt64 {
			return math.MaxInt64
		}
		return -d
	}
	return d
}
