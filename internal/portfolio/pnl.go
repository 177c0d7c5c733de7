package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Compound applies one closed trade to running capital:
// capital + capital*fraction*pct/100. Only multiplication and a decimal shift
// are used, so no step rounds.
func Compound(capital decimal.Decimal, fraction, pct float64) decimal.Decimal {
	gain := capital.Mul(decimal.NewFromFloat(fraction)).Mul(decimal.NewFromFloat(pct)).Shift(-2)
	return capital.Add(gain)
}

// ErrOverlap is returned when a trade would overlap the previous one.
var ErrOverlap = errors.New("trade overlaps previous trade")

// Ledger is the ordered list of closed trades of one run. Aggregates are
// always derived from Trades; nothing else is stored.
type Ledger struct {
	Trades         []model.Trade
	InitialCapital decimal.Decimal
	SizingFraction float64
}

// NewLedger creates an empty ledger.
func NewLedger(initialCapital, sizingFraction float64) *Ledger {
	return &Ledger{
		Trades:         make([]model.Trade, 0, 64),
		InitialCapital: decimal.NewFromFloat(initialCapital),
		SizingFraction: sizingFraction,
	}
}

// Append adds a closed trade, enforcing entry < exit and no overlap with the
// previous trade.
func (l *Ledger) Append(t model.Trade) error {
	if !t.EntryTime.Before(t.ExitTime) {
		return fmt.Errorf("trade entry %s not before exit %s", t.EntryTime, t.ExitTime)
	}
	if n := len(l.Trades); n > 0 && t.EntryTime.Before(l.Trades[n-1].ExitTime) {
		return fmt.Errorf("%w: entry %s before previous exit %s", ErrOverlap, t.EntryTime, l.Trades[n-1].ExitTime)
	}
	l.Trades = append(l.Trades, t)
	return nil
}

// Capital recomputes capital after every trade.
func (l *Ledger) Capital() decimal.Decimal {
	c := l.InitialCapital
	for _, t := range l.Trades {
		c = Compound(c, l.SizingFraction, t.ProfitPct)
	}
	return c
}

// Summary returns the aggregate view of the ledger.
func (l *Ledger) Summary() Summary {
	s := Summarize(l.Trades)
	s.InitialCapital = l.InitialCapital
	s.FinalCapital = l.Capital()
	if !l.InitialCapital.IsZero() {
		s.ReturnPct, _ = s.FinalCapital.Sub(l.InitialCapital).Mul(hundred).Div(l.InitialCapital).Float64()
	}
	return s
}

// Summary aggregates a trade sequence.
type Summary struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // percent
	TotalPnLPct  float64 `json:"total_pnl_pct"`
	AvgPnLPct    float64 `json:"avg_pnl_pct"`
	BestPct      float64 `json:"best_pct"`
	WorstPct     float64 `json:"worst_pct"`
	AvgHoldHours float64 `json:"avg_hold_hours"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	ReturnPct      float64         `json:"return_pct"`

	ExitReasons map[model.ExitReason]int `json:"exit_reasons,omitempty"`
}

// Summarize computes trade-level aggregates. An empty slice yields zeros.
func Summarize(trades []model.Trade) Summary {
	var s Summary
	if len(trades) == 0 {
		return s
	}
	s.TotalTrades = len(trades)
	s.ExitReasons = make(map[model.ExitReason]int)
	var holdHours float64
	for i, t := range trades {
		if t.Win() {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalPnLPct += t.ProfitPct
		if i == 0 || t.ProfitPct > s.BestPct {
			s.BestPct = t.ProfitPct
		}
		if i == 0 || t.ProfitPct < s.WorstPct {
			s.WorstPct = t.ProfitPct
		}
		holdHours += t.Hold().Hours()
		if t.ExitReason != "" {
			s.ExitReasons[t.ExitReason]++
		}
	}
	n := float64(len(trades))
	s.WinRate = float64(s.Wins) / n * 100
	s.AvgPnLPct = s.TotalPnLPct / n
	s.AvgHoldHours = holdHours / n
	return s
}
