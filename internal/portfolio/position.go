// Package portfolio tracks the open position, decides when it must close,
// and accounts for closed trades and capital.
//
// A position moves NONE → OPEN → CLOSED. The Simulator owns the single open
// Position; the ExitManager only reads it.
package portfolio

import (
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Position represents the single open trade.
type Position struct {
	Direction  model.Direction `json:"direction"`
	EntryPrice float64         `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`

	// PeakPct is the best profit percentage seen since entry. It starts at 0
	// and never decreases while the position is open.
	PeakPct float64 `json:"peak_pct"`

	EntryQuality float64 `json:"entry_quality"`
	EntryReason  string  `json:"entry_reason,omitempty"`
}

// Open creates a position at the given price and time with zero peak.
func Open(dir model.Direction, price float64, at time.Time, quality float64, reason string) *Position {
	return &Position{
		Direction:    dir,
		EntryPrice:   price,
		EntryTime:    at,
		EntryQuality: quality,
		EntryReason:  reason,
	}
}

// ProfitPct returns the unrealized profit percentage at price.
func (p *Position) ProfitPct(price float64) float64 {
	return model.ProfitPct(p.Direction, p.EntryPrice, price)
}

// Mark updates the peak with the profit at price and returns that profit.
// Must be called once per tick before the exit check.
func (p *Position) Mark(price float64) float64 {
	cur := p.ProfitPct(price)
	if cur > p.PeakPct {
		p.PeakPct = cur
	}
	return cur
}

// Held returns how long the position has been open at now.
func (p *Position) Held(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Close converts the position into an immutable Trade.
func (p *Position) Close(price float64, at time.Time, reason model.ExitReason) model.Trade {
	return model.Trade{
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		ProfitPct:  p.ProfitPct(price),
		ExitReason: reason,
		HoldHours:  at.Sub(p.EntryTime).Hours(),
	}
}
