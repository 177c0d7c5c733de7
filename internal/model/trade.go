package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a signal, position or trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	None  Direction = "none"
)

// ParseDirection accepts long/short/none in any case, plus buy/sell aliases
// found in externally recorded ledgers.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	case "", "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown direction %q", s)
}

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// ExitReason records which exit rule closed a position.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitProfitLock   ExitReason = "profit_lock"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitMaxHold      ExitReason = "max_hold"
	ExitEndOfData    ExitReason = "end_of_data"
)

// Trade is a closed position. It is never mutated after creation.
type Trade struct {
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Direction  Direction  `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	ProfitPct  float64    `json:"profit_pct"`
	ExitReason ExitReason `json:"exit_reason"`
	HoldHours  float64    `json:"hold_hours,omitempty"`
}

// Hold returns the time the position was open.
func (t *Trade) Hold() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Win reports whether the trade closed in profit.
func (t *Trade) Win() bool {
	return t.ProfitPct > 0
}

// ProfitPct computes the signed percentage move from entry to current for the
// given direction. Multiplying before dividing keeps round-number moves exact.
func ProfitPct(dir Direction, entry, current float64) float64 {
	if entry == 0 {
		return 0
	}
	return dir.Sign() * (current - entry) * 100 / entry
}
