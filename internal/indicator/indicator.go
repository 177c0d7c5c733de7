// Package indicator derives indicator readings from snapshot prices, for
// sources that carry only a price series.
//
// All indicators implement the Indicator interface, receiving prices and
// producing float64 values. Updates are O(1).
package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator type (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears all state for reuse.
	Reset()
}
