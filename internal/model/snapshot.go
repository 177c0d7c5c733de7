package model

import (
	"encoding/json"
	"time"
)

// Reading is one named indicator value at a point in time.
// Color and Intensity are the categorical labels the indicator export carries
// alongside the numeric value (e.g. "green"/"strong").
type Reading struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Color     string  `json:"color,omitempty"`
	Intensity string  `json:"intensity,omitempty"`
}

// Snapshot is the price and indicator state of the instrument at one timestamp.
// Readings keep the order they were loaded in.
type Snapshot struct {
	Time     time.Time `json:"ts"`
	Price    float64   `json:"price"`
	Readings []Reading `json:"readings"`
}

// Reading returns the reading with the given name.
func (s *Snapshot) Reading(name string) (Reading, bool) {
	for _, r := range s.Readings {
		if r.Name == name {
			return r, true
		}
	}
	return Reading{}, false
}

// Value returns the numeric value of a reading. The pseudo-indicator "price"
// resolves to the snapshot price.
func (s *Snapshot) Value(name string) (float64, bool) {
	if name == PriceIndicator {
		return s.Price, true
	}
	r, ok := s.Reading(name)
	if !ok {
		return 0, false
	}
	return r.Value, true
}

// Clone returns a deep copy so callers can't mutate a loaded sequence.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Readings != nil {
		out.Readings = make([]Reading, len(s.Readings))
		copy(out.Readings, s.Readings)
	}
	return out
}

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s *Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// PriceIndicator names the snapshot price when a rule refers to it like an indicator.
const PriceIndicator = "price"
