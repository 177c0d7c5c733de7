// Package series turns raw snapshot records from any source into an accepted
// sequence: parseable timestamps, positive prices, strictly ascending unique
// times. Records that fail are skipped with a Warning instead of failing the
// whole load.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

var (
	ErrBadTimestamp     = errors.New("unparsable timestamp")
	ErrBadPrice         = errors.New("price must be positive and finite")
	ErrNotAscending     = errors.New("timestamp not after previous snapshot")
	ErrDuplicateTime    = errors.New("duplicate timestamp")
	ErrMissingIndicator = errors.New("missing required indicator")
)

// Warning describes one skipped record.
type Warning struct {
	Index  int    `json:"index"`
	Time   string `json:"ts,omitempty"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	if w.Time == "" {
		return fmt.Sprintf("record %d: %s", w.Index, w.Reason)
	}
	return fmt.Sprintf("record %d (%s): %s", w.Index, w.Time, w.Reason)
}

// NewWarning builds a Warning from a rejection error.
func NewWarning(index int, ts string, err error) Warning {
	return Warning{Index: index, Time: ts, Reason: err.Error()}
}

// DefaultLayouts are tried in order when parsing textual timestamps.
var DefaultLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Options controls acceptance.
type Options struct {
	// RequiredIndicators must all be present in a snapshot for it to be kept.
	RequiredIndicators []string
	// Layouts overrides DefaultLayouts.
	Layouts []string
	// Location is used for timestamps without a zone. Defaults to UTC.
	Location *time.Location
	// Sort orders records by time before the ascending check, for sources
	// that do not guarantee order.
	Sort bool
}

// ParseTime accepts the configured layouts plus unix seconds or milliseconds.
func ParseTime(s string, layouts []string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if loc == nil {
		loc = time.UTC
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 13+ digits are milliseconds.
		if n > 1e12 || n < -1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q", ErrBadTimestamp, s)
}

// Check validates s against the previously accepted snapshot. prev is nil for
// the first snapshot.
func Check(prev *model.Snapshot, s *model.Snapshot) error {
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return fmt.Errorf("%w: %v", ErrBadPrice, s.Price)
	}
	if prev == nil {
		return nil
	}
	if s.Time.Equal(prev.Time) {
		return ErrDuplicateTime
	}
	if s.Time.Before(prev.Time) {
		return fmt.Errorf("%w (%s)", ErrNotAscending, prev.Time.Format(time.RFC3339))
	}
	return nil
}

// Build accepts raws into a snapshot sequence. The returned snapshots share
// nothing with raws.
func Build(raws []model.RawSnapshot, opts Options) ([]model.Snapshot, []Warning) {
	type parsed struct {
		idx  int
		ts   string
		snap model.Snapshot
	}
	var warnings []Warning
	items := make([]parsed, 0, len(raws))

	for i, r := range raws {
		t, err := ParseTime(r.Time, opts.Layouts, opts.Location)
		if err != nil {
			warnings = append(warnings, NewWarning(i, r.Time, err))
			continue
		}
		s := model.Snapshot{Time: t, Price: r.Price, Readings: r.Readings}
		if missing := missingIndicator(&s, opts.RequiredIndicators); missing != "" {
			warnings = append(warnings, NewWarning(i, r.Time, fmt.Errorf("%w %s", ErrMissingIndicator, missing)))
			continue
		}
		items = append(items, parsed{idx: i, ts: r.Time, snap: s.Clone()})
	}

	if opts.Sort {
		sort.SliceStable(items, func(a, b int) bool { return items[a].snap.Time.Before(items[b].snap.Time) })
	}

	out := make([]model.Snapshot, 0, len(items))
	var prev *model.Snapshot
	for _, it := range items {
		s := it.snap
		if err := Check(prev, &s); err != nil {
			warnings = append(warnings, NewWarning(it.idx, it.ts, err))
			continue
		}
		out = append(out, s)
		prev = &out[len(out)-1]
	}
	sort.SliceStable(warnings, func(a, b int) bool { return warnings[a].Index < warnings[b].Index })
	return out, warnings
}

func missingIndicator(s *model.Snapshot, names []string) string {
	for _, n := range names {
		if _, ok := s.Value(n); !ok {
			return n
		}
	}
	return ""
}
