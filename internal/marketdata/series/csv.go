package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Column suffixes of the normalized indicator export.
const (
	suffixValue     = "_value"
	suffixColor     = "_color"
	suffixIntensity = "_intensity"
)

type readingCols struct {
	name                    string
	value, color, intensity int
}

// ReadCSV decodes a normalized export with header
// timestamp,price,<name>_value,<name>_color,<name>_intensity,...
// Columns of one indicator may appear in any order. Rows with an unparsable
// price are skipped with a warning; empty cells leave the reading out.
func ReadCSV(r io.Reader) ([]model.RawSnapshot, []Warning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	tsCol, priceCol, cols, err := parseHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		out      []model.RawSnapshot
		warnings []Warning
	)
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, warnings, fmt.Errorf("row %d: %w", row+1, err)
		}
		ts := cell(rec, tsCol)
		price, err := strconv.ParseFloat(cell(rec, priceCol), 64)
		if err != nil {
			warnings = append(warnings, NewWarning(row, ts, fmt.Errorf("%w: %q", ErrBadPrice, cell(rec, priceCol))))
			continue
		}
		raw := model.RawSnapshot{Time: ts, Price: price}
		for _, c := range cols {
			rd, ok := c.reading(rec)
			if ok {
				raw.Readings = append(raw.Readings, rd)
			}
		}
		out = append(out, raw)
	}
	return out, warnings, nil
}

// LoadCSV reads a normalized export from path.
func LoadCSV(path string) ([]model.RawSnapshot, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseHeader(header []string) (tsCol, priceCol int, cols []*readingCols, err error) {
	tsCol, priceCol = -1, -1
	byName := make(map[string]*readingCols)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "timestamp", "ts", "time":
			tsCol = i
			continue
		case "price", "close":
			priceCol = i
			continue
		}
		var name string
		var slot func(c *readingCols)
		switch {
		case strings.HasSuffix(h, suffixValue):
			name = strings.TrimSuffix(h, suffixValue)
			slot = func(c *readingCols) { c.value = i }
		case strings.HasSuffix(h, suffixColor):
			name = strings.TrimSuffix(h, suffixColor)
			slot = func(c *readingCols) { c.color = i }
		case strings.HasSuffix(h, suffixIntensity):
			name = strings.TrimSuffix(h, suffixIntensity)
			slot = func(c *readingCols) { c.intensity = i }
		default:
			// Bare column: treat as a value.
			name = h
			slot = func(c *readingCols) { c.value = i }
		}
		c, ok := byName[name]
		if !ok {
			c = &readingCols{name: name, value: -1, color: -1, intensity: -1}
			byName[name] = c
			cols = append(cols, c)
		}
		slot(c)
	}
	if tsCol < 0 || priceCol < 0 {
		return 0, 0, nil, fmt.Errorf("csv header needs timestamp and price columns, got %v", header)
	}
	return tsCol, priceCol, cols, nil
}

func (c *readingCols) reading(rec []string) (model.Reading, bool) {
	rd := model.Reading{Name: c.name}
	present := false
	if v := cell(rec, c.value); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rd, false
		}
		rd.Value = f
		present = true
	}
	if v := cell(rec, c.color); v != "" {
		rd.Color = v
		present = true
	}
	if v := cell(rec, c.intensity); v != "" {
		rd.Intensity = v
		present = true
	}
	return rd, present
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
