package series

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

func raw(ts string, price float64, readings ...model.Reading) model.RawSnapshot {
	return model.RawSnapshot{Time: ts, Price: price, Readings: readings}
}

func TestBuild_SkipsBadRecords(t *testing.T) {
	raws := []model.RawSnapshot{
		raw("2024-03-01T10:00:00Z", 100),
		raw("not-a-time", 101),
		raw("2024-03-01T11:00:00Z", 0),
		raw("2024-03-01T11:00:00Z", math.NaN()),
		raw("2024-03-01T12:00:00Z", 102),
		raw("2024-03-01T12:00:00Z", 103), // duplicate
		raw("2024-03-01T11:30:00Z", 104), // goes backwards
		raw("2024-03-01 13:00:00", 105),
	}
	snaps, warnings := Build(raws, Options{})

	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[2].Price != 105 || !snaps[2].Time.Equal(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last snapshot %+v", snaps[2])
	}
	if len(warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %d: %v", len(warnings), warnings)
	}
	wantIdx := []int{1, 2, 3, 5, 6}
	for i, w := range warnings {
		if w.Index != wantIdx[i] {
			t.Errorf("warning %d: expected index %d, got %d (%s)", i, wantIdx[i], w.Index, w)
		}
	}
	if !strings.Contains(warnings[3].Reason, ErrDuplicateTime.Error()) {
		t.Errorf("expected duplicate warning, got %s", warnings[3].Reason)
	}
}

func TestBuild_RequiredIndicators(t *testing.T) {
	raws := []model.RawSnapshot{
		raw("2024-03-01T10:00:00Z", 100, model.Reading{Name: "rsi", Value: 30}),
		raw("2024-03-01T11:00:00Z", 101),
	}
	snaps, warnings := Build(raws, Options{RequiredIndicators: []string{"rsi"}})
	if len(snaps) != 1 || len(warnings) != 1 {
		t.Fatalf("expected 1 snapshot and 1 warning, got %d/%d", len(snaps), len(warnings))
	}
	if !strings.Contains(warnings[0].Reason, "rsi") {
		t.Errorf("expected warning to name rsi, got %s", warnings[0].Reason)
	}
}

func TestBuild_Sort(t *testing.T) {
	raws := []model.RawSnapshot{
		raw("2024-03-01T12:00:00Z", 102),
		raw("2024-03-01T10:00:00Z", 100),
		raw("2024-03-01T11:00:00Z", 101),
	}
	snaps, warnings := Build(raws, Options{Sort: true})
	if len(warnings) != 0 || len(snaps) != 3 {
		t.Fatalf("expected 3 clean snapshots, got %d (%v)", len(snaps), warnings)
	}
	for i, want := range []float64{100, 101, 102} {
		if snaps[i].Price != want {
			t.Fatalf("at %d: expected %v, got %v", i, want, snaps[i].Price)
		}
	}
}

func TestBuild_CopiesReadings(t *testing.T) {
	readings := []model.Reading{{Name: "rsi", Value: 30}}
	snaps, _ := Build([]model.RawSnapshot{raw("2024-03-01T10:00:00Z", 100, readings...)}, Options{})
	readings[0].Value = 99
	if snaps[0].Readings[0].Value != 30 {
		t.Fatalf("accepted snapshot shares readings with input")
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-01T10:00:00Z", "2024-03-01 10:00:00", "1709287200", "1709287200000"} {
		got, err := ParseTime(s, nil, nil)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !got.Equal(want) {
			t.Errorf("%s: expected %s, got %s", s, want, got)
		}
	}
	if _, err := ParseTime("yesterday", nil, nil); !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("expected ErrBadTimestamp, got %v", err)
	}
}

func TestReadCSV(t *testing.T) {
	in := `timestamp,price,rsi_value,ribbon_color,ribbon_intensity,rsi_color
2024-03-01 10:00:00,100.5,31.2,green,strong,
2024-03-01 11:00:00,abc,40,red,,
2024-03-01 12:00:00,101,,red,weak,yellow
`
	raws, warnings, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(raws) != 2 || len(warnings) != 1 {
		t.Fatalf("expected 2 rows and 1 warning, got %d/%d", len(raws), len(warnings))
	}

	first := raws[0]
	if first.Price != 100.5 || len(first.Readings) != 2 {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.Readings[0].Name != "rsi" || first.Readings[0].Value != 31.2 {
		t.Errorf("unexpected rsi reading %+v", first.Readings[0])
	}
	if first.Readings[1].Name != "ribbon" || first.Readings[1].Color != "green" || first.Readings[1].Intensity != "strong" {
		t.Errorf("unexpected ribbon reading %+v", first.Readings[1])
	}

	// rsi has only a color on the last row.
	last := raws[1]
	snaps, _ := Build(raws, Options{})
	if len(snaps) != 2 {
		t.Fatalf("expected 2 accepted snapshots, got %d", len(snaps))
	}
	rd, ok := snaps[1].Reading("rsi")
	if !ok || rd.Color != "yellow" || rd.Value != 0 {
		t.Errorf("unexpected rsi reading on last row %+v (from %+v)", rd, last)
	}
}

func TestReadCSV_MissingColumns(t *testing.T) {
	if _, _, err := ReadCSV(strings.NewReader("foo,bar\n1,2\n")); err == nil {
		t.Fatal("expected header error")
	}
}
