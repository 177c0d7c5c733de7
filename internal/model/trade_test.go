package model

import (
	"testing"
	"time"
)

func TestProfitPct(t *testing.T) {
	tests := []struct {
		dir            Direction
		entry, current float64
		want           float64
	}{
		{Long, 100, 106, 6},
		{Long, 100, 97, -3},
		{Short, 100, 97, 3},
		{Short, 100, 104, -4},
		{None, 100, 120, 0},
		{Long, 0, 10, 0},
	}
	for _, tt := range tests {
		if got := ProfitPct(tt.dir, tt.entry, tt.current); got != tt.want {
			t.Errorf("ProfitPct(%s, %v, %v) = %v, want %v", tt.dir, tt.entry, tt.current, got, tt.want)
		}
	}
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{
		"long": Long, "LONG": Long, "buy": Long,
		"short": Short, " Sell ": Short,
		"": None, "none": None,
	}
	for in, want := range cases {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestTrade_HoldAndWin(t *testing.T) {
	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := Trade{EntryTime: entry, ExitTime: entry.Add(90 * time.Minute), ProfitPct: 0}
	if tr.Hold() != 90*time.Minute {
		t.Fatalf("expected 90m hold, got %s", tr.Hold())
	}
	if tr.Win() {
		t.Fatal("a flat trade is not a win")
	}
}

func TestSnapshot_ValueAndClone(t *testing.T) {
	s := Snapshot{Price: 101, Readings: []Reading{{Name: "rsi", Value: 30, Color: "green"}}}
	if v, ok := s.Value(PriceIndicator); !ok || v != 101 {
		t.Fatalf("expected price 101, got %v %v", v, ok)
	}
	if _, ok := s.Value("macd"); ok {
		t.Fatal("expected missing macd")
	}
	c := s.Clone()
	c.Readings[0].Value = 99
	if s.Readings[0].Value != 30 {
		t.Fatal("clone shares readings")
	}
}
