package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/marketdata/series"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/store"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap.db")
	nop := zerolog.Nop()
	w, err := New(WriterConfig{DBPath: path, Logger: &nop})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestWriteRead_RoundTrip(t *testing.T) {
	w, path := newWriter(t)
	ctx := context.Background()

	snaps := []model.Snapshot{
		{Time: t0, Price: 100, Readings: []model.Reading{
			{Name: "rsi", Value: 30},
			{Name: "ribbon", Color: "green", Intensity: "strong"},
		}},
		{Time: t0.Add(time.Hour), Price: 101},
		{Time: t0.Add(2 * time.Hour), Price: 102, Readings: []model.Reading{{Name: "rsi", Value: 45}}},
	}
	if err := w.WriteSnapshots(ctx, "BTC", snaps); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Other instruments stay separate.
	if err := w.WriteSnapshots(ctx, "ETH", snaps[:1]); err != nil {
		t.Fatalf("write eth: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	raws, err := r.ReadSnapshots(ctx, "BTC", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, warnings := series.Build(raws, series.Options{})
	if len(warnings) != 0 || len(got) != 3 {
		t.Fatalf("expected 3 clean snapshots, got %d (%v)", len(got), warnings)
	}
	if !got[0].Time.Equal(t0) || len(got[0].Readings) != 2 || got[0].Readings[1].Color != "green" {
		t.Fatalf("unexpected first snapshot %+v", got[0])
	}
	if len(got[1].Readings) != 0 {
		t.Fatalf("expected no readings on second snapshot, got %+v", got[1].Readings)
	}

	ranged, err := r.ReadSnapshots(ctx, "BTC", t0.Add(time.Hour), t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Price != 101 {
		t.Fatalf("expected only the 11:00 snapshot, got %+v", ranged)
	}

	inst, err := r.Instruments(ctx)
	if err != nil || len(inst) != 2 || inst[0] != "BTC" {
		t.Fatalf("unexpected instruments %v err=%v", inst, err)
	}
}

func TestWriteSnapshots_ReplacesReadings(t *testing.T) {
	w, _ := newWriter(t)
	ctx := context.Background()

	first := model.Snapshot{Time: t0, Price: 100, Readings: []model.Reading{{Name: "rsi", Value: 30}, {Name: "macd", Value: 1}}}
	second := model.Snapshot{Time: t0, Price: 99, Readings: []model.Reading{{Name: "rsi", Value: 31}}}
	if err := w.WriteSnapshots(ctx, "BTC", []model.Snapshot{first}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteSnapshots(ctx, "BTC", []model.Snapshot{second}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	r := &Reader{db: w.DB()}
	raws, err := r.ReadSnapshots(ctx, "BTC", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(raws) != 1 || raws[0].Price != 99 || len(raws[0].Readings) != 1 || raws[0].Readings[0].Value != 31 {
		t.Fatalf("expected replaced snapshot, got %+v", raws)
	}

	last, err := w.LastTimestamp(ctx, "BTC")
	if err != nil || !last.Equal(t0) {
		t.Fatalf("expected last %s, got %s err=%v", t0, last, err)
	}
}

func TestArchive_IntoSQLite(t *testing.T) {
	w, _ := newWriter(t)
	ch := make(chan model.Snapshot, 10)
	for i := 0; i < 5; i++ {
		ch <- model.Snapshot{Time: t0.Add(time.Duration(i) * time.Minute), Price: float64(100 + i)}
	}
	close(ch)
	store.Archive(context.Background(), w, "BTC", ch, zerolog.Nop())

	last, err := w.LastTimestamp(context.Background(), "BTC")
	if err != nil || !last.Equal(t0.Add(4*time.Minute)) {
		t.Fatalf("expected all 5 snapshots flushed, last=%s err=%v", last, err)
	}
}

func TestWriteRead_SubMillisecond(t *testing.T) {
	w, _ := newWriter(t)
	ctx := context.Background()

	a := t0.Add(123456 * time.Nanosecond)
	b := a.Add(200 * time.Microsecond) // same millisecond as a
	if err := w.WriteSnapshots(ctx, "BTC", []model.Snapshot{{Time: a, Price: 100}, {Time: b, Price: 101}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := &Reader{db: w.DB()}
	raws, err := r.ReadSnapshots(ctx, "BTC", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, warnings := series.Build(raws, series.Options{})
	if len(got) != 2 || len(warnings) != 0 {
		t.Fatalf("expected 2 distinct snapshots, got %d (%v)", len(got), warnings)
	}
	if !got[0].Time.Equal(a) || !got[1].Time.Equal(b) {
		t.Fatalf("expected exact times %s %s, got %s %s", a, b, got[0].Time, got[1].Time)
	}

	ranged, err := r.ReadSnapshots(ctx, "BTC", b, time.Time{})
	if err != nil || len(ranged) != 1 || ranged[0].Price != 101 {
		t.Fatalf("expected only b from a sub-millisecond bound, got %+v err=%v", ranged, err)
	}
}
