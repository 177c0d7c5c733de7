// Package ringbuf provides a fixed-capacity history window of snapshots.
// Pushing into a full window overwrites the oldest entry, so the window always
// holds the most recent snapshots in arrival order.
//
// A Window is owned by a single goroutine (the simulator loop) and is not
// safe for concurrent use.
package ringbuf

import (
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Window is a bounded ring of model.Snapshot.
type Window struct {
	buf  []model.Snapshot
	head int // next write slot
	n    int
}

// New creates a window holding up to capacity snapshots.
// A capacity below 1 yields a window that retains nothing.
func New(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{buf: make([]model.Snapshot, capacity)}
}

// Push appends a snapshot, evicting the oldest when full.
func (w *Window) Push(s model.Snapshot) {
	if len(w.buf) == 0 {
		return
	}
	if w.n < len(w.buf) {
		w.n++
	}
	w.buf[w.head] = s
	w.head = (w.head + 1) % len(w.buf)
}

// Slice returns the retained snapshots oldest first. The returned slice is a
// copy; callers may keep it.
func (w *Window) Slice() []model.Snapshot {
	out := make([]model.Snapshot, w.n)
	start := (w.head - w.n + len(w.buf)) % max(len(w.buf), 1)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
