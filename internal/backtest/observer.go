package backtest

import (
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
)

// Observer receives lifecycle events from a Session. Implementations must not
// block; they run on the simulation goroutine.
type Observer interface {
	SnapshotProcessed()
	SnapshotSkipped(reason string)
	PositionOpened(pos portfolio.Position)
	TradeClosed(trade model.Trade)
}

type nopObserver struct{}

func (nopObserver) SnapshotProcessed() {}
func (nopObserver) SnapshotSkipped(string) {}
func (nopObserver) PositionOpened(portfolio.Position) {}
func (nopObserver) TradeClosed(model.Trade) {}
