package portfolio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// LedgerFile is the on-disk shape of a ledger.
type LedgerFile struct {
	Trades  []model.Trade `json:"trades"`
	Summary Summary       `json:"summary"`
}

// WriteLedger encodes the ledger with its recomputed summary.
func WriteLedger(w io.Writer, l *Ledger) error {
	trades := l.Trades
	if trades == nil {
		trades = []model.Trade{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(LedgerFile{Trades: trades, Summary: l.Summary()})
}

// ReadTrades decodes trades from either a ledger object or a bare JSON array.
// Any stored summary is ignored; callers recompute it with Summarize.
func ReadTrades(r io.Reader) ([]model.Trade, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var trades []model.Trade
		if err := json.Unmarshal(data, &trades); err != nil {
			return nil, fmt.Errorf("decode trade array: %w", err)
		}
		return trades, nil
	}
	var f LedgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return f.Trades, nil
}

// LoadTrades reads trades from a ledger file.
func LoadTrades(path string) ([]model.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trades, err := ReadTrades(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trades, nil
}
