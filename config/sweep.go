package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/backtest"
)

// LoadSweep reads a YAML list of parameter overrides. Each entry is applied
// on top of a fresh copy of base, so an entry only names what it changes:
//
//   - exit: {take_profit_pct: 4}
//   - exit: {take_profit_pct: 6}
//     position_sizing_fraction: 0.2
func LoadSweep(path string, base backtest.Params) ([]backtest.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sweep: %w", err)
	}
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse sweep %s: %w", path, err)
	}
	baseYAML, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}

	out := make([]backtest.Params, 0, len(nodes))
	for i := range nodes {
		var p backtest.Params
		if err := yaml.Unmarshal(baseYAML, &p); err != nil {
			return nil, err
		}
		if err := nodes[i].Decode(&p); err != nil {
			return nil, fmt.Errorf("sweep entry %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
