package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
)

// Sweep runs one independent backtest per parameter set over the same
// sequence, at most workers at a time. Results are in input order. The first
// failing run cancels the rest.
func Sweep(ctx context.Context, seq []model.Snapshot, params []Params, workers int, opts ...Option) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]*Result, len(params))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range params {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sim, err := New(params[i], opts...)
			if err != nil {
				return fmt.Errorf("params[%d]: %w", i, err)
			}
			res, err := sim.Run(seq)
			if err != nil {
				return fmt.Errorf("params[%d]: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
