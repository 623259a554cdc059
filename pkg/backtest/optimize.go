package backtest

import (
	"context"

	"github.com/HatiCode/stormcast/pkg/optimizer"
)

// OptimizeSamples sweeps decision thresholds over backtest samples, which
// are already in tick order.
func OptimizeSamples(ctx context.Context, samples []Sample, opts optimizer.Options) (optimizer.Result, error) {
	predicted, actual := Series(samples)
	return optimizer.Optimize(ctx, predicted, actual, opts)
}
