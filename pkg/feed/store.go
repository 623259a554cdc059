package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
)

// StoreFeed replays the most recent rows of a measurement store, one per
// hour of the window. It lets the live loop run against imported history.
type StoreFeed struct {
	Store measurement.Store
}

func (s *StoreFeed) Name() string { return "store" }

// Collect implements Feed.
func (s *StoreFeed) Collect(ctx context.Context, window time.Duration) ([]measurement.Measurement, error) {
	n := int(window / time.Hour)
	if n < 1 {
		n = 1
	}
	ms, err := s.Store.ReadLatest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read latest measurements: %w", err)
	}
	return ms, nil
}
