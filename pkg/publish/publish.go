// Package publish pushes detected storms and live forecasts to downstream
// consumers.
package publish

import (
	"context"

	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/events"
)

// Event types carried in the event_type header.
const (
	EventTypeStorm    = "storm_event"
	EventTypeForecast = "forecast"
)

// Publisher delivers storms and forecasts.
type Publisher interface {
	PublishEvents(ctx context.Context, evts []events.StormEvent) error
	PublishForecast(ctx context.Context, f ensemble.Forecast) error
	Close() error
}

// NopPublisher discards everything. It is used when publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishEvents(context.Context, []events.StormEvent) error { return nil }
func (NopPublisher) PublishForecast(context.Context, ensemble.Forecast) error { return nil }
func (NopPublisher) Close() error                                           { return nil }
