package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/events"
)

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers       []string
	StormTopic    string
	ForecastTopic string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher produces JSON messages to one topic for storms and one for
// forecasts.
type KafkaPublisher struct {
	storms    messageWriter
	forecasts messageWriter
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewKafkaPublisher creates writers for both topics. No connection is made
// until the first publish.
func NewKafkaPublisher(cfg KafkaConfig, clock clockwork.Clock, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.StormTopic == "" || cfg.ForecastTopic == "" {
		return nil, errors.New("kafka publisher requires storm and forecast topics")
	}
	return newKafkaPublisher(newWriter(cfg.Brokers, cfg.StormTopic), newWriter(cfg.Brokers, cfg.ForecastTopic), clock, logger), nil
}

func newWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
}

func newKafkaPublisher(storms, forecasts messageWriter, clock clockwork.Clock, logger *slog.Logger) *KafkaPublisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{storms: storms, forecasts: forecasts, clock: clock, logger: logger}
}

// PublishEvents sends every storm in a single batch keyed by storm ID.
func (p *KafkaPublisher) PublishEvents(ctx context.Context, evts []events.StormEvent) error {
	if len(evts) == 0 {
		return nil
	}
	now := p.clock.Now()
	msgs := make([]kafkago.Message, len(evts))
	for i := range evts {
		msg, err := message(evts[i].ID, EventTypeStorm, now, evts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.storms.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish storm events: %w", err)
	}
	p.logger.Debug("published storm events", "count", len(evts))
	return nil
}

// PublishForecast sends one forecast keyed by its issue time.
func (p *KafkaPublisher) PublishForecast(ctx context.Context, f ensemble.Forecast) error {
	msg, err := message(f.IssuedAt.UTC().Format(time.RFC3339), EventTypeForecast, p.clock.Now(), f)
	if err != nil {
		return err
	}
	if err := p.forecasts.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish forecast: %w", err)
	}
	return nil
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	return errors.Join(p.storms.Close(), p.forecasts.Close())
}

func message(key, eventType string, publishedAt time.Time, v any) (kafkago.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s: %w", eventType, err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "published_at", Value: []byte(publishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
