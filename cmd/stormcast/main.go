// Command stormcast serves the storm forecast evaluation engine.
//
// The service exposes backtesting, threshold optimization, storm detection
// and regional climatology over HTTP and can optionally run a live loop
// that:
//  1. Collects recent measurements from a feed
//  2. Blends climatology with the oracle forecast
//  3. Builds the regional outlook
//  4. Stores both snapshots for /forecast/current and /regional/current
//  5. Publishes the forecast to Kafka
//
// Usage:
//
//	stormcast \
//	  -measurements=clickhouse -clickhouse-addr=clickhouse:9000 \
//	  -oracle=http -oracle-url=http://model:8000 \
//	  -storage=redis -redis-addr=redis:6379 \
//	  -live -feed=http -interval=15m
//
// Environment variables:
//
//	LISTEN          - HTTP listen address (default: :8080)
//	MEASUREMENTS    - Measurement store: memory, clickhouse (default: memory)
//	IMPORT_FILE     - CSV or Parquet file preloaded into the memory store
//	ORACLE          - Forecast oracle: trend, http (default: trend)
//	ORACLE_URL      - Model service URL
//	STORAGE         - Snapshot storage: memory, redis (default: memory)
//	LIVE            - Run the live forecast loop (default: false)
//	FEED            - Live feed: http, store (default: store)
//	FEED_*          - Feed settings (FEED_URL, FEED_KP_PATH, ...)
//	PUBLISH         - Publish storms and forecasts to Kafka (default: false)
//	LOG_LEVEL       - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT      - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/stormcast/cmd/stormcast/config"
	"github.com/HatiCode/stormcast/cmd/stormcast/logger"
	"github.com/HatiCode/stormcast/cmd/stormcast/metrics"
	"github.com/HatiCode/stormcast/cmd/stormcast/oracles"
	"github.com/HatiCode/stormcast/cmd/stormcast/router"
	"github.com/HatiCode/stormcast/cmd/stormcast/stores"
	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/events"
	"github.com/HatiCode/stormcast/pkg/feed"
	"github.com/HatiCode/stormcast/pkg/httpx"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/publish"
	"github.com/HatiCode/stormcast/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting stormcast",
		"version", version,
		"measurements", cfg.Measurements,
		"oracle", cfg.Oracle,
		"storage", cfg.Storage,
		"live", cfg.Live,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("stormcast failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	m := metrics.New(prometheus.DefaultRegisterer)

	snapshots, closeSnapshots, err := stores.Snapshots(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer logClose(logger, "snapshot store", closeSnapshots)

	measurements, closeMeasurements, err := stores.Measurements(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer logClose(logger, "measurement store", closeMeasurements)

	o, err := oracles.New(cfg, logger)
	if err != nil {
		return err
	}

	policy, err := backtest.ParseMatchPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	runner := backtest.NewRunner(measurements, o, logger,
		backtest.WithRecorder(m),
		backtest.WithOracleTimeout(cfg.OracleTimeout),
	)

	eventsSvc := events.NewService(measurements, clock, logger)
	clim := climatology.NewService(measurements, clock, logger)
	if cfg.BuildClimatology {
		if _, err := clim.Build(ctx, cfg.Years()); err != nil {
			logger.Warn("climatology build failed, serving baseline values", "error", err)
		}
	}

	var publisher publish.Publisher = publish.NopPublisher{}
	if cfg.Publish {
		kp, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			StormTopic:    cfg.StormTopic,
			ForecastTopic: cfg.ForecastTopic,
		}, clock, logger)
		if err != nil {
			return err
		}
		publisher = kp
		logger.Info("publishing to kafka", "brokers", cfg.KafkaBrokers)
	}
	defer logClose(logger, "publisher", publisher.Close)

	if cfg.Live {
		live, err := newLive(cfg, measurements, o, clim, snapshots, publisher, clock, logger, m)
		if err != nil {
			return err
		}
		go func() {
			if err := live.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live loop failed", "error", err)
			}
		}()
	}

	handler := router.SetupRoutes(router.Deps{
		Snapshots:   snapshots,
		Runner:      runner,
		Events:      eventsSvc,
		Climatology: clim,
		Publisher:   publisher,
		Metrics:     m,
		Defaults: backtest.Params{
			Threshold: cfg.Threshold,
			Stride:    cfg.Stride,
			Horizon:   cfg.Horizon,
			Tolerance: cfg.Tolerance,
			Policy:    policy,
			Workers:   cfg.Workers,
		},
		StaleAfter: 2 * cfg.Interval, // stale if older than two live ticks
		Clock:      clock,
		Logger:     logger,
	})
	httpServer := httpx.NewServer(cfg.Listen, handler, cfg.WriteTimeout, logger)

	serverErr := make(chan error, 1)
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.Server()
		if err != nil {
			return err
		}
		httpServer.SetTLSConfig(tlsCfg)
		go func() {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		}()
	} else {
		go func() {
			serverErr <- httpServer.Start()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	return httpServer.Stop(10 * time.Second)
}

func newLive(
	cfg *config.Config,
	measurements measurement.Store,
	o oracle.Oracle,
	clim *climatology.Service,
	snapshots storage.Store,
	publisher publish.Publisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Live, error) {
	f, err := feed.New(cfg.Feed, cfg.FeedConfig, measurements)
	if err != nil {
		return nil, err
	}
	if hf, ok := f.(*feed.HTTPFeed); ok {
		client, err := httpx.NewClient(cfg.ClientTLS, cfg.OracleTimeout)
		if err != nil {
			return nil, err
		}
		hf.HTTPClient = client
		hf.Clock = clock
	}

	blender, err := ensemble.NewBlender(cfg.ClimatologyWeight, cfg.OracleWeight, clim, o,
		ensemble.WithLogger(logger),
		ensemble.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}
	return NewLive(f, blender, clim, snapshots, publisher, clock, logger, m), nil
}

func logClose(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("failed to close "+what, "error", err)
	}
}
