package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/stormcast/cmd/stormcast/logger"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/report"
)

// cliEnv carries the process streams, logger and clock into a subcommand.
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	clock  clockwork.Clock
}

func newCLIEnv(stdout, stderr io.Writer) *cliEnv {
	return &cliEnv{
		stdout: stdout,
		stderr: stderr,
		logger: logger.NewWithWriter(stderr, getEnv("LOG_FORMAT", "text"), getEnv("LOG_LEVEL", "info")),
		clock:  clockwork.NewRealClock(),
	}
}

func (e *cliEnv) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("stormctl "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func (e *cliEnv) writeJSON(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeChart renders charts into an HTML file at path.
func (e *cliEnv) writeChart(path string, cs ...report.Charter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := report.Render(f, cs...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chart: %w", err)
	}
	e.logger.Info("chart written", "path", path)
	return nil
}

// source selects where measurements come from: a local archive when -input
// is set, ClickHouse otherwise.
type source struct {
	input      string
	clickhouse measurement.ClickHouseConfig
}

func (s *source) register(fs *flag.FlagSet) {
	fs.StringVar(&s.input, "input", getEnv("STORMCTL_INPUT", ""), "CSV (.csv, .gz, .zst) or Parquet archive; ClickHouse when empty")
	fs.StringVar(&s.clickhouse.Addr, "clickhouse-addr", getEnv("CLICKHOUSE_ADDR", "localhost:9000"), "ClickHouse native address")
	fs.StringVar(&s.clickhouse.Database, "clickhouse-database", getEnv("CLICKHOUSE_DATABASE", "default"), "ClickHouse database")
	fs.StringVar(&s.clickhouse.Username, "clickhouse-user", getEnv("CLICKHOUSE_USER", "default"), "ClickHouse user")
	fs.StringVar(&s.clickhouse.Password, "clickhouse-password", getEnv("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	fs.StringVar(&s.clickhouse.Table, "clickhouse-table", getEnv("CLICKHOUSE_TABLE", "measurements"), "ClickHouse measurement table")
}

func (s *source) open(ctx context.Context, log *slog.Logger) (measurement.Store, func() error, error) {
	if s.input != "" {
		rows, err := measurement.ReadFile(s.input)
		if err != nil {
			return nil, nil, err
		}
		log.Info("loaded measurements", "file", s.input, "rows", len(rows))
		return measurement.NewMemoryStore(rows...), func() error { return nil }, nil
	}

	cs, err := measurement.OpenClickHouse(ctx, s.clickhouse)
	if err != nil {
		return nil, nil, err
	}
	log.Info("reading measurements from clickhouse", "addr", s.clickhouse.Addr, "table", s.clickhouse.Table)
	return cs, cs.Close, nil
}

// timeFlag parses RFC 3339 or a bare date.
type timeFlag struct{ t time.Time }

func (f *timeFlag) String() string {
	if f.t.IsZero() {
		return ""
	}
	return f.t.Format(time.RFC3339)
}

func (f *timeFlag) Set(s string) error {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		f.t = t.UTC()
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("use RFC 3339 or YYYY-MM-DD")
	}
	f.t = t
	return nil
}

func requireTimes(start, end *timeFlag) error {
	if start.t.IsZero() || end.t.IsZero() {
		return fmt.Errorf("-start and -end are required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
