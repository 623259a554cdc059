// Package config parses stormcast service configuration.
//
// Every setting has a flag and an environment variable; flags take
// precedence over environment variables, which take precedence over the
// defaults. Feed settings are read from FEED_* variables into a generic map
// (FEED_KP_PATH becomes "kpPath").
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/tls"
)

// Config holds all service configuration.
type Config struct {
	Listen       string
	WriteTimeout time.Duration
	LogFormat    string
	LogLevel     string
	TLS          tls.Config

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	Measurements string
	ImportFile   string
	ClickHouse   measurement.ClickHouseConfig

	Oracle        string
	OracleURL     string
	OracleTimeout time.Duration
	ClientTLS     tls.Config

	ClimatologyWeight float64
	OracleWeight      float64
	Region            string
	BuildClimatology  bool
	ClimatologyFrom   int
	ClimatologyTo     int

	Threshold float64
	Stride    time.Duration
	Horizon   time.Duration
	Tolerance time.Duration
	Policy    string
	Workers   int

	Live       bool
	Feed       string
	FeedConfig map[string]string
	Interval   time.Duration

	Publish       bool
	KafkaBrokers  []string
	StormTopic    string
	ForecastTopic string
}

// ParseFlags parses os.Args and the environment into a Config, exiting on
// invalid input.
func ParseFlags() *Config {
	cfg, err := Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return cfg
}

// Load registers every flag on fs, parses args and validates the result.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", getEnvDuration("WRITE_TIMEOUT", 2*time.Minute), "HTTP write timeout (long backtests)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot storage: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis snapshot TTL")

	fs.StringVar(&cfg.Measurements, "measurements", getEnv("MEASUREMENTS", "memory"), "Measurement store: memory or clickhouse")
	fs.StringVar(&cfg.ImportFile, "import-file", getEnv("IMPORT_FILE", ""), "CSV or Parquet file preloaded into the memory store")
	fs.StringVar(&cfg.ClickHouse.Addr, "clickhouse-addr", getEnv("CLICKHOUSE_ADDR", "localhost:9000"), "ClickHouse native address")
	fs.StringVar(&cfg.ClickHouse.Database, "clickhouse-database", getEnv("CLICKHOUSE_DATABASE", "default"), "ClickHouse database")
	fs.StringVar(&cfg.ClickHouse.Username, "clickhouse-user", getEnv("CLICKHOUSE_USER", "default"), "ClickHouse user")
	fs.StringVar(&cfg.ClickHouse.Password, "clickhouse-password", getEnv("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	fs.StringVar(&cfg.ClickHouse.Table, "clickhouse-table", getEnv("CLICKHOUSE_TABLE", "measurements"), "ClickHouse measurement table")

	fs.StringVar(&cfg.Oracle, "oracle", getEnv("ORACLE", "trend"), "Forecast oracle: trend or http")
	fs.StringVar(&cfg.OracleURL, "oracle-url", getEnv("ORACLE_URL", ""), "Model service URL (required when oracle=http)")
	fs.DurationVar(&cfg.OracleTimeout, "oracle-timeout", getEnvDuration("ORACLE_TIMEOUT", 30*time.Second), "Per-call oracle timeout")
	fs.BoolVar(&cfg.ClientTLS.Enabled, "oracle-tls-enabled", getEnvBool("ORACLE_TLS_ENABLED", false), "Use mTLS for oracle and feed calls")
	fs.StringVar(&cfg.ClientTLS.CertFile, "oracle-tls-cert-file", getEnv("ORACLE_TLS_CERT_FILE", ""), "Client certificate file")
	fs.StringVar(&cfg.ClientTLS.KeyFile, "oracle-tls-key-file", getEnv("ORACLE_TLS_KEY_FILE", ""), "Client private key file")
	fs.StringVar(&cfg.ClientTLS.CAFile, "oracle-tls-ca-file", getEnv("ORACLE_TLS_CA_FILE", ""), "CA file for verifying the model service")

	fs.Float64Var(&cfg.ClimatologyWeight, "climatology-weight", getEnvFloat("CLIMATOLOGY_WEIGHT", ensemble.DefaultClimatologyWeight), "Ensemble climatology weight")
	fs.Float64Var(&cfg.OracleWeight, "oracle-weight", getEnvFloat("ORACLE_WEIGHT", ensemble.DefaultOracleWeight), "Ensemble oracle weight")
	fs.StringVar(&cfg.Region, "region", getEnv("REGION", regional.Global), "Region for the live ensemble")
	fs.BoolVar(&cfg.BuildClimatology, "build-climatology", getEnvBool("BUILD_CLIMATOLOGY", false), "Build climatology tables at startup")
	fs.IntVar(&cfg.ClimatologyFrom, "climatology-from", getEnvInt("CLIMATOLOGY_FROM", 2015), "First training year")
	fs.IntVar(&cfg.ClimatologyTo, "climatology-to", getEnvInt("CLIMATOLOGY_TO", 2022), "Last training year")

	fs.Float64Var(&cfg.Threshold, "threshold", getEnvFloat("THRESHOLD", backtest.DefaultThreshold), "Default storm threshold (0-100)")
	fs.DurationVar(&cfg.Stride, "stride", getEnvDuration("STRIDE", backtest.DefaultStride), "Default backtest stride")
	fs.DurationVar(&cfg.Horizon, "horizon", getEnvDuration("HORIZON", backtest.DefaultHorizon), "Default backtest horizon")
	fs.DurationVar(&cfg.Tolerance, "tolerance", getEnvDuration("TOLERANCE", backtest.DefaultTolerance), "Default outcome tolerance")
	fs.StringVar(&cfg.Policy, "match-policy", getEnv("MATCH_POLICY", string(backtest.MatchNearest)), "Outcome match policy: nearest or interpolate")
	fs.IntVar(&cfg.Workers, "workers", getEnvInt("WORKERS", 4), "Backtest tick workers")

	fs.BoolVar(&cfg.Live, "live", getEnvBool("LIVE", false), "Run the live forecast loop")
	fs.StringVar(&cfg.Feed, "feed", getEnv("FEED", "store"), "Live feed: http or store")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 15*time.Minute), "Live loop interval")

	fs.BoolVar(&cfg.Publish, "publish", getEnvBool("PUBLISH", false), "Publish storm events and live forecasts to Kafka")
	brokers := fs.String("kafka-brokers", getEnv("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka brokers")
	fs.StringVar(&cfg.StormTopic, "storm-topic", getEnv("STORM_TOPIC", "stormcast.storms"), "Kafka topic for storm events")
	fs.StringVar(&cfg.ForecastTopic, "forecast-topic", getEnv("FORECAST_TOPIC", "stormcast.forecasts"), "Kafka topic for live forecasts")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.KafkaBrokers = splitList(*brokers)
	cfg.FeedConfig = parsePrefixed("FEED_")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	if c.Measurements != "memory" && c.Measurements != "clickhouse" {
		return fmt.Errorf("invalid measurements %q (must be memory or clickhouse)", c.Measurements)
	}
	if c.Oracle != "trend" && c.Oracle != "http" {
		return fmt.Errorf("invalid oracle %q (must be trend or http)", c.Oracle)
	}
	if c.Oracle == "http" && c.OracleURL == "" {
		return errors.New("oracle-url is required when oracle=http")
	}
	if math.Abs(c.ClimatologyWeight+c.OracleWeight-1) > 1e-9 {
		return fmt.Errorf("climatology and oracle weights must sum to 1, got %v", c.ClimatologyWeight+c.OracleWeight)
	}
	if _, ok := regional.Lookup(c.Region); !ok {
		return fmt.Errorf("unknown region %q", c.Region)
	}
	if c.ClimatologyFrom > c.ClimatologyTo {
		return fmt.Errorf("climatology-from (%d) after climatology-to (%d)", c.ClimatologyFrom, c.ClimatologyTo)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold must be 0-100, got %v", c.Threshold)
	}
	if c.Stride <= 0 || c.Horizon <= 0 || c.Tolerance <= 0 {
		return errors.New("stride, horizon and tolerance must be > 0")
	}
	if _, err := backtest.ParseMatchPolicy(c.Policy); err != nil {
		return err
	}
	if c.Live {
		if c.Interval <= 0 {
			return errors.New("interval must be > 0")
		}
		if c.Feed != "http" && c.Feed != "store" {
			return fmt.Errorf("invalid feed %q (must be http or store)", c.Feed)
		}
	}
	if c.Publish {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("kafka-brokers is required when publishing")
		}
		if c.StormTopic == "" || c.ForecastTopic == "" {
			return errors.New("storm-topic and forecast-topic are required when publishing")
		}
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.ClientTLS.Validate()
}

// Years returns the climatology training years.
func (c *Config) Years() []int {
	var out []int
	for y := c.ClimatologyFrom; y <= c.ClimatologyTo; y++ {
		out = append(out, y)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePrefixed collects prefix-ed environment variables, converting the
// remainder of each name to lowerCamelCase.
func parsePrefixed(prefix string) map[string]string {
	config := make(map[string]string)
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		config[toLowerCamelCase(key[len(prefix):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
