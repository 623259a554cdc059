package measurement

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds connection settings for the historical store.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// ClickHouseStore reads hourly measurements from a ClickHouse table.
//
// The table uses ReplacingMergeTree ordered by timestamp, and reads use
// FINAL, so a timestamp is unique even when a feed re-delivers an hour.
type ClickHouseStore struct {
	conn  driver.Conn
	table string
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// chRow mirrors the table layout. Nullable columns scan into pointers.
type chRow struct {
	Timestamp            time.Time `ch:"timestamp"`
	Kp                   float64   `ch:"kp_index"`
	Dst                  float64   `ch:"dst_index"`
	SolarWindSpeed       float64   `ch:"solar_wind_speed"`
	SolarWindDensity     float64   `ch:"solar_wind_density"`
	SolarWindTemperature *float64  `ch:"solar_wind_temperature"`
	ImfBz                float64   `ch:"imf_bz"`
	F107                 float64   `ch:"f107_flux"`
	TecMean              float64   `ch:"tec_mean"`
	TecStd               float64   `ch:"tec_std"`
	TecMax               *float64  `ch:"tec_max"`
	TecMin               *float64  `ch:"tec_min"`
	StormProbability     *float64  `ch:"storm_probability"`
	RiskLevel            *int32    `ch:"risk_level"`
}

const columns = `timestamp, kp_index, dst_index, solar_wind_speed, solar_wind_density,
	solar_wind_temperature, imf_bz, f107_flux, tec_mean, tec_std, tec_max, tec_min,
	storm_probability, risk_level`

// OpenClickHouse connects to ClickHouse and verifies the connection.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("clickhouse address cannot be empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "historical_measurements"
	}
	if !identRegex.MatchString(cfg.Database) || !identRegex.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse identifier %q.%q", cfg.Database, cfg.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse at %s: %w", cfg.Addr, err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse at %s: %w", cfg.Addr, err)
	}

	return &ClickHouseStore{
		conn:  conn,
		table: cfg.Database + "." + cfg.Table,
	}, nil
}

// EnsureSchema creates the measurement table if it does not exist.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		timestamp              DateTime('UTC'),
		kp_index               Float64,
		dst_index              Float64,
		solar_wind_speed       Float64,
		solar_wind_density     Float64,
		solar_wind_temperature Nullable(Float64),
		imf_bz                 Float64,
		f107_flux              Float64,
		tec_mean               Float64,
		tec_std                Float64,
		tec_max                Nullable(Float64),
		tec_min                Nullable(Float64),
		storm_probability      Nullable(Float64),
		risk_level             Nullable(Int32)
	) ENGINE = ReplacingMergeTree
	PARTITION BY toYear(timestamp)
	ORDER BY timestamp`, s.table)

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert writes measurements in a single batch.
func (s *ClickHouseStore) Insert(ctx context.Context, ms []Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", s.table, columns))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range ms {
		r := toRow(m)
		if err := batch.Append(
			r.Timestamp, r.Kp, r.Dst, r.SolarWindSpeed, r.SolarWindDensity,
			r.SolarWindTemperature, r.ImfBz, r.F107, r.TecMean, r.TecStd,
			r.TecMax, r.TecMin, r.StormProbability, r.RiskLevel,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s: %w", m.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch of %d: %w", len(ms), err)
	}
	return nil
}

// Read implements Store.
func (s *ClickHouseStore) Read(ctx context.Context, start, end time.Time) ([]Measurement, error) {
	var rows []chRow
	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp", columns, s.table)
	if err := s.conn.Select(ctx, &rows, query, start.UTC(), end.UTC()); err != nil {
		return nil, fmt.Errorf("read %s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return fromRows(rows), nil
}

// ReadLatest implements Store.
func (s *ClickHouseStore) ReadLatest(ctx context.Context, n int) ([]Measurement, error) {
	if n <= 0 {
		return []Measurement{}, nil
	}

	var rows []chRow
	query := fmt.Sprintf("SELECT %s FROM %s FINAL ORDER BY timestamp DESC LIMIT ?", columns, s.table)
	if err := s.conn.Select(ctx, &rows, query, n); err != nil {
		return nil, fmt.Errorf("read latest %d: %w", n, err)
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return fromRows(rows), nil
}

// Count returns the number of distinct hours stored.
func (s *ClickHouseStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s FINAL", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

func toRow(m Measurement) chRow {
	r := chRow{
		Timestamp:            m.Timestamp.UTC().Truncate(time.Second),
		Kp:                   m.Kp,
		Dst:                  m.Dst,
		SolarWindSpeed:       m.SolarWindSpeed,
		SolarWindDensity:     m.SolarWindDensity,
		SolarWindTemperature: m.SolarWindTemperature,
		ImfBz:                m.ImfBz,
		F107:                 m.F107,
		TecMean:              m.TecMean,
		TecStd:               m.TecStd,
		TecMax:               m.TecMax,
		TecMin:               m.TecMin,
		StormProbability:     m.StormProbability,
	}
	if m.RiskLevel != nil {
		v := int32(*m.RiskLevel)
		r.RiskLevel = &v
	}
	return r
}

func fromRows(rows []chRow) []Measurement {
	out := make([]Measurement, len(rows))
	for i, r := range rows {
		out[i] = Measurement{
			Timestamp:            r.Timestamp.UTC(),
			Kp:                   r.Kp,
			Dst:                  r.Dst,
			SolarWindSpeed:       r.SolarWindSpeed,
			SolarWindDensity:     r.SolarWindDensity,
			SolarWindTemperature: r.SolarWindTemperature,
			ImfBz:                r.ImfBz,
			F107:                 r.F107,
			TecMean:              r.TecMean,
			TecStd:               r.TecStd,
			TecMax:               r.TecMax,
			TecMin:               r.TecMin,
			StormProbability:     r.StormProbability,
		}
		if r.RiskLevel != nil {
			v := int(*r.RiskLevel)
			out[i].RiskLevel = &v
		}
	}
	return out
}
