package measurement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"
)

// parquetRow is the columnar layout for measurement archives.
// Timestamps are Unix seconds.
type parquetRow struct {
	Timestamp            int64    `parquet:"timestamp"`
	Kp                   float64  `parquet:"kp_index"`
	Dst                  float64  `parquet:"dst_index"`
	SolarWindSpeed       float64  `parquet:"solar_wind_speed"`
	SolarWindDensity     float64  `parquet:"solar_wind_density"`
	SolarWindTemperature *float64 `parquet:"solar_wind_temperature,optional"`
	ImfBz                float64  `parquet:"imf_bz"`
	F107                 float64  `parquet:"f107_flux"`
	TecMean              float64  `parquet:"tec_mean"`
	TecStd               float64  `parquet:"tec_std"`
	TecMax               *float64 `parquet:"tec_max,optional"`
	TecMin               *float64 `parquet:"tec_min,optional"`
	StormProbability     *float64 `parquet:"storm_probability,optional"`
	RiskLevel            *int32   `parquet:"risk_level,optional"`
}

// ReadFile loads measurements from a CSV (plain, .gz or .zst) or Parquet file,
// chosen by extension. The result is sorted ascending.
func ReadFile(path string) ([]Measurement, error) {
	if strings.HasSuffix(path, ".parquet") {
		return ReadParquet(path)
	}
	return ReadCSV(path)
}

// ReadParquet loads measurements from a Parquet file.
func ReadParquet(path string) ([]Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet open %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[parquetRow](pf)
	defer reader.Close()

	out := make([]Measurement, 0, reader.NumRows())
	buf := make([]parquetRow, 1000)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			out = append(out, fromParquet(buf[i]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parquet read %s: %w", path, err)
		}
		if n == 0 {
			break
		}
	}

	SortByTime(out)
	return out, nil
}

// WriteParquet writes measurements to a Parquet archive.
func WriteParquet(path string, ms []Measurement) error {
	rows := make([]parquetRow, len(ms))
	for i, m := range ms {
		rows[i] = toParquet(m)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("parquet write %s: %w", path, err)
	}
	return nil
}

// ReadCSV loads measurements from a CSV file with a header row.
// Files ending in .gz are decompressed with pgzip, .zst with zstd.
func ReadCSV(path string) ([]Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	ms, err := DecodeCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ms, nil
}

// DecodeCSV parses CSV rows keyed by header names. The timestamp, kp_index
// and tec_mean columns are required; an empty optional cell stays nil.
func DecodeCSV(r io.Reader) ([]Measurement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"timestamp", "kp_index", "tec_mean"} {
		if _, ok := idx[req]; !ok {
			return nil, fmt.Errorf("missing required column %q", req)
		}
	}

	var out []Measurement
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		p := rowParser{rec: rec, idx: idx}
		ts, err := parseTimestamp(p.cell("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		m := Measurement{
			Timestamp:            ts,
			Kp:                   p.float("kp_index"),
			Dst:                  p.float("dst_index"),
			SolarWindSpeed:       p.float("solar_wind_speed"),
			SolarWindDensity:     p.float("solar_wind_density"),
			SolarWindTemperature: p.optional("solar_wind_temperature"),
			ImfBz:                p.float("imf_bz"),
			F107:                 p.float("f107_flux"),
			TecMean:              p.float("tec_mean"),
			TecStd:               p.float("tec_std"),
			TecMax:               p.optional("tec_max"),
			TecMin:               p.optional("tec_min"),
			StormProbability:     p.optional("storm_probability"),
		}
		if v := p.optional("risk_level"); v != nil {
			m.RiskLevel = Int(int(*v))
		}
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, p.err)
		}
		out = append(out, m)
	}

	SortByTime(out)
	return out, nil
}

type rowParser struct {
	rec []string
	idx map[string]int
	err error
}

func (p *rowParser) cell(name string) string {
	i, ok := p.idx[name]
	if !ok || i >= len(p.rec) {
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *rowParser) float(name string) float64 {
	v := p.optional(name)
	if v == nil {
		return 0
	}
	return *v
}

func (p *rowParser) optional(name string) *float64 {
	s := p.cell(name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("column %s: %w", name, err)
		}
		return nil
	}
	return &v
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func toParquet(m Measurement) parquetRow {
	r := parquetRow{
		Timestamp:            m.Timestamp.Unix(),
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

func fromParquet(r parquetRow) Measurement {
	m := Measurement{
		Timestamp:            time.Unix(r.Timestamp, 0).UTC(),
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
		m.RiskLevel = Int(int(*r.RiskLevel))
	}
	return m
}
