package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/stormcast/pkg/measurement"
)

// Paths are gjson paths selecting one array per field. Timestamp and Kp are
// required; an empty optional path marks the field missing for every row.
type Paths struct {
	Timestamp string
	Kp        string
	Dst       string
	Speed     string
	Density   string
	Bz        string
	F107      string
	TecMean   string
	TecStd    string
}

// DefaultPaths reads a {"data": [{...}]} document with snake_case fields.
func DefaultPaths() Paths {
	return Paths{
		Timestamp: "data.#.timestamp",
		Kp:        "data.#.kp_index",
		Dst:       "data.#.dst_index",
		Speed:     "data.#.solar_wind_speed",
		Density:   "data.#.solar_wind_density",
		Bz:        "data.#.imf_bz",
		F107:      "data.#.f107_flux",
		TecMean:   "data.#.tec_mean",
		TecStd:    "data.#.tec_std",
	}
}

// HTTPFeed calls a REST endpoint and maps the JSON response onto
// measurements.
//
// Body and header values are templates with the variables
// {{.WindowSeconds}}, {{.Start}}, {{.End}} (Unix seconds),
// {{.StartRFC3339}}, {{.EndRFC3339}} and any TemplateVars.
//
// Rows are truncated to the hour and sorted ascending; when two rows fall in
// the same hour the later one in the response wins. A missing TEC, Bz or
// speed value is stored as the corresponding fill sentinel so downstream
// validity checks drop it.
type HTTPFeed struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Paths   Paths

	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	HTTPClient   *http.Client
	TemplateVars map[string]string
	Clock        clockwork.Clock
}

func (h *HTTPFeed) Name() string { return "http" }

// Collect implements Feed.
func (h *HTTPFeed) Collect(ctx context.Context, window time.Duration) ([]measurement.Measurement, error) {
	if h.URL == "" {
		return nil, errors.New("http feed: URL is required")
	}
	if h.Paths.Timestamp == "" || h.Paths.Kp == "" {
		return nil, errors.New("http feed: timestamp and kp paths are required")
	}

	clock := h.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now().UTC().Truncate(time.Second)
	start := now.Add(-window)

	templateData := map[string]any{
		"WindowSeconds": int(window.Seconds()),
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	body, err := h.fetch(ctx, templateData)
	if err != nil {
		return nil, err
	}
	return h.parse(body)
}

func (h *HTTPFeed) fetch(ctx context.Context, templateData map[string]any) ([]byte, error) {
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(msg))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// column extracts one field; ok is false when the path is unset or absent.
type column struct {
	values []gjson.Result
	ok     bool
}

func (c column) float(i int, missing float64) float64 {
	if !c.ok || c.values[i].Type == gjson.Null {
		return missing
	}
	return c.values[i].Float()
}

func (h *HTTPFeed) parse(body []byte) ([]measurement.Measurement, error) {
	timestamps := gjson.GetBytes(body, h.Paths.Timestamp)
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.Paths.Timestamp)
	}
	kp := gjson.GetBytes(body, h.Paths.Kp)
	if !kp.Exists() {
		return nil, fmt.Errorf("kp path %q not found in response", h.Paths.Kp)
	}

	ts := timestamps.Array()
	n := len(ts)
	if n == 0 {
		return []measurement.Measurement{}, nil
	}

	get := func(name, path string) (column, error) {
		if path == "" {
			return column{}, nil
		}
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			return column{}, nil
		}
		arr := r.Array()
		if len(arr) == 0 {
			return column{}, nil
		}
		if len(arr) != n {
			return column{}, fmt.Errorf("%s count (%d) != timestamp count (%d)", name, len(arr), n)
		}
		return column{values: arr, ok: true}, nil
	}

	cols := make(map[string]column, 8)
	for name, path := range map[string]string{
		"kp":       h.Paths.Kp,
		"dst":      h.Paths.Dst,
		"speed":    h.Paths.Speed,
		"density":  h.Paths.Density,
		"bz":       h.Paths.Bz,
		"f107":     h.Paths.F107,
		"tec_mean": h.Paths.TecMean,
		"tec_std":  h.Paths.TecStd,
	} {
		c, err := get(name, path)
		if err != nil {
			return nil, err
		}
		cols[name] = c
	}

	byHour := make(map[int64]int, n)
	out := make([]measurement.Measurement, 0, n)
	for i := range ts {
		t, err := h.parseTimestamp(ts[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		m := measurement.Measurement{
			Timestamp:        t.UTC().Truncate(time.Hour),
			Kp:               cols["kp"].float(i, measurement.MaxKp+1),
			Dst:              cols["dst"].float(i, 0),
			SolarWindSpeed:   cols["speed"].float(i, measurement.SpeedFill),
			SolarWindDensity: cols["density"].float(i, 0),
			ImfBz:            cols["bz"].float(i, measurement.BzSentinel),
			F107:             cols["f107"].float(i, 0),
			TecMean:          cols["tec_mean"].float(i, measurement.TecFill),
			TecStd:           cols["tec_std"].float(i, 0),
		}
		if j, dup := byHour[m.Timestamp.Unix()]; dup {
			out[j] = m
			continue
		}
		byHour[m.Timestamp.Unix()] = len(out)
		out = append(out, m)
	}

	measurement.SortByTime(out)
	return out, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPFeed) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
