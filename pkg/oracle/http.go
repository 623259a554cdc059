package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ResponsePaths are gjson paths into the model service response.
type ResponsePaths struct {
	Probability24h string
	Probability48h string
	Hourly         string
	ValueForecast  string
	Uncertainty    string
	Version        string
}

// DefaultResponsePaths matches the field names of the reference model service.
func DefaultResponsePaths() ResponsePaths {
	return ResponsePaths{
		Probability24h: "storm_probability_24h",
		Probability48h: "storm_probability_48h",
		Hourly:         "hourly_probabilities",
		ValueForecast:  "tec_forecast_24h",
		Uncertainty:    "uncertainty",
		Version:        "model_version",
	}
}

// HTTPOracle delegates predictions to an externally hosted model.
// Any service works as long as it accepts the feature request below and
// answers with the fields named by Paths.
type HTTPOracle struct {
	endpoint string
	paths    ResponsePaths
	client   *http.Client
}

type predictRequest struct {
	Now            string      `json:"now"`
	HorizonHours   int         `json:"horizon_hours"`
	FeatureVersion string      `json:"feature_version"`
	Features       [][]float64 `json:"features"`
}

// NewHTTPOracle creates an oracle client. A nil client gets a default with a
// 30 second timeout.
func NewHTTPOracle(endpoint string, paths ResponsePaths, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}

	def := DefaultResponsePaths()
	if paths.Probability24h == "" {
		paths.Probability24h = def.Probability24h
	}
	if paths.Probability48h == "" {
		paths.Probability48h = def.Probability48h
	}
	if paths.Hourly == "" {
		paths.Hourly = def.Hourly
	}
	if paths.ValueForecast == "" {
		paths.ValueForecast = def.ValueForecast
	}
	if paths.Uncertainty == "" {
		paths.Uncertainty = def.Uncertainty
	}
	if paths.Version == "" {
		paths.Version = def.Version
	}

	return &HTTPOracle{endpoint: endpoint, paths: paths, client: client}
}

func (o *HTTPOracle) Name() string { return "http" }

// Predict posts the v1 feature matrix and parses the response.
// The request carries the window end as "now" so identical windows
// produce identical requests.
func (o *HTTPOracle) Predict(ctx context.Context, w Window) (ForecastResult, error) {
	if w.Len() != WindowSize {
		return ForecastResult{}, errWindowSize(w.Len())
	}

	body, err := json.Marshal(predictRequest{
		Now:            w.End().UTC().Format(time.RFC3339),
		HorizonHours:   WindowSize,
		FeatureVersion: FeatureVersionV1,
		Features:       w.FeaturesV1(),
	})
	if err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ForecastResult{}, fmt.Errorf("http oracle: http %d: %s", resp.StatusCode, string(b))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return ForecastResult{}, fmt.Errorf("http oracle: response is not valid JSON")
	}

	res, err := o.parse(raw)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: %w", err)
	}
	if err := res.Validate(); err != nil {
		return ForecastResult{}, fmt.Errorf("http oracle: %w", err)
	}
	return res, nil
}

func (o *HTTPOracle) parse(raw []byte) (ForecastResult, error) {
	results := gjson.GetManyBytes(raw,
		o.paths.Probability24h,
		o.paths.Probability48h,
		o.paths.Hourly,
		o.paths.ValueForecast,
		o.paths.Uncertainty,
		o.paths.Version,
	)
	p24, p48, hourly, values, unc, version := results[0], results[1], results[2], results[3], results[4], results[5]

	if !p24.Exists() {
		return ForecastResult{}, fmt.Errorf("path %q not found in response", o.paths.Probability24h)
	}
	if !hourly.IsArray() {
		return ForecastResult{}, fmt.Errorf("path %q is not an array", o.paths.Hourly)
	}
	if !values.IsArray() {
		return ForecastResult{}, fmt.Errorf("path %q is not an array", o.paths.ValueForecast)
	}

	res := ForecastResult{
		Probability24h: p24.Float(),
		Probability48h: p24.Float(),
		Hourly:         floats(hourly),
		ValueForecast:  floats(values),
		Uncertainty:    unc.Float(),
		Version:        version.String(),
	}
	if p48.Exists() {
		res.Probability48h = p48.Float()
	}
	if res.Version == "" {
		res.Version = "unknown"
	}
	return res, nil
}

func floats(r gjson.Result) []float64 {
	arr := r.Array()
	out := make([]float64, len(arr))
	for i, v := range arr {
		out[i] = v.Float()
	}
	return out
}
