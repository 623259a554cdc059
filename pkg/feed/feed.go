// Package feed provides live data sources for the forecast loop. A feed
// returns the hourly measurements observed over a recent window, ascending
// and truncated to the hour.
//
// Available feeds:
//   - HTTPFeed  — any REST API with JSON responses, fields picked by gjson paths
//   - StoreFeed — replays the latest rows of a measurement store
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
)

// Feed collects recent measurements.
//
// Collect is synchronous and must respect context cancellation.
type Feed interface {
	Collect(ctx context.Context, window time.Duration) ([]measurement.Measurement, error)
	Name() string
}

// New creates a feed by kind from a generic configuration map.
//
// Supported kinds:
//   - "http":  requires url, timestampPath and kpPath
//   - "store": replays store (must be non-nil)
func New(kind string, config map[string]string, store measurement.Store) (Feed, error) {
	switch kind {
	case "http":
		return newHTTP(config)
	case "store":
		if store == nil {
			return nil, fmt.Errorf("store feed requires a measurement store")
		}
		return &StoreFeed{Store: store}, nil
	default:
		return nil, fmt.Errorf("unknown feed kind: %s (must be http or store)", kind)
	}
}

func newHTTP(config map[string]string) (Feed, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http feed requires 'url' config")
	}

	paths := DefaultPaths()
	overrides := map[string]*string{
		"timestampPath": &paths.Timestamp,
		"kpPath":        &paths.Kp,
		"dstPath":       &paths.Dst,
		"speedPath":     &paths.Speed,
		"densityPath":   &paths.Density,
		"bzPath":        &paths.Bz,
		"f107Path":      &paths.F107,
		"tecMeanPath":   &paths.TecMean,
		"tecStdPath":    &paths.TecStd,
	}
	for k, dst := range overrides {
		if v, ok := config[k]; ok {
			*dst = v
		}
	}
	if paths.Timestamp == "" || paths.Kp == "" {
		return nil, fmt.Errorf("http feed requires 'timestampPath' and 'kpPath' config")
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	timestampFormat := config["timestampFormat"]
	if timestampFormat == "" {
		timestampFormat = "rfc3339"
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	return &HTTPFeed{
		URL:             url,
		Method:          method,
		Headers:         headers,
		Body:            config["body"],
		Paths:           paths,
		TimestampFormat: timestampFormat,
		TemplateVars:    templateVars,
	}, nil
}
