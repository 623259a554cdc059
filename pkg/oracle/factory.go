package oracle

import (
	"fmt"
	"net/http"
)

// Options configures an oracle built by New.
type Options struct {
	// URL is the model service endpoint (http only).
	URL string

	// Paths overrides response field paths (http only).
	Paths ResponsePaths

	// Client is optional; used for mTLS or custom timeouts.
	Client *http.Client
}

// New creates an oracle by kind.
//
// Supported kinds:
//   - "trend": local deterministic extrapolation
//   - "http":  external model service
func New(kind string, opts Options) (Oracle, error) {
	switch kind {
	case "trend", "":
		return NewTrendOracle(), nil
	case "http":
		if opts.URL == "" {
			return nil, fmt.Errorf("http oracle requires a URL")
		}
		return NewHTTPOracle(opts.URL, opts.Paths, opts.Client), nil
	default:
		return nil, fmt.Errorf("unknown oracle kind: %s (must be trend or http)", kind)
	}
}
