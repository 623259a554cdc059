// Package oracles builds the configured forecast oracle.
package oracles

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/stormcast/cmd/stormcast/config"
	"github.com/HatiCode/stormcast/pkg/httpx"
	"github.com/HatiCode/stormcast/pkg/oracle"
)

// New creates the oracle selected by cfg.Oracle. The http oracle gets a
// client with cfg.OracleTimeout and optional mTLS.
func New(cfg *config.Config, logger *slog.Logger) (oracle.Oracle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := oracle.Options{URL: cfg.OracleURL}
	if cfg.Oracle == "http" {
		client, err := httpx.NewClient(cfg.ClientTLS, cfg.OracleTimeout)
		if err != nil {
			return nil, fmt.Errorf("oracle client: %w", err)
		}
		opts.Client = client
		logger.Info("initializing http oracle", "url", cfg.OracleURL, "mtls", cfg.ClientTLS.Enabled)
	} else {
		logger.Info("initializing trend oracle")
	}

	o, err := oracle.New(cfg.Oracle, opts)
	if err != nil {
		return nil, fmt.Errorf("create oracle: %w", err)
	}
	return o, nil
}
