// Package storage keeps the latest generated report of each kind: live
// forecasts, backtest results, regional comparisons and climatology
// summaries. Payloads are opaque JSON so the store never imports the
// packages that produce them.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a family of snapshots.
type Kind string

const (
	KindForecast    Kind = "forecast"
	KindBacktest    Kind = "backtest"
	KindRegional    Kind = "regional"
	KindClimatology Kind = "climatology"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindForecast, KindBacktest, KindRegional, KindClimatology:
		return true
	}
	return false
}

// LatestKey is the key the live loop writes its current forecast under.
const LatestKey = "latest"

// Snapshot is one stored report.
type Snapshot struct {
	Kind        Kind            `json:"kind"`
	Key         string          `json:"key"`
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     json.RawMessage `json:"payload"`
}

// NewSnapshot marshals v into a snapshot payload.
func NewSnapshot(kind Kind, key string, generatedAt time.Time, v any) (Snapshot, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Snapshot{Kind: kind, Key: key, GeneratedAt: generatedAt, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (s Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", s.Kind, err)
	}
	return nil
}

// Store holds the latest snapshot per (kind, key).
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, kind Kind, key string) (Snapshot, bool, error)
}

// validate checks kind and key. Keys may contain letters, digits and
// _ . : - so run IDs and RFC 3339 timestamps can be used directly.
func validate(kind Kind, key string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown snapshot kind %q", kind)
	}
	if key == "" {
		return fmt.Errorf("snapshot key required")
	}
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == ':') {
			return fmt.Errorf("invalid snapshot key %q: only alphanumeric, hyphens, underscores, dots and colons allowed", key)
		}
	}
	return nil
}

func mapKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}
