package stores

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HatiCode/stormcast/cmd/stormcast/config"
	"github.com/HatiCode/stormcast/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSnapshots_Memory(t *testing.T) {
	cfg := &config.Config{Storage: "memory", RedisTTL: time.Hour}
	s, closeFn, err := Snapshots(context.Background(), cfg, discard)
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	defer closeFn()

	snap, err := storage.NewSnapshot(storage.KindForecast, storage.LatestKey, time.Now(), map[string]float64{"p": 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, found, err := s.GetLatest(context.Background(), storage.KindForecast, storage.LatestKey); err != nil || !found {
		t.Errorf("GetLatest() found = %v, err = %v", found, err)
	}
}

func TestSnapshots_Unknown(t *testing.T) {
	if _, _, err := Snapshots(context.Background(), &config.Config{Storage: "etcd"}, discard); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestMeasurements_MemoryWithImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	csv := "timestamp,kp_index,dst_index,solar_wind_speed,imf_bz,f107_flux,tec_mean,tec_std\n" +
		"2024-05-10T00:00:00Z,3.0,-20,410,-2.1,175,18.4,3.1\n" +
		"2024-05-10T01:00:00Z,5.7,-90,650,-9.8,178,25.0,4.4\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Measurements: "memory", ImportFile: path}
	s, closeFn, err := Measurements(context.Background(), cfg, discard)
	if err != nil {
		t.Fatalf("Measurements() error = %v", err)
	}
	defer closeFn()

	ms, err := s.ReadLatest(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 {
		t.Fatalf("got %d rows, want 2", len(ms))
	}
	if ms[1].Kp != 5.7 {
		t.Errorf("latest Kp = %v, want 5.7", ms[1].Kp)
	}
}

func TestMeasurements_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"unknown backend", &config.Config{Measurements: "sqlite"}},
		{"missing import file", &config.Config{Measurements: "memory", ImportFile: "/nonexistent/rows.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Measurements(context.Background(), tt.cfg, discard); err == nil {
				t.Error("expected error")
			}
		})
	}
}
