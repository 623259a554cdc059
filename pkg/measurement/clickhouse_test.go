//go:build integration

package measurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupClickHouse starts a ClickHouse server and returns its native address.
func setupClickHouse(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.8-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_SKIP_USER_SETUP": "1",
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start clickhouse container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestClickHouseStore_RoundTrip(t *testing.T) {
	addr := setupClickHouse(t)
	ctx := context.Background()

	store, err := OpenClickHouse(ctx, ClickHouseConfig{Addr: addr, Table: "measurements_test"})
	if err != nil {
		t.Fatalf("OpenClickHouse: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	ms := hourly(48, 3)
	ms[10].StormProbability = Float(62)
	ms[10].RiskLevel = Int(3)
	if err := store.Insert(ctx, ms); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Re-delivered hour replaces the earlier row.
	if err := store.Insert(ctx, []Measurement{{Timestamp: ms[5].Timestamp, Kp: 8, TecMean: 40}}); err != nil {
		t.Fatalf("Insert duplicate: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 48 {
		t.Errorf("expected 48 distinct hours, got %d", n)
	}

	got, err := store.Read(ctx, t0.Add(5*time.Hour), t0.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(got))
	}
	if got[0].Kp != 8 {
		t.Errorf("expected replaced Kp 8, got %v", got[0].Kp)
	}
	if got[5].StormProbability == nil || *got[5].StormProbability != 62 {
		t.Errorf("expected storm probability 62, got %v", got[5].StormProbability)
	}
	if got[4].StormProbability != nil {
		t.Errorf("expected nil storm probability, got %v", *got[4].StormProbability)
	}

	latest, err := store.ReadLatest(ctx, 24)
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if len(latest) != 24 || !latest[23].Timestamp.Equal(t0.Add(47*time.Hour)) {
		t.Errorf("unexpected latest window: len=%d", len(latest))
	}
}

func TestOpenClickHouse_RejectsBadIdentifier(t *testing.T) {
	_, err := OpenClickHouse(context.Background(), ClickHouseConfig{Addr: "localhost:9000", Table: "x; DROP TABLE y"})
	if err == nil {
		t.Fatal("expected error for invalid table name")
	}
}
