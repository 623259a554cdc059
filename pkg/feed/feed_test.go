package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/stormcast/pkg/measurement"
)

const sampleResponse = `{
  "data": [
    {"timestamp": "2024-05-10T18:20:00Z", "kp_index": 8.7, "dst_index": -412, "solar_wind_speed": 750, "imf_bz": -40, "f107_flux": 230, "tec_mean": 31.5, "tec_std": 6},
    {"timestamp": "2024-05-10T16:00:00Z", "kp_index": 6.3, "dst_index": -120, "solar_wind_speed": null, "imf_bz": -12, "f107_flux": 230, "tec_mean": 24.1, "tec_std": 4},
    {"timestamp": "2024-05-10T17:00:00Z", "kp_index": 7.7, "dst_index": -250, "solar_wind_speed": 690, "imf_bz": -25, "f107_flux": 230, "tec_mean": null, "tec_std": 5}
  ]
}`

func serve(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPFeed_Collect(t *testing.T) {
	server := serve(t, sampleResponse, func(r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json header")
		}
	})

	f := &HTTPFeed{URL: server.URL, Paths: DefaultPaths()}
	ms, err := f.Collect(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ms))
	}

	wantHours := []int{16, 17, 18}
	for i, m := range ms {
		if m.Timestamp.Hour() != wantHours[i] || m.Timestamp.Minute() != 0 {
			t.Errorf("row %d: timestamp %v, want hour %d truncated", i, m.Timestamp, wantHours[i])
		}
	}

	if ms[2].Kp != 8.7 || ms[2].Dst != -412 || ms[2].ImfBz != -40 || ms[2].TecMean != 31.5 {
		t.Errorf("row 2 fields not mapped: %+v", ms[2])
	}
	if ms[0].SolarWindSpeed != measurement.SpeedFill {
		t.Errorf("null speed should be the fill value, got %v", ms[0].SolarWindSpeed)
	}
	if ms[1].ValidTec() {
		t.Errorf("null TEC should be invalid, got %v", ms[1].TecMean)
	}
}

func TestHTTPFeed_DuplicateHourKeepsLater(t *testing.T) {
	body := `{"data": [
      {"timestamp": "2024-05-10T10:05:00Z", "kp_index": 2},
      {"timestamp": "2024-05-10T10:45:00Z", "kp_index": 4}
    ]}`
	f := &HTTPFeed{URL: serve(t, body, nil).URL, Paths: DefaultPaths()}

	ms, err := f.Collect(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(ms) != 1 || ms[0].Kp != 4 {
		t.Fatalf("expected one row with kp 4, got %+v", ms)
	}
	if ms[0].ValidBz() {
		t.Error("missing Bz column should be a sentinel")
	}
}

func TestHTTPFeed_POSTTemplate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))
	server := serve(t, sampleResponse, func(r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		want := `{"from":"2024-05-10T00:00:00Z","hours":86400}`
		if string(b) != want {
			t.Errorf("body = %s, want %s", b, want)
		}
	})

	f := &HTTPFeed{
		URL:          server.URL,
		Method:       http.MethodPost,
		Headers:      map[string]string{"Authorization": "Bearer {{.Token}}"},
		Body:         `{"from":"{{.StartRFC3339}}","hours":{{.WindowSeconds}}}`,
		Paths:        DefaultPaths(),
		TemplateVars: map[string]string{"Token": "secret"},
		Clock:        clock,
	}
	if _, err := f.Collect(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
}

func TestHTTPFeed_UnixTimestamps(t *testing.T) {
	body := `{"rows": {"t": [1715364000, 1715367600], "kp": [3, 4]}}`
	f := &HTTPFeed{
		URL:             serve(t, body, nil).URL,
		Paths:           Paths{Timestamp: "rows.t", Kp: "rows.kp"},
		TimestampFormat: "unix",
	}
	ms, err := f.Collect(context.Background(), 2*time.Hour)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(ms) != 2 || !ms[0].Timestamp.Equal(time.Unix(1715364000, 0)) {
		t.Fatalf("unexpected rows: %+v", ms)
	}
}

func TestHTTPFeed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		paths   Paths
		wantErr string
	}{
		{"missing timestamps", `{"data": []}`, http.StatusOK, Paths{Timestamp: "x.#.t", Kp: "data.#.kp_index"}, "timestamp path"},
		{"missing kp", `{"data": [{"timestamp": "2024-05-10T10:00:00Z"}]}`, http.StatusOK, Paths{Timestamp: "data.#.timestamp", Kp: "nope"}, "kp path"},
		{"length mismatch", `{"t": ["2024-05-10T10:00:00Z"], "kp": [1, 2]}`, http.StatusOK, Paths{Timestamp: "t", Kp: "kp"}, "count"},
		{"bad timestamp", `{"t": ["yesterday"], "kp": [1]}`, http.StatusOK, Paths{Timestamp: "t", Kp: "kp"}, "parse timestamp"},
		{"http error", `oops`, http.StatusBadGateway, DefaultPaths(), "http status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			f := &HTTPFeed{URL: server.URL, Paths: tt.paths}
			_, err := f.Collect(context.Background(), time.Hour)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Collect error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPFeed_ContextCancellation(t *testing.T) {
	server := serve(t, sampleResponse, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &HTTPFeed{URL: server.URL, Paths: DefaultPaths()}
	if _, err := f.Collect(ctx, time.Hour); err == nil {
		t.Error("expected error with canceled context")
	}
}

func TestStoreFeed(t *testing.T) {
	base := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	store := measurement.NewMemoryStore()
	for h := range 30 {
		store.Upsert(measurement.Measurement{Timestamp: base.Add(time.Duration(h) * time.Hour), Kp: 2})
	}

	f := &StoreFeed{Store: store}
	ms, err := f.Collect(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(ms) != 24 {
		t.Fatalf("expected 24 rows, got %d", len(ms))
	}
	if !ms[23].Timestamp.Equal(base.Add(29 * time.Hour)) {
		t.Errorf("last row = %v, want the newest", ms[23].Timestamp)
	}
}

func TestNew(t *testing.T) {
	store := measurement.NewMemoryStore()

	tests := []struct {
		name    string
		kind    string
		config  map[string]string
		store   measurement.Store
		wantErr bool
		want    string
	}{
		{name: "http defaults", kind: "http", config: map[string]string{"url": "http://feed"}, want: "http"},
		{name: "http overrides", kind: "http", config: map[string]string{"url": "http://feed", "kpPath": "k", "headers": `{"X-Key":"v"}`}, want: "http"},
		{name: "http missing url", kind: "http", config: map[string]string{}, wantErr: true},
		{name: "http blank kp path", kind: "http", config: map[string]string{"url": "http://feed", "kpPath": ""}, wantErr: true},
		{name: "http bad headers", kind: "http", config: map[string]string{"url": "http://feed", "headers": "{"}, wantErr: true},
		{name: "store", kind: "store", store: store, want: "store"},
		{name: "store without store", kind: "store", wantErr: true},
		{name: "unknown", kind: "prometheus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.kind, tt.config, tt.store)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", f.Name(), tt.want)
			}
		})
	}

	f, _ := New("http", map[string]string{"url": "http://feed", "kpPath": "k"}, nil)
	if got := f.(*HTTPFeed).Paths.Kp; got != "k" {
		t.Errorf("kp path override = %q", got)
	}
}
