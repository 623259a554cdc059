package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/events"
	"github.com/HatiCode/stormcast/pkg/impact"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/storage"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// rows builds 120 hourly rows with kp 3, TEC 10 and 20% storm probability,
// plus a six-hour Kp 6 storm at hours 30-35.
func rows() []measurement.Measurement {
	out := make([]measurement.Measurement, 0, 120)
	for h := range 120 {
		kp := 3.0
		if h >= 30 && h < 36 {
			kp = 6
		}
		out = append(out, measurement.Measurement{
			Timestamp:        base.Add(time.Duration(h) * time.Hour),
			Kp:               kp,
			TecMean:          10,
			TecStd:           2,
			SolarWindSpeed:   400,
			F107:             100,
			StormProbability: measurement.Float(20),
		})
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StormEvent
}

func (p *recordingPublisher) PublishEvents(_ context.Context, evts []events.StormEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) PublishForecast(context.Context, ensemble.Forecast) error { return nil }
func (p *recordingPublisher) Close() error                                           { return nil }

type fixture struct {
	router    *mux.Router
	snapshots *storage.MemoryStore
	clock     *clockwork.FakeClock
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(base.Add(120 * time.Hour))
	store := measurement.NewMemoryStore(rows()...)
	snapshots := storage.NewMemoryStore()
	pub := &recordingPublisher{}

	f := &fixture{snapshots: snapshots, clock: clock, publisher: pub}
	f.router = SetupRoutes(Deps{
		Snapshots:   snapshots,
		Runner:      backtest.NewRunner(store, oracle.NewTrendOracle(), logger),
		Events:      events.NewService(store, clock, logger),
		Climatology: climatology.NewService(store, clock, logger),
		Publisher:   pub,
		Defaults:    backtest.NewParams(time.Time{}, time.Time{}),
		StaleAfter:  30 * time.Minute,
		Clock:       clock,
		Logger:      logger,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "")

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestCurrentForecast(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodGet, "/forecast/current", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404 before the first live tick", w.Code)
	}

	snap, err := storage.NewSnapshot(storage.KindForecast, storage.LatestKey, f.clock.Now(),
		ensemble.Forecast{Probability24h: 0.35, Provenance: ensemble.ProvenanceEnsemble})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.snapshots.Put(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/forecast/current", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if w.Header().Get(StaleHeader) != "" {
		t.Error("fresh snapshot should not be stale")
	}
	var got ensemble.Forecast
	decode(t, w, &got)
	if got.Probability24h != 0.35 {
		t.Errorf("Probability24h = %v, want 0.35", got.Probability24h)
	}

	f.clock.Advance(time.Hour)
	w = f.do(t, http.MethodGet, "/forecast/current", "")
	if w.Header().Get(StaleHeader) != "true" {
		t.Errorf("%s header missing on an hour-old snapshot", StaleHeader)
	}
}

func TestBacktest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/backtest?start=2024-03-02T00:00:00Z&end=2024-03-04T00:00:00Z&threshold=30", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var res backtest.Result
	decode(t, w, &res)
	if res.Metadata.TotalPredictions == 0 || res.Metadata.Threshold != 30 {
		t.Errorf("unexpected metadata: %+v", res.Metadata)
	}
	if res.Metrics.Total != res.Metadata.TotalPredictions {
		t.Errorf("metrics total %d != predictions %d", res.Metrics.Total, res.Metadata.TotalPredictions)
	}

	for _, id := range []string{res.Metadata.RunID, storage.LatestKey} {
		if w := f.do(t, http.MethodGet, "/backtest/runs/"+id, ""); w.Code != http.StatusOK {
			t.Errorf("stored run %q: status %d", id, w.Code)
		}
	}
}

func TestBacktest_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing start", "/backtest?end=2024-03-04", http.StatusBadRequest},
		{"bad date", "/backtest?start=yesterday&end=2024-03-04", http.StatusBadRequest},
		{"start after end", "/backtest?start=2024-03-04&end=2024-03-02", http.StatusBadRequest},
		{"bad policy", "/backtest?start=2024-03-02&end=2024-03-04&policy=latest", http.StatusBadRequest},
		{"no data", "/backtest?start=2023-01-02&end=2023-01-04", http.StatusUnprocessableEntity},
		{"unknown run", "/backtest/runs/does-not-exist", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.target, "")
			if w.Code != tt.want {
				t.Errorf("status code = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("body %q is not an error object", w.Body.String())
			}
		})
	}
}

func TestBacktestChart(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/backtest/chart?start=2024-03-02&end=2024-03-04&stride=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Predicted") {
		t.Error("chart is missing the predicted series")
	}
}

func TestOptimize(t *testing.T) {
	f := newFixture(t)

	pred := make([]float64, 0, 60)
	act := make([]float64, 0, 60)
	for i := range 60 {
		if i%3 == 0 {
			pred, act = append(pred, 75), append(act, 80)
		} else {
			pred, act = append(pred, 15), append(act, 5)
		}
	}
	body, _ := json.Marshal(map[string]any{"predictions": pred, "actuals": act, "method": "f1"})

	w := f.do(t, http.MethodPost, "/optimize", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var res struct {
		OptimalThreshold float64 `json:"optimal_threshold"`
		Method           string  `json:"method"`
	}
	decode(t, w, &res)
	if res.Method != "f1" || res.OptimalThreshold < 15 || res.OptimalThreshold > 75 {
		t.Errorf("unexpected result: %+v", res)
	}

	if w := f.do(t, http.MethodPost, "/optimize", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: status %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/optimize", `{"predictions":[1,2],"actuals":[1,2],"method":"auc"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown method: status %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/optimize", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /optimize: status %d, want 405", w.Code)
	}
}

func TestStorms(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/storms?start=2024-03-01&end=2024-03-05&publish=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var resp stormsResponse
	decode(t, w, &resp)
	if resp.Count != 1 || len(resp.Storms) != 1 {
		t.Fatalf("expected one storm, got %+v", resp)
	}
	if resp.Storms[0].ID != "storm_20240302_0600" || resp.Storms[0].DurationHours != 6 {
		t.Errorf("unexpected storm: %+v", resp.Storms[0])
	}
	if !resp.Published || len(f.publisher.events) != 1 {
		t.Errorf("storm was not published: %+v", f.publisher.events)
	}

	if w := f.do(t, http.MethodGet, "/storms?start=2024-03-01&end=2024-03-05&signal=dst", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad signal: status %d, want 400", w.Code)
	}
}

func TestStormCatalog(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/storms/catalog?days=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var c events.Catalog
	decode(t, w, &c)
	if c.StormCount != 1 || c.TotalStormHours != 6 {
		t.Errorf("unexpected catalog: %+v", c)
	}

	if w := f.do(t, http.MethodGet, "/storms/catalog?days=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("days=0: status %d, want 400", w.Code)
	}
}

func TestClimatology(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/climatology/global?date=2024-03-02&kp=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var got map[string]any
	decode(t, w, &got)
	if got["built"] != false || got["tec"] != 12.74 {
		t.Errorf("unbuilt lookup should return the global baseline: %v", got)
	}

	w = f.do(t, http.MethodPost, "/climatology/build?from=2024&to=2024", "")
	if w.Code != http.StatusOK {
		t.Fatalf("build: status code = %d, body %s", w.Code, w.Body.String())
	}
	if _, found, _ := f.snapshots.GetLatest(context.Background(), storage.KindClimatology, storage.LatestKey); !found {
		t.Error("climatology summary was not stored")
	}

	w = f.do(t, http.MethodGet, "/climatology/global?date=2024-03-02&kp=3", "")
	decode(t, w, &got)
	if got["built"] != true {
		t.Errorf("lookup after build = %v, want built", got)
	}
	if tec, _ := got["tec"].(float64); tec <= 0 || tec > 12 {
		t.Errorf("built TEC = %v, want close to the observed 10", got["tec"])
	}

	w = f.do(t, http.MethodGet, "/climatology/global/forecast?date=2024-03-01&days=3", "")
	var fc map[string][]climatology.DayForecast
	decode(t, w, &fc)
	if len(fc["global"]) != 3 {
		t.Errorf("forecast = %v, want 3 days", fc)
	}

	if w := f.do(t, http.MethodGet, "/climatology/compare?date=2024-03-02", ""); w.Code != http.StatusOK {
		t.Errorf("compare: status %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/climatology/global/evolution?hours=6&interval=2", ""); w.Code != http.StatusOK {
		t.Errorf("evolution: status %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/climatology/arctic", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown region: status %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/climatology/build?from=2023&to=2023", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("build without data: status %d, want 422", w.Code)
	}
}

func TestRegionalCurrent(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/regional/current?kp=6&sw_speed=700", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var rf climatology.RegionalForecast
	decode(t, w, &rf)
	if len(rf.Regions) != 5 || rf.Global.Kp != 6 {
		t.Errorf("unexpected regional forecast: %+v", rf)
	}
}

func TestRegionalBacktest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/regional/backtest?start=2024-03-02&end=2024-03-04&interval=12", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var cmp backtest.RegionalComparison
	decode(t, w, &cmp)
	if cmp.Points == 0 || len(cmp.Comparison) != 5 {
		t.Errorf("unexpected comparison: points %d, regions %d", cmp.Points, len(cmp.Comparison))
	}
}

func TestImpact(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodGet, "/impact", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404 without a live forecast", w.Code)
	}

	w := f.do(t, http.MethodGet, "/impact?p24=0.8&p48=0.6&kp=7&tec=40&lat=65", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	var a impact.Assessment
	decode(t, w, &a)
	if a.Overall.Level != impact.LevelHigh || a.PowerGrid.Level != impact.LevelSevere {
		t.Errorf("unexpected assessment: overall %+v, power grid %+v", a.Overall, a.PowerGrid)
	}

	snap, err := storage.NewSnapshot(storage.KindForecast, storage.LatestKey, f.clock.Now(),
		ensemble.Forecast{Probability24h: 0.35, Probability48h: 0.4, ValueForecast: []float64{20, 21}})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.snapshots.Put(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	w = f.do(t, http.MethodGet, "/impact?kp=4", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
	}
	a = impact.Assessment{}
	decode(t, w, &a)
	if a.Inputs.Probability24h != 35 || a.Inputs.Probability48h != 40 || a.Inputs.TecMean != 20 || a.Inputs.Latitude != impact.DefaultLatitude {
		t.Errorf("inputs from live forecast = %+v", a.Inputs)
	}

	for _, target := range []string{"/impact?p24=80", "/impact?p24=0.5&lat=north", "/impact?p24=0.5&kp=12"} {
		if w := f.do(t, http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", target, w.Code)
		}
	}
}
