package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestHTTPOracle_Predict_Success(t *testing.T) {
	w := testWindow(t, flatKp(3))

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.FeatureVersion != "v1" {
			t.Errorf("expected feature_version v1, got %q", req.FeatureVersion)
		}
		if len(req.Features) != WindowSize || len(req.Features[0]) != FeatureCount {
			t.Errorf("expected %dx%d features, got %dx%d", WindowSize, FeatureCount, len(req.Features), len(req.Features[0]))
		}
		if req.Now != "2024-05-10T23:00:00Z" {
			t.Errorf("expected now at window end, got %q", req.Now)
		}

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{
			"storm_probability_24h": 0.42,
			"storm_probability_48h": 0.55,
			"hourly_probabilities":  repeat(0.3, WindowSize),
			"tec_forecast_24h":      repeat(21.5, WindowSize),
			"uncertainty":           0.25,
			"model_version":         "v2.1",
		})
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, ResponsePaths{}, nil)
	res, err := o.Predict(context.Background(), w)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.Probability24h != 0.42 || res.Probability48h != 0.55 {
		t.Errorf("unexpected probabilities: %+v", res)
	}
	if res.ValueForecast[0] != 21.5 {
		t.Errorf("expected value forecast 21.5, got %v", res.ValueForecast[0])
	}
	if res.Version != "v2.1" {
		t.Errorf("expected version v2.1, got %q", res.Version)
	}
}

func TestHTTPOracle_Predict_CustomPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		json.NewEncoder(rw).Encode(map[string]any{
			"result": map[string]any{
				"p24":    0.8,
				"hourly": repeat(0.5, WindowSize),
				"tec":    repeat(30, WindowSize),
			},
		})
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, ResponsePaths{
		Probability24h: "result.p24",
		Hourly:         "result.hourly",
		ValueForecast:  "result.tec",
	}, nil)

	res, err := o.Predict(context.Background(), testWindow(t, flatKp(5)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Probability48h != 0.8 {
		t.Errorf("missing 48h probability should default to 24h, got %v", res.Probability48h)
	}
	if res.Version != "unknown" {
		t.Errorf("expected version unknown, got %q", res.Version)
	}
}

func TestHTTPOracle_Predict_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"non-200", http.StatusInternalServerError, "model exploded", "http 500: model exploded"},
		{"invalid json", http.StatusOK, "{not json", "not valid JSON"},
		{"missing probability", http.StatusOK, `{"hourly_probabilities":[],"tec_forecast_24h":[]}`, "not found"},
		{"short series", http.StatusOK, `{"storm_probability_24h":0.1,"hourly_probabilities":[0.1],"tec_forecast_24h":[1]}`, "expected 24 hourly"},
		{"out of range", http.StatusOK, `{"storm_probability_24h":1.7,"hourly_probabilities":[],"tec_forecast_24h":[]}`, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(tt.status)
				rw.Write([]byte(tt.body))
			}))
			defer server.Close()

			o := NewHTTPOracle(server.URL, ResponsePaths{}, nil)
			_, err := o.Predict(context.Background(), testWindow(t, flatKp(3)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPOracle_Predict_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewHTTPOracle(server.URL, ResponsePaths{}, nil)
	if _, err := o.Predict(ctx, testWindow(t, flatKp(3))); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		opts    Options
		want    string
		wantErr bool
	}{
		{"trend", Options{}, "trend", false},
		{"", Options{}, "trend", false},
		{"http", Options{URL: "http://model:8000/predict"}, "http", false},
		{"http", Options{}, "", true},
		{"lstm", Options{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.want, func(t *testing.T) {
			o, err := New(tt.kind, tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o.Name() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, o.Name())
			}
		})
	}
}
