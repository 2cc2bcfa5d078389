package gateway

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xsswatch/xsswatch/internal/config"
	"github.com/xsswatch/xsswatch/internal/detect"
	"github.com/xsswatch/xsswatch/internal/observability"
	"github.com/xsswatch/xsswatch/internal/rules"
	"github.com/xsswatch/xsswatch/internal/state"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(t *testing.T) (*detect.Engine, *state.Tracker) {
	t.Helper()
	tracker, err := state.NewTracker(state.Options{HistorySize: 10, TrackedSources: 16})
	if err != nil {
		t.Fatalf("NewTracker error: %v", err)
	}
	return detect.New(rules.Default(), tracker, detect.DefaultOptions()), tracker
}

func sampleConfig(upstreamURL string, mode string, maxBodyBytes int64) *config.Config {
	return &config.Config{
		Upstreams: []config.Upstream{
			{Name: "backend", URL: upstreamURL},
		},
		Routes: []config.Route{
			{
				Match:    config.RouteMatch{PathPrefix: "/"},
				Upstream: "backend",
				Policy:   "default",
			},
		},
		Policies: map[string]config.Policy{
			"default": {
				Mode:          mode,
				BlockRisk:     "high",
				BlockDuration: time.Minute,
				MaxBodyBytes:  maxBodyBytes,
				Timeout:       2 * time.Second,
			},
		},
	}
}

func okBackend(t *testing.T) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(backend.Close)
	return backend
}

func TestGatewayProxy(t *testing.T) {
	backend := okBackend(t)
	engine, tracker := newEngine(t)

	gw, err := New(sampleConfig(backend.URL, config.ModeBlock, 1024), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=shoes", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "ok" {
		t.Fatalf("expected body ok, got %q", string(body))
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	if stats := tracker.Statistics(); stats.RequestsAnalyzed != 1 || stats.TotalDetections != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestGatewayBlocksHighRiskAndSource(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	engine, _ := newEngine(t)
	gw, err := New(sampleConfig(backend.URL, config.ModeBlock, 1024), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	gw.SetMetrics(metrics)

	attack := httptest.NewRequest(http.MethodGet, "http://example.com/search?q="+url.QueryEscape("<script>alert(1)</script>"), nil)
	attack.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, attack)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	clean := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=shoes", nil)
	clean.RemoteAddr = "203.0.113.7:5556"
	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, clean)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected blocked source to get 403, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=shoes", nil)
	other.RemoteAddr = "198.51.100.1:5555"
	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other source allowed, got %d", rec.Code)
	}

	if got := hits.Load(); got != 1 {
		t.Fatalf("expected backend hit once, got %d", got)
	}
	if got := testutil.CollectAndCount(reg, "xsswatch_blocks_total"); got != 2 {
		t.Fatalf("expected 2 block series, got %d", got)
	}
}

func TestGatewayBlockExpires(t *testing.T) {
	backend := okBackend(t)
	engine, _ := newEngine(t)
	gw, err := New(sampleConfig(backend.URL, config.ModeBlock, 1024), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	now := time.Now()
	gw.now = func() time.Time { return now }

	attack := httptest.NewRequest(http.MethodPost, "http://example.com/comment", strings.NewReader("comment=<img src=x onerror=alert(1)>"))
	attack.RemoteAddr = "203.0.113.8:1000"
	gw.ServeHTTP(httptest.NewRecorder(), attack)
	if !gw.Blocklist().Blocked("203.0.113.8", now) {
		t.Fatalf("expected source blocked")
	}

	now = now.Add(2 * time.Minute)
	clean := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	clean.RemoteAddr = "203.0.113.8:1001"
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, clean)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected block expired, got %d", rec.Code)
	}
}

func TestGatewayMonitorForwards(t *testing.T) {
	bodies := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	engine, tracker := newEngine(t)
	gw, err := New(sampleConfig(backend.URL, config.ModeMonitor, 1024), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	payload := "comment=<script>alert(1)</script>"
	req := httptest.NewRequest(http.MethodPost, "http://example.com/comment", strings.NewReader(payload))
	req.Header.Set("User-Agent", "<svg onload=alert(1)>")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected upstream status, got %d", rec.Code)
	}
	if gotBody := <-bodies; gotBody != payload {
		t.Fatalf("expected body forwarded intact, got %q", gotBody)
	}

	stats := tracker.Statistics()
	if stats.TotalDetections != 2 || stats.RequestsDetected != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	locations := map[string]bool{}
	for _, a := range stats.RecentAttacks {
		locations[a.Location] = true
	}
	if !locations["Body"] || !locations["Header-User-Agent"] {
		t.Fatalf("unexpected locations %v", locations)
	}
}

func TestGatewayBelowThresholdForwards(t *testing.T) {
	backend := okBackend(t)
	engine, _ := newEngine(t)
	gw, err := New(sampleConfig(backend.URL, config.ModeBlock, 1024), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/p?x="+url.QueryEscape("<iframe src=//evil.example>"), nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected medium risk forwarded, got %d", rec.Code)
	}
}

func TestGatewayRejectsLargeBody(t *testing.T) {
	backend := okBackend(t)
	engine, _ := newEngine(t)
	gw, err := New(sampleConfig(backend.URL, config.ModeMonitor, 4), engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestGatewayInspectsResponses(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>results for <script>alert(1)</script></p>"))
	}))
	defer backend.Close()

	engine, tracker := newEngine(t)
	cfg := sampleConfig(backend.URL, config.ModeMonitor, 1024)
	p := cfg.Policies["default"]
	p.InspectResponses = true
	cfg.Policies["default"] = p

	core, logs := observer.New(zap.WarnLevel)
	gw, err := New(cfg, engine, zap.New(core))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/search?q=shoes", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Body)
	if string(body) != "<p>results for <script>alert(1)</script></p>" {
		t.Fatalf("expected response passed through, got %q", body)
	}
	recent := tracker.Statistics().RecentAttacks
	if len(recent) != 1 || recent[0].Location != detect.LocationResponse || recent[0].SourceIP != "192.0.2.10" {
		t.Fatalf("expected one response detection, got %+v", recent)
	}
	if logs.FilterMessage("script content in upstream response").Len() != 1 {
		t.Fatalf("expected response warning logged")
	}
}

func TestGatewayUnknownRoute(t *testing.T) {
	engine, _ := newEngine(t)
	cfg := sampleConfig("http://127.0.0.1:1", config.ModeMonitor, 1024)
	cfg.Routes[0].Match.PathPrefix = "/api"
	gw, err := New(cfg, engine, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNewRejectsBadPolicy(t *testing.T) {
	engine, _ := newEngine(t)
	cfg := sampleConfig("http://127.0.0.1:1", config.ModeBlock, 1024)
	p := cfg.Policies["default"]
	p.BlockRisk = "severe"
	cfg.Policies["default"] = p

	if _, err := New(cfg, engine, nil); err == nil {
		t.Fatalf("expected error for unknown block risk")
	}
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatalf("expected error without engine")
	}
}

func TestFlattenHeaders(t *testing.T) {
	out := flattenHeaders(http.Header{"X-Forwarded-For": {"10.0.0.1", "10.0.0.2"}})
	if out["X-Forwarded-For"] != "10.0.0.1, 10.0.0.2" {
		t.Fatalf("unexpected flattened header %v", out)
	}
}
