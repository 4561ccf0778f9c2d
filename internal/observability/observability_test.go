package observability

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		" debug ": slog.LevelDebug,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLogLevel(input); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestGetLogLevel_FlagBeatsEnv(t *testing.T) {
	t.Setenv("ORGLOOP_LOG_LEVEL", "error")
	if got := GetLogLevel("debug"); got != slog.LevelDebug {
		t.Errorf("expected flag to win, got %v", got)
	}
	if got := GetLogLevel(""); got != slog.LevelError {
		t.Errorf("expected env fallback, got %v", got)
	}
}

func TestHealthServer_Endpoints(t *testing.T) {
	h := NewHealthServer()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: expected 503, got %d", resp.StatusCode)
	}

	h.SetReady(true)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz after ready: expected 200, got %d", resp.StatusCode)
	}
}

func TestNewMetrics_RegistersWithoutCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsIngested.WithLabelValues("github").Inc()
	m.EventsDropped.WithLabelValues("r", "filtered").Inc()
	m.RegistryVersion.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"orgloop_router_events_ingested_total",
		"orgloop_router_events_dropped_total",
		"orgloop_router_registry_version",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}
