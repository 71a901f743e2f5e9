package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

func serverTestConfig() config.Config {
	return config.Config{
		GeminiAPIKey:            "test-key",
		DefaultVoice:            "Aoede",
		CORSAllowedOrigins:      map[string]struct{}{},
		VADWindowSamples:        512,
		VADEnergyThreshold:      0.015,
		BufferMinDuration:       500 * time.Millisecond,
		BufferMaxDuration:       3 * time.Second,
		PlaybackQueueCapacity:   2,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      5 * time.Second,
		LiveWSReadTimeout:       90 * time.Second,
		LiveMaxJSONMessageBytes: 1 << 20,
	}
}

func newTestServer() *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(serverTestConfig(), logger, Dependencies{Store: store.NewMemoryStore()})
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_Routes_Reachable(t *testing.T) {
	s := newTestServer()

	for _, path := range []string{"/healthz", "/readyz", "/v1/voices", "/v1/agent-modes", "/v1/journal/sessions", "/v1/journal/summaries"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("path %s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_AnalysisRoute_UsesPathValue(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/journal/unknown-session/analysis", nil))

	// Route resolves; the unknown id is a store-level 404 with the canonical envelope.
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "session not found") {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_Draining_ReadyzNotReady(t *testing.T) {
	s := newTestServer()
	s.SetDraining(true)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_RequestIDHeaderAttached(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header on every response")
	}
}
