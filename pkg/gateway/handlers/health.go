package handlers

import (
	"net/http"

	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the server should receive traffic. It goes
// not-ready while draining so load balancers stop routing new sessions here.
type ReadyHandler struct {
	Config   config.Config
	Sessions *sessions.Tracker
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK               bool     `json:"ok"`
		Draining         bool     `json:"draining"`
		ActiveSessions   int      `json:"active_sessions"`
		RetrievalEnabled bool     `json:"retrieval_enabled"`
		PostgresEnabled  bool     `json:"postgres_enabled"`
		RedisEnabled     bool     `json:"redis_enabled"`
		Issues           []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if h.Config.VADWindowSamples <= 0 {
		issues = append(issues, "vad window samples must be > 0")
	}
	if h.Config.BufferMinDuration <= 0 || h.Config.BufferMaxDuration < h.Config.BufferMinDuration {
		issues = append(issues, "transcription buffer durations are invalid")
	}
	if h.Config.PlaybackQueueCapacity <= 0 {
		issues = append(issues, "playback queue capacity must be > 0")
	}
	if h.Config.LiveWSPingInterval <= 0 || h.Config.LiveWSWriteTimeout <= 0 {
		issues = append(issues, "live websocket timeouts are invalid")
	}

	draining := h.Draining != nil && h.Draining()
	if draining {
		issues = append(issues, "server is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:               ok,
		Draining:         draining,
		ActiveSessions:   h.Sessions.Count(),
		RetrievalEnabled: h.Config.RetrievalEnabled,
		PostgresEnabled:  h.Config.PostgresDSN != "",
		RedisEnabled:     h.Config.RedisAddr != "",
		Issues:           issues,
	})
}
