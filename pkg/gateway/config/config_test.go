package config

import (
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"VJ_ADDR",
	"VJ_GEMINI_API_KEY",
	"VJ_LIVE_MODEL",
	"VJ_ANALYSIS_MODEL",
	"VJ_TRANSCRIPTION_MODEL",
	"VJ_DEFAULT_VOICE",
	"VJ_POSTGRES_DSN",
	"VJ_REDIS_ADDR",
	"VJ_CORS_ORIGINS",
	"VJ_VAD_ENABLED",
	"VJ_VAD_WINDOW_SAMPLES",
	"VJ_VAD_ENERGY_THRESHOLD",
	"VJ_BUFFER_MIN_DURATION",
	"VJ_BUFFER_MAX_DURATION",
	"VJ_BUFFER_COOLDOWN",
	"VJ_PLAYBACK_QUEUE_CAPACITY",
	"VJ_CONFIRM_ON_DELIVERY",
	"VJ_RETRIEVAL_ENABLED",
	"VJ_RETRIEVAL_TTL",
	"VJ_RETRIEVAL_TOP_K",
	"VJ_HISTORY_LIMIT",
	"VJ_SAFETY_MAX_ITERATIONS",
	"VJ_UPSTREAM_ACK_TIMEOUT",
	"VJ_LIVE_WS_PING_INTERVAL",
	"VJ_LIVE_WS_WRITE_TIMEOUT",
	"VJ_LIVE_WS_READ_TIMEOUT",
	"VJ_LIVE_MAX_JSON_MESSAGE_BYTES",
	"VJ_LIVE_MAX_AUDIO_FPS",
	"VJ_LIVE_MAX_AUDIO_BPS",
	"VJ_LIVE_INBOUND_BURST_SECONDS",
	"VJ_READ_HEADER_TIMEOUT",
	"VJ_READ_TIMEOUT",
	"VJ_SHUTDOWN_GRACE_PERIOD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("VJ_GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.LiveModel != "gemini-2.0-flash-live-001" {
		t.Fatalf("LiveModel = %q", cfg.LiveModel)
	}
	if cfg.AnalysisModel != "gemini-2.0-flash" {
		t.Fatalf("AnalysisModel = %q", cfg.AnalysisModel)
	}
	if cfg.DefaultVoice != "Aoede" {
		t.Fatalf("DefaultVoice = %q", cfg.DefaultVoice)
	}
	if cfg.PostgresDSN != "" || cfg.RedisAddr != "" {
		t.Fatalf("storage defaults should be empty: %q/%q", cfg.PostgresDSN, cfg.RedisAddr)
	}
	if !cfg.VADEnabled || cfg.VADWindowSamples != 512 {
		t.Fatalf("VAD defaults: enabled=%v window=%d", cfg.VADEnabled, cfg.VADWindowSamples)
	}
	if cfg.VADEnergyThreshold != 0.015 {
		t.Fatalf("VADEnergyThreshold = %v", cfg.VADEnergyThreshold)
	}
	if cfg.BufferMinDuration != 500*time.Millisecond || cfg.BufferMaxDuration != 3*time.Second || cfg.BufferCooldown != 200*time.Millisecond {
		t.Fatalf("buffer defaults: %v/%v/%v", cfg.BufferMinDuration, cfg.BufferMaxDuration, cfg.BufferCooldown)
	}
	if cfg.PlaybackQueueCapacity != 2 {
		t.Fatalf("PlaybackQueueCapacity = %d, want 2", cfg.PlaybackQueueCapacity)
	}
	if cfg.ConfirmOnDelivery {
		t.Fatal("ConfirmOnDelivery should default off")
	}
	if !cfg.RetrievalEnabled || cfg.RetrievalTTL != 5*time.Minute || cfg.RetrievalTopK != 3 {
		t.Fatalf("retrieval defaults: %v/%v/%d", cfg.RetrievalEnabled, cfg.RetrievalTTL, cfg.RetrievalTopK)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("HistoryLimit = %d, want 10", cfg.HistoryLimit)
	}
	if cfg.SafetyMaxIterations != 3 {
		t.Fatalf("SafetyMaxIterations = %d, want 3", cfg.SafetyMaxIterations)
	}
	if cfg.UpstreamAckTimeout != 10*time.Second {
		t.Fatalf("UpstreamAckTimeout = %v, want 10s", cfg.UpstreamAckTimeout)
	}
	if cfg.LiveWSPingInterval != 20*time.Second || cfg.LiveWSWriteTimeout != 5*time.Second || cfg.LiveWSReadTimeout != 90*time.Second {
		t.Fatalf("live ws timeouts: %v/%v/%v", cfg.LiveWSPingInterval, cfg.LiveWSWriteTimeout, cfg.LiveWSReadTimeout)
	}
	if cfg.LiveMaxJSONMessageBytes != 1<<20 {
		t.Fatalf("LiveMaxJSONMessageBytes = %d", cfg.LiveMaxJSONMessageBytes)
	}
	if cfg.LiveMaxAudioFPS != 60 || cfg.LiveMaxAudioBPS != 128*1024 || cfg.LiveInboundBurstSeconds != 2 {
		t.Fatalf("inbound limits: %d/%d/%d", cfg.LiveMaxAudioFPS, cfg.LiveMaxAudioBPS, cfg.LiveInboundBurstSeconds)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VJ_GEMINI_API_KEY", "test-key")
	t.Setenv("VJ_ADDR", ":9090")
	t.Setenv("VJ_LIVE_MODEL", "gemini-live-custom")
	t.Setenv("VJ_DEFAULT_VOICE", "Kore")
	t.Setenv("VJ_POSTGRES_DSN", "postgres://vj:vj@localhost:5432/vj")
	t.Setenv("VJ_REDIS_ADDR", "localhost:6379")
	t.Setenv("VJ_CORS_ORIGINS", "https://a.example, https://b.example,,")
	t.Setenv("VJ_VAD_ENABLED", "false")
	t.Setenv("VJ_VAD_ENERGY_THRESHOLD", "0.02")
	t.Setenv("VJ_BUFFER_MIN_DURATION", "250ms")
	t.Setenv("VJ_BUFFER_MAX_DURATION", "2s")
	t.Setenv("VJ_PLAYBACK_QUEUE_CAPACITY", "4")
	t.Setenv("VJ_CONFIRM_ON_DELIVERY", "true")
	t.Setenv("VJ_RETRIEVAL_TTL", "90s")
	t.Setenv("VJ_SAFETY_MAX_ITERATIONS", "5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.LiveModel != "gemini-live-custom" || cfg.DefaultVoice != "Kore" {
		t.Fatalf("overrides not applied: %q/%q/%q", cfg.Addr, cfg.LiveModel, cfg.DefaultVoice)
	}
	if cfg.PostgresDSN == "" || cfg.RedisAddr == "" {
		t.Fatalf("storage overrides not applied: %q/%q", cfg.PostgresDSN, cfg.RedisAddr)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatal("missing https://b.example")
	}
	if cfg.VADEnabled {
		t.Fatal("VADEnabled override not applied")
	}
	if cfg.VADEnergyThreshold != 0.02 {
		t.Fatalf("VADEnergyThreshold = %v", cfg.VADEnergyThreshold)
	}
	if cfg.BufferMinDuration != 250*time.Millisecond || cfg.BufferMaxDuration != 2*time.Second {
		t.Fatalf("buffer overrides: %v/%v", cfg.BufferMinDuration, cfg.BufferMaxDuration)
	}
	if cfg.PlaybackQueueCapacity != 4 || !cfg.ConfirmOnDelivery {
		t.Fatalf("playback overrides: %d/%v", cfg.PlaybackQueueCapacity, cfg.ConfirmOnDelivery)
	}
	if cfg.RetrievalTTL != 90*time.Second || cfg.SafetyMaxIterations != 5 {
		t.Fatalf("pipeline overrides: %v/%d", cfg.RetrievalTTL, cfg.SafetyMaxIterations)
	}
}

func TestLoadFromEnv_RequiresAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "VJ_GEMINI_API_KEY") {
		t.Fatalf("error = %v, expected VJ_GEMINI_API_KEY in message", err)
	}
}

func TestLoadFromEnv_InvalidBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "zero vad window",
			env:       map[string]string{"VJ_VAD_WINDOW_SAMPLES": "0"},
			errSubstr: "VJ_VAD_WINDOW_SAMPLES",
		},
		{
			name:      "threshold out of range",
			env:       map[string]string{"VJ_VAD_ENERGY_THRESHOLD": "1.5"},
			errSubstr: "VJ_VAD_ENERGY_THRESHOLD",
		},
		{
			name: "buffer max below min",
			env: map[string]string{
				"VJ_BUFFER_MIN_DURATION": "2s",
				"VJ_BUFFER_MAX_DURATION": "1s",
			},
			errSubstr: "VJ_BUFFER_MAX_DURATION",
		},
		{
			name:      "zero queue capacity",
			env:       map[string]string{"VJ_PLAYBACK_QUEUE_CAPACITY": "0"},
			errSubstr: "VJ_PLAYBACK_QUEUE_CAPACITY",
		},
		{
			name:      "zero retrieval ttl",
			env:       map[string]string{"VJ_RETRIEVAL_TTL": "0s"},
			errSubstr: "VJ_RETRIEVAL_TTL",
		},
		{
			name:      "zero safety iterations",
			env:       map[string]string{"VJ_SAFETY_MAX_ITERATIONS": "0"},
			errSubstr: "VJ_SAFETY_MAX_ITERATIONS",
		},
		{
			name: "burst too small with limits enabled",
			env: map[string]string{
				"VJ_LIVE_MAX_AUDIO_FPS":         "10",
				"VJ_LIVE_INBOUND_BURST_SECONDS": "0",
			},
			errSubstr: "VJ_LIVE_INBOUND_BURST_SECONDS",
		},
		{
			name:      "zero shutdown grace",
			env:       map[string]string{"VJ_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "VJ_SHUTDOWN_GRACE_PERIOD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("VJ_GEMINI_API_KEY", "test-key")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
