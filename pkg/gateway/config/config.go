// Package config loads the voicejournal server configuration from the
// environment. Every knob has a production default; invalid values fail fast
// with the offending variable named.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Gemini API access.
	GeminiAPIKey       string
	LiveModel          string
	AnalysisModel      string
	TranscriptionModel string
	DefaultVoice       string

	// Storage. An empty PostgresDSN selects the in-memory store; an empty
	// RedisAddr selects the in-process retrieval cache.
	PostgresDSN string
	RedisAddr   string

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Inbound audio pipeline.
	VADEnabled         bool
	VADWindowSamples   int
	VADEnergyThreshold float64
	BufferMinDuration  time.Duration
	BufferMaxDuration  time.Duration
	BufferCooldown     time.Duration

	// Outbound playback.
	PlaybackQueueCapacity int
	ConfirmOnDelivery     bool

	// Context retrieval.
	RetrievalEnabled bool
	RetrievalTTL     time.Duration
	RetrievalTopK    int
	HistoryLimit     int

	// Post-session analysis.
	SafetyMaxIterations int

	// Upstream live stream.
	UpstreamAckTimeout time.Duration

	// Live WebSocket limits.
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveMaxJSONMessageBytes int64
	LiveMaxAudioFPS         int
	LiveMaxAudioBPS         int64
	LiveInboundBurstSeconds int

	// HTTP server.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VJ_ADDR", ":8080"),
		GeminiAPIKey:            envOr("VJ_GEMINI_API_KEY", ""),
		LiveModel:               envOr("VJ_LIVE_MODEL", "gemini-2.0-flash-live-001"),
		AnalysisModel:           envOr("VJ_ANALYSIS_MODEL", "gemini-2.0-flash"),
		TranscriptionModel:      envOr("VJ_TRANSCRIPTION_MODEL", "gemini-2.0-flash"),
		DefaultVoice:            envOr("VJ_DEFAULT_VOICE", "Aoede"),
		PostgresDSN:             envOr("VJ_POSTGRES_DSN", ""),
		RedisAddr:               envOr("VJ_REDIS_ADDR", ""),
		CORSAllowedOrigins:      make(map[string]struct{}),
		VADEnabled:              envBoolOr("VJ_VAD_ENABLED", true),
		VADWindowSamples:        envIntOr("VJ_VAD_WINDOW_SAMPLES", 512),
		VADEnergyThreshold:      envFloat64Or("VJ_VAD_ENERGY_THRESHOLD", 0.015),
		BufferMinDuration:       envDurationOr("VJ_BUFFER_MIN_DURATION", 500*time.Millisecond),
		BufferMaxDuration:       envDurationOr("VJ_BUFFER_MAX_DURATION", 3*time.Second),
		BufferCooldown:          envDurationOr("VJ_BUFFER_COOLDOWN", 200*time.Millisecond),
		PlaybackQueueCapacity:   envIntOr("VJ_PLAYBACK_QUEUE_CAPACITY", 2),
		ConfirmOnDelivery:       envBoolOr("VJ_CONFIRM_ON_DELIVERY", false),
		RetrievalEnabled:        envBoolOr("VJ_RETRIEVAL_ENABLED", true),
		RetrievalTTL:            envDurationOr("VJ_RETRIEVAL_TTL", 5*time.Minute),
		RetrievalTopK:           envIntOr("VJ_RETRIEVAL_TOP_K", 3),
		HistoryLimit:            envIntOr("VJ_HISTORY_LIMIT", 10),
		SafetyMaxIterations:     envIntOr("VJ_SAFETY_MAX_ITERATIONS", 3),
		UpstreamAckTimeout:      envDurationOr("VJ_UPSTREAM_ACK_TIMEOUT", 10*time.Second),
		LiveWSPingInterval:      envDurationOr("VJ_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VJ_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("VJ_LIVE_WS_READ_TIMEOUT", 90*time.Second),
		LiveMaxJSONMessageBytes: envInt64Or("VJ_LIVE_MAX_JSON_MESSAGE_BYTES", 1<<20),
		LiveMaxAudioFPS:         envIntOr("VJ_LIVE_MAX_AUDIO_FPS", 60),
		LiveMaxAudioBPS:         envInt64Or("VJ_LIVE_MAX_AUDIO_BPS", 128*1024),
		LiveInboundBurstSeconds: envIntOr("VJ_LIVE_INBOUND_BURST_SECONDS", 2),
		ReadHeaderTimeout:       envDurationOr("VJ_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VJ_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VJ_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VJ_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("VJ_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("VJ_LIVE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.AnalysisModel) == "" {
		return Config{}, fmt.Errorf("VJ_ANALYSIS_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.TranscriptionModel) == "" {
		return Config{}, fmt.Errorf("VJ_TRANSCRIPTION_MODEL must not be empty")
	}
	if cfg.VADWindowSamples <= 0 {
		return Config{}, fmt.Errorf("VJ_VAD_WINDOW_SAMPLES must be > 0")
	}
	if cfg.VADEnergyThreshold <= 0 || cfg.VADEnergyThreshold > 1 {
		return Config{}, fmt.Errorf("VJ_VAD_ENERGY_THRESHOLD must be in (0, 1]")
	}
	if cfg.BufferMinDuration <= 0 {
		return Config{}, fmt.Errorf("VJ_BUFFER_MIN_DURATION must be > 0")
	}
	if cfg.BufferMaxDuration < cfg.BufferMinDuration {
		return Config{}, fmt.Errorf("VJ_BUFFER_MAX_DURATION must be >= VJ_BUFFER_MIN_DURATION")
	}
	if cfg.BufferCooldown < 0 {
		return Config{}, fmt.Errorf("VJ_BUFFER_COOLDOWN must be >= 0")
	}
	if cfg.PlaybackQueueCapacity <= 0 {
		return Config{}, fmt.Errorf("VJ_PLAYBACK_QUEUE_CAPACITY must be > 0")
	}
	if cfg.RetrievalTTL <= 0 {
		return Config{}, fmt.Errorf("VJ_RETRIEVAL_TTL must be > 0")
	}
	if cfg.RetrievalTopK <= 0 {
		return Config{}, fmt.Errorf("VJ_RETRIEVAL_TOP_K must be > 0")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("VJ_HISTORY_LIMIT must be > 0")
	}
	if cfg.SafetyMaxIterations <= 0 {
		return Config{}, fmt.Errorf("VJ_SAFETY_MAX_ITERATIONS must be > 0")
	}
	if cfg.UpstreamAckTimeout <= 0 {
		return Config{}, fmt.Errorf("VJ_UPSTREAM_ACK_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBPS < 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("VJ_LIVE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.LiveMaxAudioFPS > 0 || cfg.LiveMaxAudioBPS > 0) && cfg.LiveInboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VJ_LIVE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VJ_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VJ_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VJ_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
