package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awaazlabs/voicejournal/pkg/core/retrieval"
	"github.com/awaazlabs/voicejournal/pkg/core/upstream"
	"github.com/awaazlabs/voicejournal/pkg/gateway/apierror"
	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/protocol"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/session"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/sessions"
	"github.com/awaazlabs/voicejournal/pkg/gateway/mw"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

const liveHandshakeTimeout = 5 * time.Second

// LiveHandler upgrades /v1/live requests to a WebSocket journaling session.
// The first client frame must be a config message; everything after the
// upgrade is owned by the session.
type LiveHandler struct {
	Config      config.Config
	Logger      *slog.Logger
	Upstream    upstream.Client
	Transcriber upstream.Transcriber
	Retrieval   *retrieval.Service
	History     *retrieval.History
	Store       store.Store
	Sessions    *sessions.Tracker
	Draining    func() bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.Draining != nil && h.Draining() {
		writeAPIError(w, r, http.StatusServiceUnavailable, &apierror.Error{
			Type:    apierror.ErrAPI,
			Message: "server is draining",
		})
		return
	}
	if !mw.OriginAllowed(h.Config, r.Header.Get("Origin")) {
		writeAPIError(w, r, http.StatusForbidden, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "origin is not allowed",
			Param:   "Origin",
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	conf, ok := h.readConfig(conn)
	if !ok {
		return
	}
	if conf.Voice == "" {
		conf.Voice = h.Config.DefaultVoice
	}
	if err := conn.WriteJSON(protocol.NewStatus(protocol.StatusConfigReceived, "")); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      h.Logger,
		Upstream:    h.Upstream,
		Transcriber: h.Transcriber,
		Retrieval:   h.Retrieval,
		History:     h.History,
		Store:       h.Store,
	}, h.sessionConfig(), conf)
	if err != nil {
		h.closeWithError(conn, "failed to initialize session")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(s.ID(), sessions.Handle{
			Mode:      conf.Mode,
			StartedAt: time.Now(),
			Cancel:    cancel,
			Warn:      s.Warn,
		})
	}
	defer unregister()

	if err := s.Run(ctx); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error",
				"session_id", s.ID(),
				"request_id", requestID(r),
				"error", err,
			)
		}
	}
}

// readConfig enforces the config-first handshake. Any failure closes the
// socket with a policy violation after a terminal error frame.
func (h LiveHandler) readConfig(conn *websocket.Conn) (protocol.SessionConfig, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(liveHandshakeTimeout))

	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.closeWithError(conn, "expected a config frame")
		return protocol.SessionConfig{}, false
	}
	if messageType != websocket.TextMessage {
		h.closeWithError(conn, "first frame must be a config message")
		return protocol.SessionConfig{}, false
	}

	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		h.closeWithError(conn, decodeMessage(err))
		return protocol.SessionConfig{}, false
	}
	msg, ok := decoded.(protocol.ClientConfig)
	if !ok {
		h.closeWithError(conn, "first frame must be a config message")
		return protocol.SessionConfig{}, false
	}

	conf := msg.Config
	if err := protocol.ValidateSessionConfig(&conf); err != nil {
		h.closeWithError(conn, decodeMessage(err))
		return protocol.SessionConfig{}, false
	}
	return conf, true
}

func (h LiveHandler) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.VAD.Enabled = h.Config.VADEnabled
	cfg.VAD.WindowSamples = h.Config.VADWindowSamples
	cfg.VAD.EnergyThreshold = h.Config.VADEnergyThreshold
	cfg.Buffer.MinDuration = h.Config.BufferMinDuration
	cfg.Buffer.MaxDuration = h.Config.BufferMaxDuration
	cfg.Buffer.Cooldown = h.Config.BufferCooldown
	cfg.QueueCapacity = h.Config.PlaybackQueueCapacity
	cfg.ConfirmOnDelivery = h.Config.ConfirmOnDelivery
	cfg.PingInterval = h.Config.LiveWSPingInterval
	cfg.WriteTimeout = h.Config.LiveWSWriteTimeout
	cfg.ReadTimeout = h.Config.LiveWSReadTimeout
	cfg.MaxMessageBytes = h.Config.LiveMaxJSONMessageBytes
	cfg.InboundAudioFPS = h.Config.LiveMaxAudioFPS
	cfg.InboundAudioBPS = h.Config.LiveMaxAudioBPS
	cfg.InboundBurstSeconds = h.Config.LiveInboundBurstSeconds
	return cfg
}

func (h LiveHandler) closeWithError(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(protocol.NewError(message))
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

func decodeMessage(err error) string {
	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return decodeErr.Error()
	}
	return "invalid config frame"
}
