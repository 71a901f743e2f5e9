// Package session runs one live voice journaling conversation: it bridges a
// client websocket to the upstream conversational service, gates inbound
// audio through VAD, buffers speech for background transcription, and
// records the exchange transcript for post-session analysis.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/awaazlabs/voicejournal/pkg/core/audio"
	"github.com/awaazlabs/voicejournal/pkg/core/retrieval"
	"github.com/awaazlabs/voicejournal/pkg/core/upstream"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/protocol"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

// Session lifecycle states.
const (
	StateConnecting  = "connecting"
	StateConfiguring = "configuring"
	StateStreaming   = "streaming"
	StateClosing     = "closing"
	StateClosed      = "closed"
)

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Config carries the session tunables.
type Config struct {
	CaptureSampleRate  int
	UpstreamSampleRate int

	VAD    audio.VADConfig
	Buffer audio.BufferConfig

	QueueCapacity int
	// ConfirmOnDelivery treats delivery as the played confirmation for
	// clients that never send audio_played.
	ConfirmOnDelivery bool

	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64

	InboundAudioFPS     int
	InboundAudioBPS     int64
	InboundBurstSeconds int

	OutboundQueueSize int

	// SystemPrompts overrides the built-in per-mode system instructions.
	SystemPrompts map[string]string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CaptureSampleRate:   16000,
		UpstreamSampleRate:  24000,
		VAD:                 audio.DefaultVADConfig(),
		Buffer:              audio.DefaultBufferConfig(),
		QueueCapacity:       defaultQueueCapacity,
		PingInterval:        20 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         90 * time.Second,
		MaxMessageBytes:     1 << 20,
		InboundAudioFPS:     60,
		InboundAudioBPS:     128 * 1024,
		InboundBurstSeconds: 2,
		OutboundQueueSize:   64,
	}
}

// Dependencies wires the session's collaborators. Conn and Upstream are
// required; everything else degrades gracefully when absent.
type Dependencies struct {
	Conn        wsConn
	Logger      *slog.Logger
	Upstream    upstream.Client
	Transcriber upstream.Transcriber
	Retrieval   *retrieval.Service
	History     *retrieval.History
	Store       store.Store
	Now         func() time.Time
}

// Session is one live conversation. Create with New, drive with Run.
type Session struct {
	id     string
	cfg    Config
	conf   protocol.SessionConfig
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time

	priorityCh chan outboundFrame
	normalCh   chan outboundFrame

	queue      *playbackQueue
	vad        *audio.VAD
	buffer     *audio.TranscriptionBuffer
	transcript *transcriptRecorder
	limiter    *inboundAudioLimiter

	stream       upstream.Stream
	transcribeCh chan []byte

	// pendingAudio holds each turn's synthesized PCM keyed by the turn's
	// final audio id until the client confirms playback.
	pendingMu    sync.Mutex
	pendingAudio map[string][]byte

	stateMu sync.Mutex
	state   string

	done      chan struct{}
	startedAt time.Time
	saveOnce  sync.Once
}

// New validates dependencies and builds a session for an already-accepted
// configuration.
func New(deps Dependencies, cfg Config, conf protocol.SessionConfig) (*Session, error) {
	if deps.Conn == nil {
		return nil, errors.New("session: nil connection")
	}
	if deps.Upstream == nil {
		return nil, errors.New("session: nil upstream client")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = 16000
	}
	if cfg.UpstreamSampleRate <= 0 {
		cfg.UpstreamSampleRate = 24000
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 64
	}

	vadCfg := cfg.VAD
	vadCfg.Enabled = vadCfg.Enabled && conf.VAD()

	captureCfg := audio.Config{SampleRate: cfg.CaptureSampleRate, Channels: 1, BitsPerSample: 16}

	id := uuid.NewString()
	s := &Session{
		id:           id,
		cfg:          cfg,
		conf:         conf,
		deps:         deps,
		logger:       deps.Logger.With("session_id", id, "mode", conf.Mode),
		now:          deps.Now,
		priorityCh:   make(chan outboundFrame, 16),
		normalCh:     make(chan outboundFrame, cfg.OutboundQueueSize),
		queue:        newPlaybackQueue(cfg.QueueCapacity, deps.Now),
		vad:          audio.NewVAD(vadCfg),
		buffer:       audio.NewTranscriptionBuffer(cfg.Buffer, captureCfg),
		transcript:   newTranscriptRecorder(deps.Now),
		limiter:      newInboundAudioLimiter(deps.Now, cfg.InboundAudioFPS, cfg.InboundAudioBPS, cfg.InboundBurstSeconds),
		transcribeCh: make(chan []byte, 8),
		pendingAudio: make(map[string][]byte),
		done:         make(chan struct{}),
		state:        StateConfiguring,
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state string) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Warn pushes an advisory status frame ahead of queued audio. Used when the
// server is draining.
func (s *Session) Warn(text string) {
	s.sendPriority(protocol.NewStatus(protocol.StatusConnected, text))
}

// Run drives the session until the client disconnects, the upstream stream
// ends, or ctx is canceled. The transcript is persisted exactly once on the
// way out.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)

	defer s.setState(StateClosed)
	defer s.persist()
	defer s.flushTail()

	s.setState(StateConnecting)
	stream, err := s.deps.Upstream.Connect(ctx, upstream.SessionConfig{
		Voice:             s.conf.Voice,
		SystemInstruction: s.systemInstruction(),
	})
	if err != nil {
		s.writeDirect(protocol.NewError("could not reach the conversation service"))
		return fmt.Errorf("connect upstream: %w", err)
	}
	s.stream = stream
	defer stream.Close()

	s.setState(StateStreaming)

	writer := &outboundWriter{
		ws:           s.deps.Conn,
		ctx:          ctx,
		pingInterval: s.cfg.PingInterval,
		writeTimeout: s.cfg.WriteTimeout,
		priority:     s.priorityCh,
		normal:       s.normalCh,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- writer.Run() }()
	go func() { errCh <- s.readLoop(ctx) }()
	go func() { errCh <- s.upstreamLoop(ctx) }()
	go s.transcribeLoop(ctx)

	s.sendPriority(protocol.NewStatus(protocol.StatusConnected, "session established"))
	s.sendPriority(protocol.NewStatus(protocol.StatusListening, ""))

	s.startedAt = s.now()
	s.logger.Info("live session started", "voice", s.conf.Voice, "vad", s.conf.VAD())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	s.setState(StateClosing)
	cancel()

	if runErr != nil {
		s.logger.Warn("live session ended with error", "error", runErr)
	} else {
		s.logger.Info("live session ended", "exchanges", s.transcript.Count())
	}
	return runErr
}

func (s *Session) readLoop(ctx context.Context) error {
	conn := s.deps.Conn
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 90 * time.Second
	}
	extend := func() error { return conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read client frame: %w", err)
		}
		_ = extend()

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			s.sendPriority(protocol.NewError(err.Error()))
			continue
		}

		switch m := msg.(type) {
		case protocol.ClientConfig:
			// The handshake already consumed the config frame.
			s.sendPriority(protocol.NewError("session already configured"))
		case protocol.ClientAudio:
			if err := s.handleAudioFrame(ctx, m); err != nil {
				return err
			}
		case protocol.ClientText:
			if err := s.handleText(ctx, m.Text); err != nil {
				return err
			}
		case protocol.ClientAudioPlayed:
			s.handleAudioPlayed(ctx, m.AudioID)
		case protocol.ClientDisconnect:
			s.logger.Info("client requested disconnect")
			return nil
		}
	}
}

// handleAudioFrame runs the inbound audio pipeline: rate limit, playback
// gating, VAD, transcription buffering, and upstream forwarding. While the
// assistant is playing and interruptions are off the microphone is muted and
// the frame is dropped entirely. Non-speech frames are forwarded as zeros of
// the same byte length so the upstream stream stays continuous and correctly
// timed.
func (s *Session) handleAudioFrame(ctx context.Context, m protocol.ClientAudio) error {
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		s.sendPriority(protocol.NewError("audio.data is not valid base64"))
		return nil
	}
	if !s.limiter.Allow(len(pcm)) {
		s.logger.Debug("inbound audio frame dropped by rate limiter", "bytes", len(pcm))
		return nil
	}

	if s.queue.Playing() && !s.conf.Interruptions() {
		return nil
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = s.cfg.CaptureSampleRate
	}

	if s.vad.IsSpeech(pcm) {
		s.buffer.Append(pcm)
		now := s.now()
		if s.buffer.ShouldFlush(now) {
			s.enqueueTranscription(ctx, s.buffer.Flush(now))
		}
	} else {
		pcm = audio.SilenceFrame(pcm)
	}

	out := audio.Resample(pcm, rate, s.cfg.UpstreamSampleRate)
	if err := s.stream.SendAudio(out); err != nil {
		return fmt.Errorf("forward audio upstream: %w", err)
	}
	return nil
}

func (s *Session) handleText(ctx context.Context, text string) error {
	payload := text
	if s.deps.Retrieval != nil {
		query := text
		if s.deps.History != nil {
			query = s.deps.History.AugmentQuery(s.id, text)
		}
		if res := s.deps.Retrieval.Retrieve(ctx, query, s.conf.Mode); res.Context != "" {
			payload = "Background that may help you respond:\n" + res.Context + "\n\nUser: " + text
		}
	}

	s.transcript.AppendUser(text, "text")
	if s.deps.History != nil {
		s.deps.History.Append(s.id, "user", text)
	}

	if err := s.stream.SendText(payload); err != nil {
		return fmt.Errorf("forward text upstream: %w", err)
	}
	return nil
}

// handleAudioPlayed records the client confirmation, derives the turn's
// assistant exchange from the synthesized audio if this was the turn's final
// chunk, and releases the next queued chunk.
func (s *Session) handleAudioPlayed(ctx context.Context, audioID string) {
	if _, ok := s.queue.Confirm(audioID); !ok {
		return
	}

	s.pendingMu.Lock()
	pcm, ok := s.pendingAudio[audioID]
	delete(s.pendingAudio, audioID)
	s.pendingMu.Unlock()
	if ok {
		go s.transcribeAssistantTurn(ctx, pcm, audioID)
	}

	s.deliverNext()
	if !s.queue.Playing() {
		s.sendPriority(protocol.NewStatus(protocol.StatusListening, ""))
	}
}

func (s *Session) upstreamLoop(ctx context.Context) error {
	var turnText strings.Builder
	var turnAudio []byte
	lastAudioID := ""

	for {
		ev, err := s.stream.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("upstream receive: %w", err)
		}

		if ev.Interrupted {
			// The model was cut off; anything queued or awaiting
			// confirmation will never reach the listener.
			s.queue.Reset()
			s.pendingMu.Lock()
			s.pendingAudio = make(map[string][]byte)
			s.pendingMu.Unlock()
			turnText.Reset()
			turnAudio = nil
			lastAudioID = ""
			s.sendPriority(protocol.NewStatus(protocol.StatusListening, ""))
		}

		if len(ev.Audio) > 0 {
			mime := ev.AudioMIME
			if mime == "" {
				mime = fmt.Sprintf("audio/pcm;rate=%d", s.cfg.UpstreamSampleRate)
			}
			item := &playbackItem{id: uuid.NewString(), audio: ev.Audio, mimeType: mime}
			if evicted := s.queue.Enqueue(item); evicted != nil {
				s.logger.Warn("playback queue full, evicted oldest chunk", "audio_id", evicted.id)
				if evicted.id == lastAudioID {
					lastAudioID = ""
				}
			}
			lastAudioID = item.id
			turnAudio = append(turnAudio, ev.Audio...)
			s.deliverNext()
		}

		if ev.Text != "" {
			turnText.WriteString(ev.Text)
			s.sendNormal(protocol.NewText(ev.Text))
		}

		if ev.TurnComplete {
			text := strings.TrimSpace(turnText.String())
			turnText.Reset()

			// Text replies are recorded at delivery; the audio-derived
			// exchange waits for the playback confirmation. A turn whose
			// final chunk was evicted is never transcribed. The stash must
			// land before EndTurn so a prompt confirmation cannot miss it.
			if text != "" {
				s.appendAssistant(text, "text", lastAudioID)
			}
			if len(turnAudio) > 0 && lastAudioID != "" {
				if s.cfg.ConfirmOnDelivery {
					go s.transcribeAssistantTurn(ctx, turnAudio, lastAudioID)
				} else {
					s.pendingMu.Lock()
					s.pendingAudio[lastAudioID] = turnAudio
					s.pendingMu.Unlock()
				}
			}
			turnAudio = nil
			lastAudioID = ""

			s.queue.EndTurn()
			s.sendPriority(protocol.NewStatus(protocol.StatusListening, ""))
		}
	}
}

// deliverNext pushes queued chunks to the client. At most one chunk is in
// flight until its played confirmation arrives; with ConfirmOnDelivery the
// queue drains immediately.
func (s *Session) deliverNext() {
	if s.cfg.ConfirmOnDelivery {
		for {
			item := s.queue.Next()
			if item == nil {
				return
			}
			s.sendNormal(protocol.NewAudio(base64.StdEncoding.EncodeToString(item.audio), item.mimeType, item.id))
			s.queue.Confirm(item.id)
		}
	}

	item := s.queue.NextIfIdle()
	if item == nil {
		return
	}
	s.sendNormal(protocol.NewAudio(base64.StdEncoding.EncodeToString(item.audio), item.mimeType, item.id))
}

func (s *Session) appendAssistant(text, contentType, audioID string) {
	var meta map[string]string
	if audioID != "" {
		meta = map[string]string{"audio_id": audioID}
	}
	s.transcript.AppendAssistant(text, contentType, meta)
	if s.deps.History != nil {
		s.deps.History.Append(s.id, "assistant", text)
	}
}

// transcribeAssistantTurn derives the assistant exchange for a confirmed turn
// from its synthesized PCM.
func (s *Session) transcribeAssistantTurn(ctx context.Context, pcm []byte, audioID string) {
	if s.deps.Transcriber == nil || len(pcm) == 0 {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	text, err := s.deps.Transcriber.Transcribe(tctx, pcm, s.cfg.UpstreamSampleRate)
	if err != nil {
		s.logger.Warn("assistant turn transcription failed", "audio_id", audioID, "error", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	s.appendAssistant(text, "audio", audioID)
}

func (s *Session) enqueueTranscription(ctx context.Context, pcm []byte) {
	select {
	case s.transcribeCh <- pcm:
	case <-ctx.Done():
	default:
		s.logger.Warn("transcription backlog full, dropping utterance", "bytes", len(pcm))
	}
}

// transcribeLoop is the single ordered consumer of flushed speech, so user
// exchanges land in the transcript in utterance order.
func (s *Session) transcribeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-s.transcribeCh:
			s.transcribe(ctx, pcm)
		}
	}
}

func (s *Session) transcribe(ctx context.Context, pcm []byte) {
	if s.deps.Transcriber == nil || len(pcm) == 0 {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	text, err := s.deps.Transcriber.Transcribe(tctx, pcm, s.cfg.CaptureSampleRate)
	if err != nil {
		s.logger.Warn("utterance transcription failed", "bytes", len(pcm), "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.transcript.AppendUser(text, "audio")
	if s.deps.History != nil {
		s.deps.History.Append(s.id, "user", text)
	}
}

// flushTail transcribes whatever speech is still buffered at teardown so the
// final utterance is not lost from the transcript.
func (s *Session) flushTail() {
	if s.buffer.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.transcribe(ctx, s.buffer.Flush(s.now()))
}

func (s *Session) persist() {
	s.saveOnce.Do(func() {
		if s.deps.History != nil {
			s.deps.History.Clear(s.id)
		}
		if s.deps.Store == nil || s.transcript.Count() == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		exchanges := s.transcript.Snapshot()
		duration := 0.0
		if !s.startedAt.IsZero() {
			duration = s.now().Sub(s.startedAt).Seconds()
		}
		err := s.deps.Store.SaveSession(ctx, store.JournalSession{
			SessionID:       s.id,
			Mode:            s.conf.Mode,
			Transcript:      s.transcript.Render(),
			Exchanges:       exchanges,
			DurationSeconds: duration,
			ExchangeCount:   len(exchanges),
		})
		if err != nil {
			s.logger.Error("persist session transcript", "error", err)
			return
		}
		s.logger.Info("session transcript saved", "exchanges", len(exchanges))
	})
}

func (s *Session) systemInstruction() string {
	if prompt, ok := s.cfg.SystemPrompts[s.conf.Mode]; ok && strings.TrimSpace(prompt) != "" {
		return prompt
	}
	return defaultSystemPrompt(s.conf.Mode)
}

func (s *Session) sendPriority(v any) { s.send(s.priorityCh, v) }
func (s *Session) sendNormal(v any)   { s.send(s.normalCh, v) }

func (s *Session) send(ch chan<- outboundFrame, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ch <- outboundFrame{payload: payload}:
	case <-s.done:
	}
}

// writeDirect bypasses the writer goroutine for errors raised before it
// starts.
func (s *Session) writeDirect(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.deps.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = s.deps.Conn.WriteMessage(websocket.TextMessage, payload)
}
