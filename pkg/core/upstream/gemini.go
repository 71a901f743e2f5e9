package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultAckTimeout = 10 * time.Second

	// The live service consumes and produces 24kHz mono s16le PCM.
	liveAudioMIME = "audio/pcm;rate=24000"
)

// GeminiClient opens Gemini Live streams.
type GeminiClient struct {
	client     *genai.Client
	model      string
	logger     *slog.Logger
	ackTimeout time.Duration
}

// NewGeminiClient wraps a genai client for live streaming with the given
// model. ackTimeout <= 0 uses the 10s default.
func NewGeminiClient(client *genai.Client, model string, logger *slog.Logger, ackTimeout time.Duration) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &GeminiClient{client: client, model: model, logger: logger, ackTimeout: ackTimeout}
}

// Connect opens a live session, sends the one-time setup (voice, system
// instruction) and waits up to the ack timeout for the service to confirm.
// An ack timeout is logged and treated as non-fatal; streaming proceeds
// optimistically.
func (c *GeminiClient) Connect(ctx context.Context, cfg SessionConfig) (Stream, error) {
	if c.client == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if voice := strings.TrimSpace(cfg.Voice); voice != "" {
		connectCfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if sys := strings.TrimSpace(cfg.SystemInstruction); sys != "" {
		connectCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sys}}}
	}

	live, err := c.client.Live.Connect(ctx, c.model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	s := &geminiStream{live: live, logger: c.logger}
	s.awaitAck(c.ackTimeout)
	return s, nil
}

type recvResult struct {
	msg *genai.LiveServerMessage
	err error
}

type geminiStream struct {
	live   *genai.Session
	logger *slog.Logger

	// firstCh holds the outcome of the receive started during the ack wait
	// when the ack did not arrive in time. Recv drains it before reading
	// from the session again.
	firstCh chan recvResult
}

// awaitAck reads the first server message, expecting setup confirmation.
// If the confirmation does not arrive within the timeout the pending read
// is handed to Recv and streaming continues.
func (s *geminiStream) awaitAck(timeout time.Duration) {
	ch := make(chan recvResult, 1)
	go func() {
		msg, err := s.live.Receive()
		ch <- recvResult{msg: msg, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil || res.msg == nil || res.msg.SetupComplete == nil {
			// Not the ack; requeue for Recv.
			ch <- res
			s.firstCh = ch
			return
		}
	case <-timer.C:
		s.logger.Warn("live setup acknowledgment timed out, streaming proceeds")
		s.firstCh = ch
	}
}

func (s *geminiStream) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: liveAudioMIME},
	})
}

func (s *geminiStream) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.live.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}},
		},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *geminiStream) Recv() (Event, error) {
	for {
		var msg *genai.LiveServerMessage
		var err error
		if s.firstCh != nil {
			res := <-s.firstCh
			s.firstCh = nil
			msg, err = res.msg, res.err
		} else {
			msg, err = s.live.Receive()
		}
		if err != nil {
			return Event{}, err
		}
		if msg == nil || msg.SetupComplete != nil {
			continue
		}

		event, ok := demux(msg)
		if !ok {
			continue
		}
		return event, nil
	}
}

func (s *geminiStream) Close() error {
	return s.live.Close()
}

// demux flattens one live server message into an Event.
func demux(msg *genai.LiveServerMessage) (Event, bool) {
	sc := msg.ServerContent
	if sc == nil {
		return Event{}, false
	}

	var event Event
	event.TurnComplete = sc.TurnComplete
	event.Interrupted = sc.Interrupted

	if sc.ModelTurn != nil {
		var text strings.Builder
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				event.Audio = append(event.Audio, part.InlineData.Data...)
				if event.AudioMIME == "" {
					event.AudioMIME = part.InlineData.MIMEType
				}
			}
		}
		event.Text = text.String()
	}
	if event.AudioMIME == "" && len(event.Audio) > 0 {
		event.AudioMIME = liveAudioMIME
	}

	if len(event.Audio) == 0 && event.Text == "" && !event.TurnComplete && !event.Interrupted {
		return Event{}, false
	}
	return event, true
}
