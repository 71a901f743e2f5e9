package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awaazlabs/voicejournal/pkg/core/audio"
	"github.com/awaazlabs/voicejournal/pkg/core/upstream"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/protocol"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

type fakeConn struct {
	in     chan []byte
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{in: make(chan []byte, 16)} }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		c.frames = append(c.frames, cp)
	}
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// deliveredAudioID scans written frames for the first audio delivery.
func (c *fakeConn) deliveredAudioID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, frame := range c.frames {
		var msg protocol.ServerAudio
		if err := json.Unmarshal(frame, &msg); err == nil && msg.Type == "audio" {
			return msg.AudioID, true
		}
	}
	return "", false
}

func (c *fakeConn) sawErrorFrame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, frame := range c.frames {
		var msg protocol.ServerError
		if err := json.Unmarshal(frame, &msg); err == nil && msg.Type == "error" {
			return true
		}
	}
	return false
}

type fakeStream struct {
	events    chan upstream.Event
	mu        sync.Mutex
	audio     [][]byte
	texts     []string
	closeOnce sync.Once
}

func newFakeStream() *fakeStream { return &fakeStream{events: make(chan upstream.Event, 8)} }

func (s *fakeStream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *fakeStream) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeStream) Recv() (upstream.Event, error) {
	ev, ok := <-s.events
	if !ok {
		return upstream.Event{}, io.EOF
	}
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *fakeStream) audioAt(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio[i]
}

func (s *fakeStream) textCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type fakeUpstream struct{ stream *fakeStream }

func (u *fakeUpstream) Connect(context.Context, upstream.SessionConfig) (upstream.Stream, error) {
	return u.stream, nil
}

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(context.Context, []byte, int) (string, error) {
	return f.text, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func loudFrame(samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], 8000)
	}
	return frame
}

// quietFrame is audible noise well below the speech energy threshold.
func quietFrame(samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], 12)
	}
	return frame
}

func audioFrameJSON(t *testing.T, pcm []byte, rate int) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type":       "audio",
		"data":       base64.StdEncoding.EncodeToString(pcm),
		"sampleRate": rate,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestSessionGatesMicDuringPlaybackAndOrdersTranscript(t *testing.T) {
	st := store.NewMemoryStore()
	stream := newFakeStream()
	conn := newFakeConn()

	sess, err := New(Dependencies{
		Conn:     conn,
		Upstream: &fakeUpstream{stream: stream},
		Store:    st,
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// User types; the exchange is recorded at receipt.
	conn.in <- []byte(`{"type":"text","text":"I had a rough day"}`)
	waitFor(t, "text forwarded upstream", func() bool { return stream.textCount() == 1 })
	if sess.transcript.Count() != 1 {
		t.Fatalf("transcript count = %d after user text, want 1", sess.transcript.Count())
	}

	// Assistant replies with an audio chunk and a text part.
	stream.events <- upstream.Event{Audio: []byte{1, 2, 3, 4}, Text: "That sounds hard."}
	var audioID string
	waitFor(t, "audio delivered to client", func() bool {
		id, ok := conn.deliveredAudioID()
		audioID = id
		return ok
	})

	// Speaking over playback with interruptions off: the frame is dropped.
	// The follow-up text proves the audio frame was already consumed.
	conn.in <- audioFrameJSON(t, loudFrame(512), 16000)
	conn.in <- []byte(`{"type":"text","text":"mostly work"}`)
	waitFor(t, "second text forwarded upstream", func() bool { return stream.textCount() == 2 })
	if stream.audioCount() != 0 {
		t.Fatal("frame sent during playback should be dropped, not forwarded")
	}

	// Turn completes; the text reply lands in the transcript at delivery,
	// before any playback confirmation.
	stream.events <- upstream.Event{TurnComplete: true}
	waitFor(t, "assistant text recorded at turn end", func() bool { return sess.transcript.Count() == 3 })

	conn.in <- []byte(`{"type":"audio_played","audioId":"` + audioID + `"}`)

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sessions, err := st.ListSessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("persisted sessions = %d, want 1", len(sessions))
	}
	want := "user: I had a rough day\nuser: mostly work\nassistant: That sounds hard."
	if sessions[0].Transcript != want {
		t.Fatalf("transcript = %q, want %q", sessions[0].Transcript, want)
	}
	if sessions[0].ExchangeCount != 3 {
		t.Fatalf("exchange count = %d, want 3", sessions[0].ExchangeCount)
	}
}

func TestSessionSubstitutesSilenceForNonSpeechFrames(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()

	sess, err := New(Dependencies{
		Conn:     conn,
		Upstream: &fakeUpstream{stream: stream},
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	conn.in <- audioFrameJSON(t, quietFrame(512), 16000)
	waitFor(t, "frame forwarded upstream", func() bool { return stream.audioCount() == 1 })

	sent := stream.audioAt(0)
	if len(sent) != 768*2 {
		t.Fatalf("forwarded frame = %d bytes, want 1536 (512 samples resampled 16k to 24k)", len(sent))
	}
	if !allZero(sent) {
		t.Fatal("non-speech frame must be forwarded as all-zero silence")
	}
	if sess.buffer.Len() != 0 {
		t.Fatalf("buffer holds %d bytes, non-speech audio must not be buffered", sess.buffer.Len())
	}

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSessionRecordsAudioTurnOnlyAfterConfirmation(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()

	sess, err := New(Dependencies{
		Conn:        conn,
		Upstream:    &fakeUpstream{stream: stream},
		Transcriber: &fakeTranscriber{text: "Take one small step tonight."},
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// An audio-only turn: no text events at all.
	stream.events <- upstream.Event{Audio: []byte{9, 9, 9, 9}}
	var audioID string
	waitFor(t, "audio delivered to client", func() bool {
		id, ok := conn.deliveredAudioID()
		audioID = id
		return ok
	})

	stream.events <- upstream.Event{TurnComplete: true}
	waitFor(t, "turn audio pending confirmation", func() bool {
		sess.pendingMu.Lock()
		defer sess.pendingMu.Unlock()
		_, ok := sess.pendingAudio[audioID]
		return ok
	})
	if sess.transcript.Count() != 0 {
		t.Fatalf("transcript count = %d before confirmation, want 0", sess.transcript.Count())
	}

	conn.in <- []byte(`{"type":"audio_played","audioId":"` + audioID + `"}`)
	waitFor(t, "assistant exchange derived after confirmation", func() bool { return sess.transcript.Count() == 1 })

	ex := sess.transcript.Snapshot()[0]
	if ex.Role != "assistant" || ex.Content != "Take one small step tonight." || ex.ContentType != "audio" {
		t.Fatalf("exchange = %+v", ex)
	}
	if ex.Metadata["audio_id"] != audioID {
		t.Fatalf("metadata = %v, want audio_id %q", ex.Metadata, audioID)
	}

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSessionInterruptionDropsQueuedPlayback(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()

	sess, err := New(Dependencies{
		Conn:     conn,
		Upstream: &fakeUpstream{stream: stream},
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// First chunk goes in flight, second stays queued behind it.
	stream.events <- upstream.Event{Audio: []byte{1, 1, 1, 1}}
	waitFor(t, "first chunk delivered", func() bool {
		_, ok := conn.deliveredAudioID()
		return ok
	})
	stream.events <- upstream.Event{Audio: []byte{2, 2, 2, 2}}
	waitFor(t, "second chunk queued", func() bool { return sess.queue.Len() == 1 })

	stream.events <- upstream.Event{Interrupted: true}
	waitFor(t, "queue cleared on interruption", func() bool {
		return sess.queue.Len() == 0 && !sess.queue.Playing()
	})

	// The microphone is open again: a speech frame reaches upstream.
	conn.in <- audioFrameJSON(t, loudFrame(512), 16000)
	waitFor(t, "speech forwarded after interruption", func() bool { return stream.audioCount() == 1 })

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSessionWarnBeforeRunDoesNotBlock(t *testing.T) {
	sess, err := New(Dependencies{
		Conn:     newFakeConn(),
		Upstream: &fakeUpstream{stream: newFakeStream()},
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	warned := make(chan struct{})
	go func() {
		sess.Warn("server is shutting down")
		close(warned)
	}()
	select {
	case <-warned:
	case <-time.After(2 * time.Second):
		t.Fatal("Warn blocked before Run started")
	}
}

func TestSessionTranscribesBufferedSpeech(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()

	cfg := DefaultConfig()
	cfg.Buffer = audio.BufferConfig{MinDuration: 10 * time.Millisecond, MaxDuration: time.Second}

	sess, err := New(Dependencies{
		Conn:        conn,
		Upstream:    &fakeUpstream{stream: stream},
		Transcriber: &fakeTranscriber{text: "hello there"},
	}, cfg, protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// One 32ms frame of loud speech crosses the minimum buffer duration.
	conn.in <- audioFrameJSON(t, loudFrame(512), 16000)
	waitFor(t, "utterance transcribed into transcript", func() bool { return sess.transcript.Count() == 1 })

	ex := sess.transcript.Snapshot()[0]
	if ex.Role != "user" || ex.Content != "hello there" || ex.ContentType != "audio" {
		t.Fatalf("exchange = %+v", ex)
	}

	// The live frame still reaches upstream unmuted.
	waitFor(t, "audio forwarded upstream", func() bool { return stream.audioCount() == 1 })
	if allZero(stream.audioAt(0)) {
		t.Fatal("speech frame should not be silenced while nothing is playing")
	}

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSessionRejectsSecondConfig(t *testing.T) {
	stream := newFakeStream()
	conn := newFakeConn()

	sess, err := New(Dependencies{
		Conn:     conn,
		Upstream: &fakeUpstream{stream: stream},
	}, DefaultConfig(), protocol.SessionConfig{Mode: protocol.ModeWellness})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	conn.in <- []byte(`{"type":"config","config":{"mode":"study"}}`)
	waitFor(t, "error frame for duplicate config", conn.sawErrorFrame)

	close(conn.in)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
