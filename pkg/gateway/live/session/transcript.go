package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awaazlabs/voicejournal/pkg/store"
)

// transcriptRecorder accumulates the session's exchange log. User entries are
// appended when an utterance is transcribed or typed; assistant text entries
// at delivery, and audio-derived entries only once the client confirmed
// playback, so the transcript reflects what the user actually heard.
type transcriptRecorder struct {
	mu        sync.Mutex
	exchanges []store.Exchange
	now       func() time.Time
}

func newTranscriptRecorder(now func() time.Time) *transcriptRecorder {
	if now == nil {
		now = time.Now
	}
	return &transcriptRecorder{
		exchanges: make([]store.Exchange, 0, 16),
		now:       now,
	}
}

func (t *transcriptRecorder) AppendUser(text, contentType string) {
	t.append("user", text, contentType, nil)
}

func (t *transcriptRecorder) AppendAssistant(text, contentType string, meta map[string]string) {
	t.append("assistant", text, contentType, meta)
}

func (t *transcriptRecorder) append(role, text, contentType string, meta map[string]string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanges = append(t.exchanges, store.Exchange{
		ID:          uuid.NewString(),
		Timestamp:   t.now(),
		Role:        role,
		Content:     text,
		ContentType: contentType,
		Metadata:    meta,
	})
}

func (t *transcriptRecorder) Snapshot() []store.Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]store.Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

// Render flattens the exchange log into the "role: content" transcript format
// consumed by the analysis pipeline.
func (t *transcriptRecorder) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, ex := range t.exchanges {
		b.WriteString(ex.Role)
		b.WriteString(": ")
		b.WriteString(ex.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *transcriptRecorder) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exchanges)
}
