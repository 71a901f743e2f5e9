package audio

import (
	"sync"
	"time"
)

// BufferConfig tunes the transcription buffer's flush policy. The thresholds
// are tunable parameters, not fixed contracts.
type BufferConfig struct {
	// MinDuration is the least buffered speech before a flush may fire.
	// Default: 500ms.
	MinDuration time.Duration `json:"min_duration"`

	// MaxDuration forces a flush regardless of cooldown to bound memory
	// and latency. Default: 3s.
	MaxDuration time.Duration `json:"max_duration"`

	// Cooldown is the minimum gap between consecutive flushes.
	// Default: 200ms.
	Cooldown time.Duration `json:"cooldown"`
}

// DefaultBufferConfig returns a BufferConfig with sensible defaults.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MinDuration: 500 * time.Millisecond,
		MaxDuration: 3 * time.Second,
		Cooldown:    200 * time.Millisecond,
	}
}

// TranscriptionBuffer accumulates speech frames for one client until the
// flush policy releases them for background transcription. It is cleared
// unconditionally on every flush, whether or not transcription succeeds.
type TranscriptionBuffer struct {
	mu        sync.Mutex
	cfg       BufferConfig
	audioCfg  Config
	data      []byte
	duration  time.Duration
	lastFlush time.Time
}

// NewTranscriptionBuffer creates a buffer for audio in the given format.
func NewTranscriptionBuffer(cfg BufferConfig, audioCfg Config) *TranscriptionBuffer {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 500 * time.Millisecond
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 3 * time.Second
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &TranscriptionBuffer{
		cfg:      cfg,
		audioCfg: audioCfg,
		data:     make([]byte, 0, audioCfg.BytesForDurationMs(int(cfg.MaxDuration/time.Millisecond))),
	}
}

// Append adds a speech frame and accumulates its estimated duration.
func (b *TranscriptionBuffer) Append(frame []byte) {
	if len(frame) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, frame...)
	b.duration += time.Duration(b.audioCfg.DurationMs(len(frame))) * time.Millisecond
}

// ShouldFlush reports whether the buffer is ready to be flushed at now.
// A flush fires when the buffer is non-empty, holds at least MinDuration of
// speech, and the cooldown since the previous flush has elapsed. Reaching
// MaxDuration forces a flush regardless of cooldown.
func (b *TranscriptionBuffer) ShouldFlush(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return false
	}
	if b.duration >= b.cfg.MaxDuration {
		return true
	}
	if b.duration < b.cfg.MinDuration {
		return false
	}
	if !b.lastFlush.IsZero() && now.Sub(b.lastFlush) < b.cfg.Cooldown {
		return false
	}
	return true
}

// Flush returns the buffered audio and resets the buffer. The clear happens
// here, before the caller attempts transcription, so a failed transcription
// can never leave stale bytes behind.
func (b *TranscriptionBuffer) Flush(now time.Time) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	b.duration = 0
	b.lastFlush = now
	return out
}

// Len returns the buffered byte count.
func (b *TranscriptionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Duration returns the accumulated speech duration.
func (b *TranscriptionBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}
