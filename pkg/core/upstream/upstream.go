// Package upstream maintains the persistent bidirectional channel to the
// conversational AI service and demultiplexes its event stream.
package upstream

import "context"

// Event is one demultiplexed message from the conversational service.
// Audio carries synthesized PCM, Text carries a direct text reply,
// TurnComplete signals the model finished its turn, and Interrupted signals
// the model was cut off and pending playback should be discarded.
type Event struct {
	Audio        []byte
	AudioMIME    string
	Text         string
	TurnComplete bool
	Interrupted  bool
}

// SessionConfig is the one-time setup sent when a stream opens.
type SessionConfig struct {
	Voice             string
	SystemInstruction string
}

// Stream is an open bidirectional session with the conversational service.
type Stream interface {
	// SendAudio forwards PCM audio at the service's required sample rate.
	SendAudio(pcm []byte) error
	// SendText forwards a user text turn.
	SendText(text string) error
	// Recv blocks for the next event. It returns an error when the stream
	// ends or breaks.
	Recv() (Event, error)
	Close() error
}

// Client opens streams to the conversational service.
type Client interface {
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// Transcriber converts PCM audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
