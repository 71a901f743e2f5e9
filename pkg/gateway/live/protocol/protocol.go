// Package protocol defines the JSON messages exchanged over a live
// journaling session and their validation rules.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Session modes.
const (
	ModeWellness = "wellness"
	ModeStudy    = "study"
)

// Server status values.
const (
	StatusConfigReceived = "config_received"
	StatusConnected      = "connected"
	StatusListening      = "listening"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// SessionConfig is the client-supplied session configuration. Booleans are
// pointers so absent fields keep their documented defaults.
type SessionConfig struct {
	Mode               string `json:"mode"`
	Voice              string `json:"voice,omitempty"`
	VADEnabled         *bool  `json:"vad_enabled,omitempty"`
	AllowInterruptions *bool  `json:"allow_interruptions,omitempty"`
}

// VAD reports whether voice-activity gating is enabled (default true).
func (c SessionConfig) VAD() bool {
	return c.VADEnabled == nil || *c.VADEnabled
}

// Interruptions reports whether the user may speak over assistant playback
// (default false).
func (c SessionConfig) Interruptions() bool {
	return c.AllowInterruptions != nil && *c.AllowInterruptions
}

// ClientConfig must be the first message of every session.
type ClientConfig struct {
	Type   string        `json:"type"`
	Config SessionConfig `json:"config"`
}

// ClientAudio carries one base64-encoded PCM frame.
type ClientAudio struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// ClientText is a typed user message.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientAudioPlayed confirms the client finished playing an audio item.
type ClientAudioPlayed struct {
	Type    string `json:"type"`
	AudioID string `json:"audioId"`
}

// ClientDisconnect requests a graceful session end.
type ClientDisconnect struct {
	Type string `json:"type"`
}

// ServerStatus reports session lifecycle progress to the client.
type ServerStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
}

// ServerAudio delivers one synthesized audio payload.
type ServerAudio struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	AudioID  string `json:"audioId"`
}

// ServerText delivers an assistant text reply.
type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerError is the terminal error frame.
type ServerError struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewStatus builds a status frame.
func NewStatus(status, text string) ServerStatus {
	return ServerStatus{Type: "status", Status: status, Text: text}
}

// NewAudio builds an audio delivery frame.
func NewAudio(dataB64, mimeType, audioID string) ServerAudio {
	return ServerAudio{Type: "audio", Data: dataB64, MimeType: mimeType, AudioID: audioID}
}

// NewText builds an assistant text frame.
func NewText(text string) ServerText {
	return ServerText{Type: "text", Text: text}
}

// NewError builds an error frame.
func NewError(text string) ServerError {
	return ServerError{Type: "error", Text: text}
}

// DecodeClientMessage parses and validates one inbound client frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "config":
		var msg ClientConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid config frame", "")
		}
		if err := ValidateSessionConfig(&msg.Config); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		if msg.SampleRate < 0 {
			return nil, badRequest("audio.sampleRate must be >= 0", "sampleRate")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "audio_played":
		var msg ClientAudioPlayed
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_played frame", "")
		}
		if strings.TrimSpace(msg.AudioID) == "" {
			return nil, badRequest("audio_played.audioId is required", "audioId")
		}
		return msg, nil
	case "disconnect":
		return ClientDisconnect{Type: "disconnect"}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// ValidateSessionConfig normalizes and validates a session configuration.
// An empty mode defaults to wellness.
func ValidateSessionConfig(cfg *SessionConfig) error {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeWellness
	}
	if mode != ModeWellness && mode != ModeStudy {
		return unsupported("config.mode must be wellness or study", "config.mode")
	}
	cfg.Mode = mode
	cfg.Voice = strings.TrimSpace(cfg.Voice)
	return nil
}
