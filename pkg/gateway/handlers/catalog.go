package handlers

import (
	"net/http"

	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/protocol"
)

// availableVoices are the prebuilt Gemini Live voices a session may request.
var availableVoices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

type VoicesHandler struct {
	Config config.Config
}

func (h VoicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Voices  []string `json:"voices"`
		Default string   `json:"default"`
	}{Voices: availableVoices, Default: h.Config.DefaultVoice})
}

type agentMode struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AgentModesHandler struct{}

func (h AgentModesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Modes   map[string]agentMode `json:"modes"`
		Default string               `json:"default"`
	}{
		Modes: map[string]agentMode{
			protocol.ModeWellness: {
				Name:        "Wellness Journal",
				Description: "A space for voice journaling about daily experiences, emotions, and wellbeing",
			},
			protocol.ModeStudy: {
				Name:        "Study Journal",
				Description: "A space for voice journaling about academic experiences, challenges, and learning",
			},
		},
		Default: protocol.ModeWellness,
	})
}
