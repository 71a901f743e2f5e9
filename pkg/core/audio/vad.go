package audio

import "fmt"

// VADConfig configures energy-based voice activity detection.
type VADConfig struct {
	// Enabled turns VAD gating on or off. When disabled every frame is
	// treated as speech.
	Enabled bool `json:"enabled"`

	// WindowSamples is the fixed analysis window. Frames shorter than the
	// window are zero-padded; longer frames are center-cropped.
	// Default: 512 (32ms at 16kHz).
	WindowSamples int `json:"window_samples"`

	// EnergyThreshold is the RMS level at or above which a window counts
	// as speech. Range 0.0 to 1.0. Default: 0.015.
	EnergyThreshold float64 `json:"energy_threshold"`
}

// DefaultVADConfig returns a VADConfig with sensible defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Enabled:         true,
		WindowSamples:   512,
		EnergyThreshold: 0.015,
	}
}

// VAD classifies PCM frames as speech or silence over a fixed-size window.
type VAD struct {
	cfg VADConfig
}

// NewVAD creates a detector with the given configuration.
func NewVAD(cfg VADConfig) *VAD {
	if cfg.WindowSamples <= 0 {
		cfg.WindowSamples = 512
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = 0.015
	}
	return &VAD{cfg: cfg}
}

// IsSpeech reports whether the frame contains speech. When VAD is disabled,
// or when classification fails, the frame is treated as speech: losing user
// audio is worse than forwarding a little silence.
func (v *VAD) IsSpeech(frame []byte) bool {
	if v == nil || !v.cfg.Enabled {
		return true
	}
	speech, err := v.classify(frame)
	if err != nil {
		return true
	}
	return speech
}

func (v *VAD) classify(frame []byte) (bool, error) {
	if len(frame) < 2 {
		return false, fmt.Errorf("frame too short for classification: %d bytes", len(frame))
	}
	window := v.window(frame)
	return CalculateRMSEnergy(window) >= v.cfg.EnergyThreshold, nil
}

// window zero-pads short frames and center-crops long ones so the detector
// always analyzes exactly WindowSamples samples.
func (v *VAD) window(frame []byte) []byte {
	want := v.cfg.WindowSamples * 2
	if len(frame) == want {
		return frame
	}
	if len(frame) < want {
		padded := make([]byte, want)
		copy(padded, frame)
		return padded
	}
	start := (len(frame) - want) / 2
	// Keep sample alignment when cropping.
	start -= start % 2
	return frame[start : start+want]
}
