package audio

import (
	"math"
)

// Config specifies PCM audio format parameters.
type Config struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultCaptureConfig returns the client capture format (16kHz mono s16le).
func DefaultCaptureConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// DefaultUpstreamConfig returns the format the conversational service expects
// (24kHz mono s16le).
func DefaultUpstreamConfig() Config {
	return Config{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Normalize to -1.0 to 1.0
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// SilenceFrame returns an all-zero PCM frame with exactly the same byte
// length as the input. Non-speech frames are replaced with one of these
// before forwarding so the upstream service still receives a continuous,
// correctly timed stream.
func SilenceFrame(frame []byte) []byte {
	return make([]byte, len(frame))
}

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The output holds round(samples * dstRate / srcRate)
// samples; 512 samples at 16kHz become exactly 768 at 24kHz.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	outN := int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
	if outN <= 0 {
		return nil
	}

	out := make([]byte, outN*2)
	if outN == 1 || n == 1 {
		for i := 0; i < outN; i++ {
			out[2*i] = byte(samples[0])
			out[2*i+1] = byte(uint16(samples[0]) >> 8)
		}
		return out
	}

	step := float64(n-1) / float64(outN-1)
	for i := 0; i < outN; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		var v float64
		if idx+1 < n {
			v = float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		} else {
			v = float64(samples[n-1])
		}
		s := int16(math.Round(v))
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
