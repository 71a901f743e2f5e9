package upstream

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const transcribePrompt = "Transcribe this audio verbatim. Return only the spoken words, with no commentary. If there is no intelligible speech, return an empty response."

// GeminiTranscriber transcribes PCM audio through the Gemini API.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

// NewGeminiTranscriber creates a transcriber using the given model.
func NewGeminiTranscriber(client *genai.Client, model string) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, model: model}
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("transcriber has no client")
	}
	if len(pcm) == 0 {
		return "", nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{
				Data:     pcm,
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
			}},
		},
	}}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
