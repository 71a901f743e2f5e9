package analysis

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Agent is one analysis step: prompt in, raw model output out.
type Agent interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiAgent runs prompts against the Gemini API.
type GeminiAgent struct {
	client *genai.Client
	model  string
}

// NewGeminiAgent creates an agent using the given model.
func NewGeminiAgent(client *genai.Client, model string) *GeminiAgent {
	return &GeminiAgent{client: client, model: model}
}

func (a *GeminiAgent) Generate(ctx context.Context, prompt string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("agent has no client")
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}

func summaryPrompt(mode, transcript, ragContext string) string {
	var b strings.Builder
	b.WriteString("You analyze a voice journaling session transcript for a ")
	b.WriteString(modeDescription(mode))
	b.WriteString(`.
Return JSON with fields: "mood", "sentiment", "key_themes" (array), "summary"`)
	if strings.EqualFold(mode, "study") {
		b.WriteString(`, "stress_level", "academic_concerns" (array)`)
	}
	b.WriteString(".\nReturn only JSON.\n")
	if ragContext != "" {
		b.WriteString("\nBackground context:\n")
		b.WriteString(ragContext)
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func recommendationPrompt(mode, transcript, ragContext string) string {
	var b strings.Builder
	b.WriteString("You produce gentle, actionable recommendations from a voice journaling session for a ")
	b.WriteString(modeDescription(mode))
	b.WriteString(`.
Return JSON with fields: "recommendations" (array), "wellness_exercises" (array),
"resources" (array), "tone", "tasks" (array of {"title","priority","due_date"}),
"wellness_pathways" (array)`)
	if strings.EqualFold(mode, "study") {
		b.WriteString(`, "study_focus_tips" (array)`)
	}
	b.WriteString(".\nReturn only JSON.\n")
	if ragContext != "" {
		b.WriteString("\nBackground context:\n")
		b.WriteString(ragContext)
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func reviewerPrompt(summary Summary, rec Recommendation) string {
	return fmt.Sprintf(`You are a safety reviewer for wellness content. Evaluate the analysis below
for harmful, dismissive, or clinically inappropriate advice.

If the content is safe, respond with exactly %s.
Otherwise respond with specific feedback describing what must change.

Summary: %s
Mood: %s
Recommendations: %s
Exercises: %s`,
		SafetyApprovedMarker,
		summary.Summary, summary.Mood,
		strings.Join(rec.Recommendations, "; "),
		strings.Join(rec.WellnessExercises, "; "))
}

func refinerPrompt(summary Summary, rec Recommendation, feedback string) string {
	return fmt.Sprintf(`Revise the analysis below to address the safety reviewer's feedback.
Return JSON with fields "transcript_summary" and "stats_recommendations"
matching the original shapes. Return only JSON.

Feedback:
%s

Current summary:
%s

Current recommendations:
%s`, feedback, mustJSON(summary), mustJSON(rec))
}

func modeDescription(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), "study") {
		return "student managing coursework and exam stress"
	}
	return "person reflecting on their mental wellness"
}
