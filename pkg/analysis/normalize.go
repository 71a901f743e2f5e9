package analysis

import (
	"encoding/json"
	"strings"
)

// SafetyApprovedMarker is the textual approval signal reviewers may emit
// instead of structured output.
const SafetyApprovedMarker = "SAFETY_APPROVED"

const (
	markerSafetyScore  = 0.95
	defaultSafetyScore = 0.9
)

// StripMarkdownFences removes ```json / ``` wrappers around model output.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// NormalizeSummary turns raw summarizer output into a valid Summary. The
// fallback is total: unparseable output becomes a neutral summary carrying
// the raw text, never an error.
func NormalizeSummary(raw string) Summary {
	cleaned := StripMarkdownFences(raw)

	var s Summary
	if err := json.Unmarshal([]byte(cleaned), &s); err == nil {
		if s.Mood == "" {
			s.Mood = "neutral"
		}
		if s.Sentiment == "" {
			s.Sentiment = "neutral"
		}
		if s.KeyThemes == nil {
			s.KeyThemes = []string{}
		}
		return s
	}

	return Summary{
		Mood:      "neutral",
		Sentiment: "neutral",
		KeyThemes: []string{},
		Summary:   cleaned,
	}
}

// NormalizeRecommendation turns raw recommender output into a valid
// Recommendation. A non-JSON input yields the minimal supportive shape.
func NormalizeRecommendation(raw string) Recommendation {
	cleaned := StripMarkdownFences(raw)

	var r Recommendation
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return Recommendation{
			Recommendations:   []string{},
			WellnessExercises: []string{},
			Resources:         []string{},
			Tone:              "supportive",
		}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	if r.WellnessExercises == nil {
		r.WellnessExercises = []string{}
	}
	if r.Resources == nil {
		r.Resources = []string{}
	}
	if strings.TrimSpace(r.Tone) == "" {
		r.Tone = "supportive"
	}
	for i := range r.Tasks {
		if r.Tasks[i].Quadrant == "" {
			r.Tasks[i].Quadrant = quadrantForPriority(r.Tasks[i].Priority)
		}
	}
	return r
}

func quadrantForPriority(priority string) string {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "high", "urgent":
		return "urgent_important"
	case "medium":
		return "not_urgent_important"
	case "low":
		return "not_urgent_not_important"
	default:
		return "not_urgent_important"
	}
}

// ParseReviewerVerdict extracts an explicit safety verdict from reviewer
// output. ok is true only when the reviewer explicitly approved, either via
// structured output or the textual approval marker; anything else is treated
// as free-form feedback for the refiner.
func ParseReviewerVerdict(raw string) (verdict Safety, ok bool) {
	cleaned := StripMarkdownFences(raw)

	var s Safety
	if err := json.Unmarshal([]byte(cleaned), &s); err == nil && (s.Approved || s.Score > 0 || s.Feedback != "") {
		s.Score = clampScore(s.Score)
		if s.Approved && s.Score == 0 {
			s.Score = markerSafetyScore
		}
		return s, s.Approved
	}

	if strings.Contains(cleaned, SafetyApprovedMarker) {
		return Safety{Approved: true, Score: markerSafetyScore}, true
	}
	return Safety{Approved: false, Feedback: cleaned}, false
}

// DefaultSafety is the verdict used when the review loop exhausts its
// iteration budget without an explicit approval: approved with moderate
// confidence rather than blocking persistence indefinitely.
func DefaultSafety() Safety {
	return Safety{Approved: true, Score: defaultSafetyScore}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// DefaultPathways returns the wellness pathways suggested when the
// recommender produced none.
func DefaultPathways(mode string) []string {
	if strings.EqualFold(strings.TrimSpace(mode), "study") {
		return []string{"focus", "time_management", "stress_relief"}
	}
	return []string{"mindfulness", "sleep", "movement"}
}
