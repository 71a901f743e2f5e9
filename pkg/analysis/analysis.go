// Package analysis runs the post-session pipeline: parallel summarization
// and recommendation, a bounded safety-review loop, and exactly-once
// persistence of the merged result.
package analysis

// Summary is the mood/stress summary produced for a finished transcript.
type Summary struct {
	Mood             string   `json:"mood"`
	Sentiment        string   `json:"sentiment"`
	KeyThemes        []string `json:"key_themes"`
	StressLevel      string   `json:"stress_level,omitempty"`
	AcademicConcerns []string `json:"academic_concerns,omitempty"`
	Summary          string   `json:"summary"`
}

// Task is a recommended action with an urgency/importance quadrant.
type Task struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Quadrant string `json:"quadrant"`
	DueDate  string `json:"due_date,omitempty"`
}

// Recommendation is the actionable half of the analysis payload.
type Recommendation struct {
	Recommendations   []string `json:"recommendations"`
	WellnessExercises []string `json:"wellness_exercises"`
	Resources         []string `json:"resources"`
	Tone              string   `json:"tone"`
	Tasks             []Task   `json:"tasks,omitempty"`
	WellnessPathways  []string `json:"wellness_pathways,omitempty"`
	StudyFocusTips    []string `json:"study_focus_tips,omitempty"`
}

// Safety is the reviewer's verdict. The score is advisory, not a verified
// probability.
type Safety struct {
	Approved bool    `json:"safety_approved"`
	Score    float64 `json:"safety_score"`
	Feedback string  `json:"feedback,omitempty"`
}

// Result is the merged analysis payload persisted per session.
type Result struct {
	TranscriptSummary    Summary        `json:"transcript_summary"`
	StatsRecommendations Recommendation `json:"stats_recommendations"`
	SafetyApproved       bool           `json:"safety_approved"`
	SafetyScore          float64        `json:"safety_score"`
	SafetyIterations     int            `json:"safety_iterations"`
}
