package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/awaazlabs/voicejournal/pkg/core/retrieval"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

const defaultMaxSafetyIterations = 3

// Orchestrator runs the post-session pipeline. Analyze never returns an
// error: every failure path degrades to a safe default so the caller always
// receives a persistable result.
type Orchestrator struct {
	summarizer  Agent
	recommender Agent
	reviewer    Agent
	refiner     Agent

	retrieval *retrieval.Service
	store     store.Store
	logger    *slog.Logger

	maxIterations int
}

// Config wires the orchestrator's collaborators. Retrieval is optional.
type Config struct {
	Summarizer    Agent
	Recommender   Agent
	Reviewer      Agent
	Refiner       Agent
	Retrieval     *retrieval.Service
	Store         store.Store
	Logger        *slog.Logger
	MaxIterations int
}

// NewOrchestrator builds an orchestrator with the safety-loop cap
// (<= 0 uses the default of 3).
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxSafetyIterations
	}
	return &Orchestrator{
		summarizer:    cfg.Summarizer,
		recommender:   cfg.Recommender,
		reviewer:      cfg.Reviewer,
		refiner:       cfg.Refiner,
		retrieval:     cfg.Retrieval,
		store:         cfg.Store,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
	}
}

// Analyze runs the parallel phase then the bounded safety loop and returns
// the merged result. It fails closed: agent errors and malformed output are
// normalized away, never propagated.
func (o *Orchestrator) Analyze(ctx context.Context, transcript, mode string) Result {
	ragContext := ""
	if o.retrieval != nil {
		ragContext = o.retrieval.Retrieve(ctx, retrievalQuery(transcript), mode).Context
	}

	var summaryRaw, recRaw string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summaryRaw = o.runAgent(gctx, o.summarizer, summaryPrompt(mode, transcript, ragContext), "summarizer")
		return nil
	})
	g.Go(func() error {
		recRaw = o.runAgent(gctx, o.recommender, recommendationPrompt(mode, transcript, ragContext), "recommender")
		return nil
	})
	_ = g.Wait()

	summary := NormalizeSummary(summaryRaw)
	rec := NormalizeRecommendation(recRaw)
	if len(rec.WellnessPathways) == 0 {
		rec.WellnessPathways = DefaultPathways(mode)
	}

	safety, iterations := o.safetyLoop(ctx, &summary, &rec)

	return Result{
		TranscriptSummary:    summary,
		StatsRecommendations: rec,
		SafetyApproved:       safety.Approved,
		SafetyScore:          safety.Score,
		SafetyIterations:     iterations,
	}
}

// safetyLoop runs reviewer/refiner iterations, strictly sequential and
// capped. Without an explicit approval within the budget it terminates with
// the default-safe verdict.
func (o *Orchestrator) safetyLoop(ctx context.Context, summary *Summary, rec *Recommendation) (Safety, int) {
	iterations := 0
	for i := 0; i < o.maxIterations; i++ {
		iterations++

		reviewRaw := o.runAgent(ctx, o.reviewer, reviewerPrompt(*summary, *rec), "reviewer")
		verdict, approved := ParseReviewerVerdict(reviewRaw)
		if approved {
			return verdict, iterations
		}

		refinedRaw := o.runAgent(ctx, o.refiner, refinerPrompt(*summary, *rec, verdict.Feedback), "refiner")
		o.applyRefinement(refinedRaw, summary, rec)
	}
	return DefaultSafety(), iterations
}

// applyRefinement merges refiner output into the working summary and
// recommendation. Unparseable output keeps the previous revision.
func (o *Orchestrator) applyRefinement(raw string, summary *Summary, rec *Recommendation) {
	cleaned := StripMarkdownFences(raw)
	var refined struct {
		TranscriptSummary    json.RawMessage `json:"transcript_summary"`
		StatsRecommendations json.RawMessage `json:"stats_recommendations"`
	}
	if err := json.Unmarshal([]byte(cleaned), &refined); err != nil {
		o.logger.Warn("refiner output unparseable, keeping previous revision")
		return
	}
	if len(refined.TranscriptSummary) > 0 {
		*summary = NormalizeSummary(string(refined.TranscriptSummary))
	}
	if len(refined.StatsRecommendations) > 0 {
		*rec = NormalizeRecommendation(string(refined.StatsRecommendations))
	}
}

func (o *Orchestrator) runAgent(ctx context.Context, agent Agent, prompt, name string) string {
	if agent == nil {
		return ""
	}
	out, err := agent.Generate(ctx, prompt)
	if err != nil {
		o.logger.Warn("analysis agent failed", "agent", name, "error", err)
		return ""
	}
	return out
}

// ProcessSession loads a persisted session, analyzes it, and records the
// outcome. Persistence is idempotent per session id.
func (o *Orchestrator) ProcessSession(ctx context.Context, sessionID string) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		o.logger.Error("analysis target not found", "session_id", sessionID, "error", err)
		return
	}

	result := o.Analyze(ctx, sess.Transcript, sess.Mode)
	data, err := json.Marshal(result)
	if err != nil {
		o.logger.Error("encode analysis result", "session_id", sessionID, "error", err)
		_ = o.store.MarkAnalysisFailed(ctx, sessionID, "failed to encode analysis result")
		return
	}
	if err := o.store.MarkAnalysisCompleted(ctx, sessionID, data); err != nil {
		o.logger.Error("persist analysis result", "session_id", sessionID, "error", err)
		_ = o.store.MarkAnalysisFailed(ctx, sessionID, err.Error())
		return
	}
	o.logger.Info("analysis completed",
		"session_id", sessionID,
		"mode", sess.Mode,
		"safety_iterations", result.SafetyIterations,
		"safety_approved", result.SafetyApproved,
	)
}

// retrievalQuery trims long transcripts to their tail so the retrieval
// query reflects the most recent part of the conversation.
func retrievalQuery(transcript string) string {
	const maxQueryBytes = 2000
	transcript = strings.TrimSpace(transcript)
	if len(transcript) <= maxQueryBytes {
		return transcript
	}
	return transcript[len(transcript)-maxQueryBytes:]
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
