package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awaazlabs/voicejournal/pkg/gateway/apierror"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/protocol"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

const maxJournalBodyBytes = 1 << 20

// Analyzer runs post-session analysis for a persisted journal session.
type Analyzer interface {
	ProcessSession(ctx context.Context, sessionID string)
}

// JournalCompleteHandler accepts a finished session transcript, persists it,
// and schedules background analysis.
type JournalCompleteHandler struct {
	Store    store.Store
	Analyzer Analyzer
	Logger   *slog.Logger
}

func (h JournalCompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var req struct {
		SessionID       string  `json:"session_id"`
		Transcript      string  `json:"transcript"`
		Mode            string  `json:"mode"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJournalBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierror.BadRequest("invalid json body", ""))
		return
	}

	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, r, apierror.BadRequest("transcript is required", "transcript"))
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = protocol.ModeWellness
	}
	if mode != protocol.ModeWellness && mode != protocol.ModeStudy {
		writeError(w, r, apierror.BadRequest("mode must be wellness or study", "mode"))
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, r, apierror.BadRequest("duration_seconds must be >= 0", "duration_seconds"))
		return
	}

	// Resubmitting the same session id overwrites the prior record instead of
	// duplicating it.
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	err := h.Store.SaveSession(r.Context(), store.JournalSession{
		SessionID:       sessionID,
		Mode:            mode,
		Transcript:      req.Transcript,
		DurationSeconds: req.DurationSeconds,
		AnalysisStatus:  store.AnalysisProcessing,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.Analyzer != nil {
		go h.Analyzer.ProcessSession(context.WithoutCancel(r.Context()), sessionID)
	} else if h.Logger != nil {
		h.Logger.Warn("no analyzer configured, session saved without analysis", "session_id", sessionID)
	}

	writeJSON(w, http.StatusOK, struct {
		SessionID      string `json:"session_id"`
		AnalysisStatus string `json:"analysis_status"`
	}{SessionID: sessionID, AnalysisStatus: store.AnalysisProcessing})
}

// JournalAnalysisHandler serves the analysis polling endpoint.
type JournalAnalysisHandler struct {
	Store store.Store
}

func (h JournalAnalysisHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeError(w, r, apierror.BadRequest("session id is required", "id"))
		return
	}

	sess, err := h.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		SessionID       string          `json:"session_id"`
		Status          string          `json:"status"`
		Mode            string          `json:"mode"`
		Transcript      string          `json:"transcript"`
		DurationSeconds float64         `json:"duration_seconds"`
		ExchangeCount   int             `json:"exchange_count"`
		Analysis        json.RawMessage `json:"analysis,omitempty"`
		Error           string          `json:"error,omitempty"`
		CreatedAt       time.Time       `json:"created_at"`
	}{
		SessionID:       sess.SessionID,
		Status:          sess.AnalysisStatus,
		Mode:            sess.Mode,
		Transcript:      sess.Transcript,
		DurationSeconds: sess.DurationSeconds,
		ExchangeCount:   sess.ExchangeCount,
		Analysis:        sess.AnalysisData,
		Error:           sess.AnalysisError,
		CreatedAt:       sess.CreatedAt,
	})
}

type sessionListItem struct {
	SessionID       string    `json:"session_id"`
	Mode            string    `json:"mode"`
	DurationSeconds float64   `json:"duration_seconds"`
	ExchangeCount   int       `json:"exchange_count"`
	AnalysisStatus  string    `json:"analysis_status"`
	CreatedAt       time.Time `json:"created_at"`
}

// JournalSessionsHandler lists recent sessions, newest first.
type JournalSessionsHandler struct {
	Store store.Store
}

func (h JournalSessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	sessions, err := h.Store.ListSessions(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]sessionListItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionListItem{
			SessionID:       s.SessionID,
			Mode:            s.Mode,
			DurationSeconds: s.DurationSeconds,
			ExchangeCount:   s.ExchangeCount,
			AnalysisStatus:  s.AnalysisStatus,
			CreatedAt:       s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []sessionListItem `json:"sessions"`
	}{Sessions: items})
}

// JournalSummariesHandler lists completed analyses, newest first.
type JournalSummariesHandler struct {
	Store store.Store
}

func (h JournalSummariesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}

	sessions, err := h.Store.ListSummaries(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	type summaryItem struct {
		SessionID string          `json:"session_id"`
		Mode      string          `json:"mode"`
		Analysis  json.RawMessage `json:"analysis"`
		CreatedAt time.Time       `json:"created_at"`
	}
	items := make([]summaryItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, summaryItem{
			SessionID: s.SessionID,
			Mode:      s.Mode,
			Analysis:  s.AnalysisData,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Summaries []summaryItem `json:"summaries"`
	}{Summaries: items})
}

func listLimit(r *http.Request) int {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
