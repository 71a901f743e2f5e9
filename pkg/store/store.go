// Package store defines the durable session/transcript store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id has no persisted record.
var ErrNotFound = errors.New("session not found")

// Analysis status values surfaced to polling clients.
const (
	AnalysisProcessing = "processing"
	AnalysisCompleted  = "completed"
	AnalysisFailed     = "failed"
)

// Exchange is one transcript entry. Assistant entries are ordered by
// confirmed playback, user entries by receipt.
type Exchange struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// JournalSession is the durable journal record: session metadata, the
// transcript, and (once analysis completes) the analysis payload.
type JournalSession struct {
	SessionID       string          `json:"session_id"`
	UserID          string          `json:"user_id"`
	Mode            string          `json:"mode"`
	Transcript      string          `json:"transcript"`
	Exchanges       []Exchange      `json:"exchanges,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	ExchangeCount   int             `json:"exchange_count"`
	AnalysisStatus  string          `json:"analysis_status"`
	AnalysisData    json.RawMessage `json:"analysis_data,omitempty"`
	AnalysisError   string          `json:"analysis_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Store persists journal sessions. SaveSession is an idempotent upsert
// keyed by session id: re-saving the same id overwrites rather than
// duplicates.
type Store interface {
	SaveSession(ctx context.Context, s JournalSession) error
	GetSession(ctx context.Context, sessionID string) (JournalSession, error)
	MarkAnalysisCompleted(ctx context.Context, sessionID string, data json.RawMessage) error
	MarkAnalysisFailed(ctx context.Context, sessionID, message string) error
	ListSessions(ctx context.Context, limit int) ([]JournalSession, error)
	ListSummaries(ctx context.Context, limit int) ([]JournalSession, error)
}
