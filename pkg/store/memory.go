package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]JournalSession
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]JournalSession),
		now:      time.Now,
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, s JournalSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.CreatedAt.IsZero() {
		if existing, ok := m.sessions[s.SessionID]; ok {
			s.CreatedAt = existing.CreatedAt
		} else {
			s.CreatedAt = m.now()
		}
	}
	if s.AnalysisStatus == "" {
		s.AnalysisStatus = AnalysisProcessing
	}
	m.sessions[s.SessionID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (JournalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return JournalSession{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) MarkAnalysisCompleted(_ context.Context, sessionID string, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.AnalysisStatus = AnalysisCompleted
	s.AnalysisData = append(json.RawMessage(nil), data...)
	s.AnalysisError = ""
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) MarkAnalysisFailed(_ context.Context, sessionID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.AnalysisStatus = AnalysisFailed
	s.AnalysisError = message
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]JournalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(limit, func(JournalSession) bool { return true }), nil
}

func (m *MemoryStore) ListSummaries(_ context.Context, limit int) ([]JournalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(limit, func(s JournalSession) bool {
		return s.AnalysisStatus == AnalysisCompleted
	}), nil
}

func (m *MemoryStore) listLocked(limit int, keep func(JournalSession) bool) []JournalSession {
	out := make([]JournalSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneSession(s JournalSession) JournalSession {
	out := s
	if s.Exchanges != nil {
		out.Exchanges = make([]Exchange, len(s.Exchanges))
		copy(out.Exchanges, s.Exchanges)
	}
	if s.AnalysisData != nil {
		out.AnalysisData = append(json.RawMessage(nil), s.AnalysisData...)
	}
	return out
}
