package retrieval

import (
	"strings"
	"sync"
)

const (
	defaultHistoryLimit = 10
	queryWindow         = 3
)

// HistoryEntry is one remembered exchange turn.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History keeps a bounded sliding window of recent exchanges per client.
// The window feeds retrieval-query augmentation; it is not the durable
// transcript.
type History struct {
	mu        sync.Mutex
	limit     int
	perClient map[string][]HistoryEntry
}

// NewHistory creates a history store keeping the last limit exchanges per
// client (<= 0 uses the default of 10).
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{
		limit:     limit,
		perClient: make(map[string][]HistoryEntry),
	}
}

// Append records an exchange for a client, evicting the oldest entry once
// the window is full.
func (h *History) Append(clientID, role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.perClient[clientID], HistoryEntry{Role: role, Content: content})
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}
	h.perClient[clientID] = entries
}

// Recent returns the last n exchanges for a client, oldest first.
func (h *History) Recent(clientID string, n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.perClient[clientID]
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]HistoryEntry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

// AugmentQuery prefixes a retrieval query with the client's recent exchange
// window so follow-up questions resolve against conversation context.
func (h *History) AugmentQuery(clientID, query string) string {
	recent := h.Recent(clientID, queryWindow)
	if len(recent) == 0 {
		return query
	}

	var b strings.Builder
	for _, e := range recent {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	b.WriteString(query)
	return b.String()
}

// Clear drops all remembered exchanges for a client.
func (h *History) Clear(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.perClient, clientID)
}

// Len returns the current window size for a client.
func (h *History) Len(clientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.perClient[clientID])
}
