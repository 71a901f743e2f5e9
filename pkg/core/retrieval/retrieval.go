// Package retrieval provides the context-retrieval layer for live sessions:
// a TTL cache keyed by (mode, query hash), a per-client conversation history
// window used to sharpen retrieval queries, and a service that degrades to an
// empty context when the knowledge backend is unavailable.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
)

// Document is one ranked hit from the knowledge index.
type Document struct {
	Rank    int     `json:"rank"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
}

// Result is the retrieval output injected into the conversation.
type Result struct {
	Context   string     `json:"context"`
	Documents []Document `json:"documents"`
}

// ErrQuotaExhausted marks a retrieval backend refusing further requests.
var ErrQuotaExhausted = errors.New("retrieval quota exhausted")

// Retriever queries an external ranked-retrieval service.
type Retriever interface {
	Retrieve(ctx context.Context, query, mode string, topK int) (Result, error)
}

// Cache stores retrieval results keyed by (mode, query hash).
type Cache interface {
	Get(ctx context.Context, mode, query string) (Result, bool)
	Set(ctx context.Context, mode, query string, res Result)
}

// CacheKey derives the cache key for a mode/query pair. Queries are hashed
// so arbitrarily long text still yields a compact key; modes are kept
// separate so wellness context never leaks into study sessions.
func CacheKey(mode, query string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(query)))
	return fmt.Sprintf("%s:%x", strings.TrimSpace(mode), h.Sum64())
}

// Service wraps a Retriever with caching and failure suppression. Lookups
// never fail: any backend error produces an empty Result so the conversation
// continues without context.
type Service struct {
	cache     Cache
	retriever Retriever
	logger    *slog.Logger
	topK      int
}

// NewService builds a retrieval service. cache may be nil to disable caching.
func NewService(cache Cache, retriever Retriever, logger *slog.Logger, topK int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Service{cache: cache, retriever: retriever, logger: logger, topK: topK}
}

// Retrieve returns context for a query, consulting the cache first.
func (s *Service) Retrieve(ctx context.Context, query, mode string) Result {
	query = strings.TrimSpace(query)
	if query == "" || s.retriever == nil {
		return Result{}
	}

	if s.cache != nil {
		if res, ok := s.cache.Get(ctx, mode, query); ok {
			return res
		}
	}

	res, err := s.retriever.Retrieve(ctx, query, mode, s.topK)
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			s.logger.Info("retrieval quota exhausted, continuing without context", "mode", mode)
		} else {
			s.logger.Warn("retrieval failed, continuing without context", "mode", mode, "error", err)
		}
		return Result{}
	}

	if s.cache != nil {
		s.cache.Set(ctx, mode, query, res)
	}
	return res
}
