// Package server assembles the HTTP surface: routes, middleware chain, and
// the drain switch used during graceful shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/awaazlabs/voicejournal/pkg/core/retrieval"
	"github.com/awaazlabs/voicejournal/pkg/core/upstream"
	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	"github.com/awaazlabs/voicejournal/pkg/gateway/handlers"
	"github.com/awaazlabs/voicejournal/pkg/gateway/live/sessions"
	"github.com/awaazlabs/voicejournal/pkg/gateway/mw"
	"github.com/awaazlabs/voicejournal/pkg/store"
)

// Dependencies are the long-lived collaborators the routes need. Store is
// required; the rest may be nil and the affected features degrade.
type Dependencies struct {
	Upstream    upstream.Client
	Transcriber upstream.Transcriber
	Retrieval   *retrieval.Service
	History     *retrieval.History
	Store       store.Store
	Analyzer    handlers.Analyzer
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	sessions *sessions.Tracker
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		deps:     deps,
		sessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Sessions: s.sessions,
		Draining: s.IsDraining,
	})

	s.mux.Handle("/v1/voices", handlers.VoicesHandler{Config: s.cfg})
	s.mux.Handle("/v1/agent-modes", handlers.AgentModesHandler{})

	s.mux.Handle("/v1/journal/complete", handlers.JournalCompleteHandler{
		Store:    s.deps.Store,
		Analyzer: s.deps.Analyzer,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/journal/{id}/analysis", handlers.JournalAnalysisHandler{Store: s.deps.Store})
	s.mux.Handle("/v1/journal/sessions", handlers.JournalSessionsHandler{Store: s.deps.Store})
	s.mux.Handle("/v1/journal/summaries", handlers.JournalSummariesHandler{Store: s.deps.Store})

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Upstream:    s.deps.Upstream,
		Transcriber: s.deps.Transcriber,
		Retrieval:   s.deps.Retrieval,
		History:     s.deps.History,
		Store:       s.deps.Store,
		Sessions:    s.sessions,
		Draining:    s.IsDraining,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the drain switch: readyz goes not-ready and new live
// sessions are refused while existing ones keep running.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

func (s *Server) IsDraining() bool {
	return s.draining.Load()
}

// WarnLiveSessions notifies every active session that shutdown is imminent.
func (s *Server) WarnLiveSessions(message string) int {
	return s.sessions.WarnAll(message)
}

// WaitLiveSessions blocks until all live sessions finish or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelLiveSessions force-cancels every active session.
func (s *Server) CancelLiveSessions() int {
	return s.sessions.CancelAll()
}
