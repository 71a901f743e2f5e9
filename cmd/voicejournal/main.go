package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/awaazlabs/voicejournal/pkg/analysis"
	"github.com/awaazlabs/voicejournal/pkg/core/retrieval"
	"github.com/awaazlabs/voicejournal/pkg/core/upstream"
	"github.com/awaazlabs/voicejournal/pkg/gateway/config"
	gatewayserver "github.com/awaazlabs/voicejournal/pkg/gateway/server"
	"github.com/awaazlabs/voicejournal/pkg/store"
	"github.com/awaazlabs/voicejournal/pkg/store/postgres"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	buildServer  func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig:  config.LoadFromEnv,
		buildServer: buildServer,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildServer wires the Gemini client, store, retrieval stack, and analysis
// orchestrator into a gateway server. The returned func releases every
// resource opened along the way.
func buildServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create gemini client: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var st store.Store
	if cfg.PostgresDSN != "" {
		if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Warn("using in-memory store, sessions will not survive restarts")
	}

	var retrievalSvc *retrieval.Service
	var history *retrieval.History
	if cfg.RetrievalEnabled {
		var cache retrieval.Cache
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			closers = append(closers, func() { _ = rdb.Close() })
			cache = retrieval.NewRedisCache(rdb, cfg.RetrievalTTL)
			logger.Info("retrieval cache backed by redis", "addr", cfg.RedisAddr)
		} else {
			cache = retrieval.NewMemoryCache(cfg.RetrievalTTL)
		}
		retriever := retrieval.NewGeminiRetriever(genaiClient, cfg.AnalysisModel)
		retrievalSvc = retrieval.NewService(cache, retriever, logger, cfg.RetrievalTopK)
		history = retrieval.NewHistory(cfg.HistoryLimit)
	}

	orchestrator := analysis.NewOrchestrator(analysis.Config{
		Summarizer:    analysis.NewGeminiAgent(genaiClient, cfg.AnalysisModel),
		Recommender:   analysis.NewGeminiAgent(genaiClient, cfg.AnalysisModel),
		Reviewer:      analysis.NewGeminiAgent(genaiClient, cfg.AnalysisModel),
		Refiner:       analysis.NewGeminiAgent(genaiClient, cfg.AnalysisModel),
		Retrieval:     retrievalSvc,
		Store:         st,
		Logger:        logger,
		MaxIterations: cfg.SafetyMaxIterations,
	})

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Upstream:    upstream.NewGeminiClient(genaiClient, cfg.LiveModel, logger, cfg.UpstreamAckTimeout),
		Transcriber: upstream.NewGeminiTranscriber(genaiClient, cfg.TranscriptionModel),
		Retrieval:   retrievalSvc,
		History:     history,
		Store:       st,
		Analyzer:    orchestrator,
	})
	return gw, closeAll, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	if deps.loadConfig == nil || deps.buildServer == nil {
		return errors.New("missing server dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, cleanup, err := deps.buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voicejournal gateway",
		"addr", cfg.Addr,
		"live_model", cfg.LiveModel,
		"retrieval", cfg.RetrievalEnabled,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)
	gw.WarnLiveSessions("server is shutting down, your session will end shortly")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("live sessions canceled after grace period", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "voicejournal: load .env: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicejournal: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
