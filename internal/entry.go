// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/linkkeeper/internal/api"
	"github.com/starford/linkkeeper/internal/engine"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/mcpserver"
	"github.com/starford/linkkeeper/internal/noteservice"
	"github.com/starford/linkkeeper/internal/sse"
	"github.com/starford/linkkeeper/internal/storage"
	"github.com/starford/linkkeeper/internal/watch"
)

// runtime holds the opened store, index and engine for one process.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  storage.Store
	db     *index.DB
	engine *engine.Engine
}

func (rt *runtime) Close() error {
	return errors.Join(rt.db.Close(), rt.store.Close())
}

func open(opts []Option) (*runtime, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("store_kind", cfg.Store.Kind),
		slog.String("store_path", cfg.Store.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.Int("param_limit", cfg.Index.ParamLimit),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.Index.Path, index.WithParamLimit(cfg.Index.ParamLimit))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}

	eng := engine.New(store, db,
		engine.WithLogger(logger),
		engine.WithReport(cfg.Report.Engine()),
		engine.WithPrune(cfg.Index.Prune))

	return &runtime{cfg: cfg, logger: logger, store: store, db: db, engine: eng}, nil
}

func openStore(cfg *Config) (storage.Store, error) {
	limit := storage.WithParamLimit(cfg.Index.ParamLimit)
	switch cfg.Store.Kind {
	case StoreKindSQLite:
		s, err := storage.OpenSQLite(cfg.Store.Path, limit)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir: %w", err)
		}
		s, err := storage.NewFS(cfg.Store.Path, limit)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func watchConfig(cfg *Config) watch.Config {
	if cfg.Store.Kind == StoreKindSQLite {
		return watch.Config{
			Root:     filepath.Dir(cfg.Store.Path),
			Match:    watch.File(cfg.Store.Path),
			Debounce: cfg.Watch.Debounce,
		}
	}
	return watch.Config{
		Root:      cfg.Store.Path,
		Recursive: true,
		Match:     watch.Markdown(cfg.Store.Path),
		Debounce:  cfg.Watch.Debounce,
	}
}

// Run performs one maintenance run and returns its error.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := open(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.engine.Run(ctx); err != nil {
		rt.logger.Error("maintenance run failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Watch runs once, then again after every debounced change to the note store,
// until interrupted.
func Watch(ctx context.Context, opts ...Option) error {
	rt, err := open(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func(ctx context.Context) {
		if _, err := rt.engine.Run(ctx); err != nil {
			rt.logger.Error("maintenance run failed", slog.String("error", err.Error()))
		}
	}
	runOnce(ctx)

	if err := watch.Run(ctx, watchConfig(rt.cfg), rt.logger, runOnce); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	rt.logger.Info("Watcher stopped")
	return nil
}

// Serve starts the HTTP API with the SSE event stream and, when configured,
// periodic maintenance runs.
func Serve(ctx context.Context, opts ...Option) error {
	rt, err := open(opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := noteservice.NewService(rt.engine, rt.db, noteservice.WithRunListener(broker.PublishRun))
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.Status(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Initial run, then periodic runs.
	g.Go(func() error {
		runOnce := func() {
			if _, err := svc.Run(gCtx); err != nil {
				logger.Error("maintenance run failed", slog.String("error", err.Error()))
			}
		}
		runOnce()
		if cfg.Serve.Interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(cfg.Serve.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shut down on signal or when another goroutine fails.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := open(append(opts, WithLogOutput(os.Stderr)))
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := noteservice.NewService(rt.engine, rt.db)
	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc).ServeStdio()
}
