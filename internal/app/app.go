package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"VirtualDoctor/internal/backend"
	"VirtualDoctor/internal/cache"
	"VirtualDoctor/internal/chat"
	"VirtualDoctor/internal/completion"
	"VirtualDoctor/internal/config"
	"VirtualDoctor/internal/nutrition"
	"VirtualDoctor/internal/report"
	"VirtualDoctor/internal/session"
	"VirtualDoctor/internal/store"
	"VirtualDoctor/internal/telemetry"
	"VirtualDoctor/internal/tips"
	"VirtualDoctor/internal/web"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// App wires configuration, persistence, telemetry and the web server
// together.
type App struct {
	config config.Config
	store  session.Store
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	completion *completion.Client
	cache      *cache.Cache // nil when caching is off
	sessions   *session.Manager
	server     *web.Server

	sweepInterval time.Duration
	closers       []func() error
}

// New builds an App from cfg. The caller must Close it.
func New(cfg config.Config, version string) (_ *App, err error) {
	a := &App{config: cfg, sweepInterval: sweepInterval}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, logFile.Close)

	tracer, meter, shutdown, err := telemetry.InitTelemetry(context.Background(), cfg.LogDir, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tracer, a.meter = tracer, meter
	a.closers = append(a.closers, func() error {
		shutdown()
		return nil
	})

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	api, model, err := backend.NewClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}

	opts := []completion.Option{
		completion.WithTimeout(cfg.CompletionTimeout),
		completion.WithLogger(logger),
		completion.WithTracer(tracer),
		completion.WithMeter(meter),
	}
	if cfg.CacheTTL > 0 {
		a.cache = cache.New(cfg.CacheTTL)
		opts = append(opts, completion.WithCache(a.cache))
	}
	a.completion = completion.NewClient(api, model, opts...)

	a.sessions = session.NewManager(a.store, cfg.SessionTTL, logger)
	a.closers = append(a.closers, func() error {
		a.sessions.Close()
		return nil
	})

	a.server, err = web.NewServer(a.sessions, web.Options{
		Chat:        chat.NewService(a.completion),
		Nutrition:   nutrition.NewBuilder(a.completion),
		Exporter:    report.NewExporter(),
		ReportDir:   cfg.ReportDir,
		Tips:        tips.Default,
		TipInterval: cfg.TipInterval,
		Theme:       web.DefaultTheme(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create web server: %w", err)
	}

	logger.Info("application initialized",
		"backend", cfg.Backend,
		"model", a.completion.Model(),
		"db_path", cfg.DBPath,
		"cache_ttl", cfg.CacheTTL.String(),
	)
	return a, nil
}

func (a *App) openStore() error {
	if a.config.DBPath == "" {
		a.store = store.NewMemory()
		a.logger.Info("sessions kept in memory")
		return nil
	}

	db, err := store.OpenSQLite(a.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = db
	a.closers = append(a.closers, db.Close)
	a.logger.Info("session database opened", "path", a.config.DBPath)
	return nil
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sessions.Run(sweepCtx, a.sweepInterval)
	if a.cache != nil {
		go a.cache.Run(sweepCtx, a.sweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// end page tasks first so open tip streams let go of their connections
	a.sessions.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Close releases every resource New acquired, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
