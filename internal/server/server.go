package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/varinspector/internal/api/http"
	"github.com/GriffinCanCode/varinspector/internal/api/middleware"
	"github.com/GriffinCanCode/varinspector/internal/api/ws"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/config"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/inspector"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/gateway"
	"github.com/GriffinCanCode/varinspector/internal/kernel/launcher"
	"github.com/GriffinCanCode/varinspector/internal/languages"
)

const shutdownTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry replaces the embedded language registry.
func WithRegistry(r *languages.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// Server wraps the HTTP server and dependencies.
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	registry  *languages.Registry
	pool      *kernel.Pool
	manager   *inspector.Manager
	tracker   *inspector.Tracker
	refresher *inspector.Refresher
	launcher  *launcher.Launcher
	hub       *ws.Hub
	router    *gin.Engine
	http      *http.Server
}

// New creates a server from cfg. Nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}
	if s.registry == nil {
		s.registry = languages.Default()
	}
	log := s.logger

	log.Info("Initializing variable inspector",
		zap.String("addr", cfg.Server.Address()),
		zap.Bool("gateway", cfg.Gateway.Enabled),
		zap.Strings("languages", s.registry.Languages()),
	)

	s.metrics = monitoring.NewMetrics()
	s.pool = kernel.NewPool(log)
	s.manager = inspector.NewManager(log, s.metrics)
	s.tracker = inspector.NewTracker(inspector.TrackerOptions{
		Manager:        s.manager,
		Registry:       s.registry,
		ExecuteTimeout: cfg.Inspector.ExecuteTimeout,
		Logger:         log,
		Metrics:        s.metrics,
	})
	s.refresher = inspector.NewRefresher(s.manager, inspector.RefresherConfig{
		Interval: cfg.Inspector.Interval,
		Rate:     cfg.Inspector.Rate,
		Burst:    cfg.Inspector.Burst,
	}, log)

	var gw *gateway.Client
	if cfg.Gateway.Enabled {
		client, err := gateway.NewClient(gateway.ClientConfig{
			BaseURL:           cfg.Gateway.URL,
			Token:             cfg.Gateway.Token,
			MaxRetries:        3,
			RequestsPerSecond: 10,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gateway client: %w", err)
		}
		gw = client
		log.Info("Kernel gateway configured", zap.String("url", cfg.Gateway.URL))
	}
	s.launcher = launcher.New(s.pool, gw, launcher.Config{SandboxTimeout: cfg.Sandbox.Timeout}, log)

	s.hub = ws.NewHub(s.manager, ws.Options{
		Origins: cfg.Server.CORSOrigins,
		Trigger: s.refresher.Trigger,
		Metrics: s.metrics,
		Logger:  log,
	})

	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(s.logger))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.CORSConfigFor(s.config.Server.CORSOrigins)))
	if s.config.Server.RateLimit > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.Server.RateLimit
		rl.Burst = s.config.Server.RateBurst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(apihttp.Options{
		Pool:      s.pool,
		Launcher:  s.launcher,
		Tracker:   s.tracker,
		Refresher: s.refresher,
		Registry:  s.registry,
		Metrics:   s.metrics,
		Logger:    s.logger,
		MaxRows:   s.config.Inspector.MatrixMaxRows,
	})
	handlers.Register(router)
	router.GET("/ws", s.hub.HandleConnection)

	return router
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.refresher.Run(ctx)
	})
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.Close()
		return s.http.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close disposes every handler and session.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.hub.Close()
	s.manager.Close()
	s.pool.CloseAll()

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
