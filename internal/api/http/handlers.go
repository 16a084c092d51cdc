package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/varinspector/internal/inspector"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/gateway"
	"github.com/GriffinCanCode/varinspector/internal/kernel/launcher"
	"github.com/GriffinCanCode/varinspector/internal/languages"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Options wires the handlers to the rest of the service.
type Options struct {
	Pool      *kernel.Pool
	Launcher  *launcher.Launcher
	Tracker   *inspector.Tracker
	Refresher *inspector.Refresher // nil inspects synchronously
	Registry  *languages.Registry
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
	// MaxRows caps matrix queries; requests asking for more are clamped.
	MaxRows int
	// RequestTimeout bounds session creation, focus and inspection calls.
	RequestTimeout time.Duration
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	pool      *kernel.Pool
	launcher  *launcher.Launcher
	tracker   *inspector.Tracker
	manager   *inspector.Manager
	refresher *inspector.Refresher
	registry  *languages.Registry
	metrics   *monitoring.Metrics
	log       *logging.Logger
	maxRows   int
	timeout   time.Duration
	started   time.Time
}

// NewHandlers creates a new handler set.
func NewHandlers(opts Options) *Handlers {
	registry := opts.Registry
	if registry == nil {
		registry = languages.Default()
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = inspector.DefaultMaxRows
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Handlers{
		pool:      opts.Pool,
		launcher:  opts.Launcher,
		tracker:   opts.Tracker,
		manager:   opts.Tracker.Manager(),
		refresher: opts.Refresher,
		registry:  registry,
		metrics:   opts.Metrics,
		log:       logging.OrNop(opts.Logger).Named("api"),
		maxRows:   maxRows,
		timeout:   timeout,
		started:   time.Now(),
	}
}

// Register mounts every route on router.
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	api.GET("/languages", h.Languages)

	sessions := api.Group("/sessions")
	sessions.GET("", h.ListSessions)
	sessions.POST("", h.CreateSession)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.POST("/:id/focus", h.FocusSession)
	sessions.POST("/:id/execute", h.ExecuteCode)
	sessions.POST("/:id/restart", h.RestartSession)

	api.POST("/inspect", h.Inspect)
	api.GET("/variables", h.Variables)
	api.GET("/variables/:name/matrix", h.Matrix)
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "varinspector",
		"version": Version,
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	sessions := len(h.pool.List())
	h.metrics.SetSessions(sessions)

	gw := gin.H{"enabled": h.launcher.GatewayEnabled()}
	if client := h.launcher.Gateway(); client != nil {
		gw["breaker"] = client.Breaker().State().String()
	}

	var source any
	if src := h.manager.Source(); src != nil {
		source = src.ID()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"sessions": sessions,
		"handlers": len(h.manager.Handlers()),
		"source":   source,
		"gateway":  gw,
	})
}

// Languages lists inspectable languages and the interpreters that can be
// launched in-process.
func (h *Handlers) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"inspectable": h.registry.Languages(),
		"in_process":  launcher.Languages(),
		"gateway":     h.launcher.GatewayEnabled(),
	})
}

func (h *Handlers) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// fail writes an error response with the status errors map to.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)

	body := gin.H{"success": false, "error": err.Error()}
	var execErr *kernel.ExecutionError
	if errors.As(err, &execErr) {
		body["ename"] = execErr.Name
		body["evalue"] = execErr.Value
		body["traceback"] = execErr.Traceback
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) int {
	var execErr *kernel.ExecutionError
	var gwErr *gateway.StatusError

	switch {
	case errors.Is(err, launcher.ErrInvalidRequest),
		errors.Is(err, launcher.ErrUnknownLanguage),
		errors.Is(err, languages.ErrInvalidName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errSessionNotFound),
		errors.Is(err, gateway.ErrKernelNotFound),
		errors.Is(err, inspector.ErrHandlerNotFound):
		return http.StatusNotFound
	case errors.Is(err, errNoSource),
		errors.Is(err, kernel.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, inspector.ErrDisposed),
		errors.Is(err, kernel.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, inspector.ErrNotMatrix),
		errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, launcher.ErrGatewayDisabled),
		errors.Is(err, inspector.ErrNoLanguageSupport),
		errors.Is(err, errNotRestartable):
		return http.StatusNotImplemented
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
