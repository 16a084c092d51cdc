// Package launcher creates kernel sessions on request and registers them
// with the session pool. In-process interpreters are created directly;
// gateway kernels are started or attached through the gateway client.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/gateway"
	"github.com/GriffinCanCode/varinspector/internal/kernel/gointerp"
	"github.com/GriffinCanCode/varinspector/internal/kernel/jsruntime"
	"github.com/GriffinCanCode/varinspector/internal/shared/id"
)

var (
	// ErrGatewayDisabled is returned for gateway requests when no gateway is configured.
	ErrGatewayDisabled = errors.New("kernel gateway is not configured")
	// ErrUnknownLanguage is returned for in-process languages that do not exist.
	ErrUnknownLanguage = errors.New("no in-process interpreter for language")
	// ErrInvalidRequest is returned when a request names zero or several targets.
	ErrInvalidRequest = errors.New("exactly one of language, kernel_id or kernel_name is required")
)

// Request selects the session to create.
type Request struct {
	// Language starts an in-process interpreter ("javascript" or "go").
	Language string `json:"language,omitempty"`
	// KernelID attaches to a running gateway kernel.
	KernelID string `json:"kernel_id,omitempty"`
	// KernelName starts a new gateway kernel from a kernelspec.
	KernelName string `json:"kernel_name,omitempty"`
}

func (r Request) trimmed() Request {
	return Request{
		Language:   strings.ToLower(strings.TrimSpace(r.Language)),
		KernelID:   strings.TrimSpace(r.KernelID),
		KernelName: strings.TrimSpace(r.KernelName),
	}
}

// Validate checks that exactly one target is set.
func (r Request) Validate() error {
	n := 0
	for _, v := range []string{r.Language, r.KernelID, r.KernelName} {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	if n != 1 {
		return ErrInvalidRequest
	}
	return nil
}

// Config tunes in-process interpreters.
type Config struct {
	// SandboxTimeout bounds one in-process execute; zero for none.
	SandboxTimeout time.Duration
}

type factory func(path string, cfg Config) (kernel.Session, error)

var interpreters = map[string]factory{
	jsruntime.LanguageName: func(path string, cfg Config) (kernel.Session, error) {
		jsConfig := jsruntime.DefaultConfig()
		jsConfig.Timeout = cfg.SandboxTimeout
		return jsruntime.New(path, jsConfig), nil
	},
	gointerp.LanguageName: func(path string, cfg Config) (kernel.Session, error) {
		s, err := gointerp.New(path, gointerp.Config{Timeout: cfg.SandboxTimeout})
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// Languages lists the languages that can run in-process.
func Languages() []string {
	names := make([]string, 0, len(interpreters))
	for name := range interpreters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Launcher creates sessions and adds them to a pool.
type Launcher struct {
	pool    *kernel.Pool
	gateway *gateway.Client
	config  Config
	log     *logging.Logger
}

// New creates a launcher. gw may be nil, which disables gateway kernels.
func New(pool *kernel.Pool, gw *gateway.Client, config Config, log *logging.Logger) *Launcher {
	return &Launcher{
		pool:    pool,
		gateway: gw,
		config:  config,
		log:     logging.OrNop(log).Named("launcher"),
	}
}

// GatewayEnabled reports whether gateway kernels can be launched.
func (l *Launcher) GatewayEnabled() bool { return l.gateway != nil }

// Gateway returns the gateway client, or nil.
func (l *Launcher) Gateway() *gateway.Client { return l.gateway }

// Launch creates the session described by req and adds it to the pool.
// Gateway sessions may still be completing their handshake on return.
func (l *Launcher) Launch(ctx context.Context, req Request) (kernel.Session, error) {
	req = req.trimmed()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.KernelID != "" {
		if existing, ok := l.pool.Get(gateway.PathPrefix + req.KernelID); ok {
			return existing, nil
		}
	}

	session, err := l.create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := l.pool.Add(session); err != nil {
		_ = session.Close()
		// A concurrent attach of the same kernel won the race.
		if existing, ok := l.pool.Get(session.Path()); ok && req.KernelID != "" {
			return existing, nil
		}
		return nil, err
	}

	l.log.Info("Session launched",
		zap.String("session", session.Path()),
		zap.String("language", req.Language),
		zap.String("kernel_id", req.KernelID),
		zap.String("kernel_name", req.KernelName),
	)
	return session, nil
}

func (l *Launcher) create(ctx context.Context, req Request) (kernel.Session, error) {
	opts := []gateway.Option{gateway.WithLogger(l.log)}

	switch {
	case req.Language != "":
		newSession, ok := interpreters[req.Language]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, req.Language)
		}
		return newSession(string(id.NewSessionID()), l.config)

	case req.KernelID != "":
		if l.gateway == nil {
			return nil, ErrGatewayDisabled
		}
		s, err := gateway.Connect(ctx, l.gateway, req.KernelID, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		if l.gateway == nil {
			return nil, ErrGatewayDisabled
		}
		s, err := gateway.Start(ctx, l.gateway, req.KernelName, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
