package inspector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/languages"
)

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Manager  *Manager
	Registry *languages.Registry
	// ExecuteTimeout bounds each execute round trip; zero waits forever.
	ExecuteTimeout time.Duration
	Logger         *logging.Logger
	Metrics        *monitoring.Metrics
}

// Tracker creates handlers for sessions on first sight. Concurrent
// attaches of the same session share one creation.
type Tracker struct {
	manager  *Manager
	registry *languages.Registry
	timeout  time.Duration
	base     *logging.Logger
	log      *logging.Logger
	metrics  *monitoring.Metrics

	pending singleflight.Group
}

// NewTracker creates a tracker registering handlers with opts.Manager.
func NewTracker(opts TrackerOptions) *Tracker {
	registry := opts.Registry
	if registry == nil {
		registry = languages.Default()
	}
	return &Tracker{
		manager:  opts.Manager,
		registry: registry,
		timeout:  opts.ExecuteTimeout,
		base:     logging.OrNop(opts.Logger),
		log:      logging.OrNop(opts.Logger).Named("tracker"),
		metrics:  opts.Metrics,
	}
}

// Manager returns the manager handlers are registered with.
func (t *Tracker) Manager() *Manager { return t.manager }

// Attach returns the handler of session, creating it when needed. It waits
// for the session to become ready, bounded only by ctx. Sessions whose
// language has no bundle get a DummyHandler.
func (t *Tracker) Attach(ctx context.Context, session kernel.Session) (Inspectable, error) {
	id := session.Path()
	if h, err := t.manager.Handler(id); err == nil {
		return h, nil
	}

	for {
		v, err, shared := t.pending.Do(id, func() (any, error) {
			if h, err := t.manager.Handler(id); err == nil {
				return h, nil
			}
			return t.create(ctx, session)
		})
		if err == nil {
			return v.(Inspectable), nil
		}
		// The flight ran under another caller's context. Its cancellation
		// is not ours; try again with this one.
		if shared && ctx.Err() == nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			continue
		}
		return nil, err
	}
}

func (t *Tracker) create(ctx context.Context, session kernel.Session) (Inspectable, error) {
	connector := kernel.NewConnector(session,
		kernel.WithLogger(t.base.Named("connector")),
		kernel.WithExecuteTimeout(t.timeout),
		kernel.WithExecObserver(t.metrics.ObserveExecute),
	)
	if err := connector.WaitReady(ctx); err != nil {
		connector.Dispose()
		return nil, err
	}

	info := connector.Info()
	model, err := t.registry.Lookup(info.LanguageName)
	if err != nil {
		if !errors.Is(err, languages.ErrUnsupportedLanguage) {
			connector.Dispose()
			return nil, err
		}
		t.log.Info("No inspection bundle, using dummy handler",
			zap.String("session", session.Path()),
			zap.String("language", info.LanguageName))

		dummy := NewDummyHandler(session.Path(), KernelInfo{
			KernelName:   info.KernelName,
			LanguageName: info.LanguageName,
		})
		connector.OnDisposed(dummy.Dispose)
		dummy.OnDisposed(connector.Dispose)
		t.manager.AddHandler(dummy)
		return dummy, nil
	}

	h := NewHandler(HandlerOptions{
		Connector: connector,
		Model:     model,
		Logger:    t.base,
		Metrics:   t.metrics,
	})
	t.manager.AddHandler(h)
	return h, nil
}

// Focus attaches session, makes its handler the active source and runs an
// inspection.
func (t *Tracker) Focus(ctx context.Context, session kernel.Session) (Inspectable, error) {
	h, err := t.Attach(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := t.manager.SetSource(h); err != nil {
		return nil, err
	}
	h.PerformInspection(ctx)
	return h, nil
}
