package inspector

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
)

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Interval between periodic inspections; zero disables the ticker.
	Interval time.Duration
	// Rate limits inspections per second; zero means unlimited.
	Rate  float64
	Burst int
	// Timeout bounds a single inspection.
	Timeout time.Duration
}

// Refresher keeps the manager's active handler up to date. It inspects on
// a fixed interval, when the source changes, and on Trigger.
type Refresher struct {
	manager *Manager
	config  RefresherConfig
	limiter *rate.Limiter
	log     *logging.Logger

	trigger    chan struct{}
	disconnect func()
}

// NewRefresher creates a refresher for manager. Call Run to start it.
func NewRefresher(manager *Manager, config RefresherConfig, log *logging.Logger) *Refresher {
	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	r := &Refresher{
		manager: manager,
		config:  config,
		limiter: rate.NewLimiter(limit, config.Burst),
		log:     logging.OrNop(log).Named("refresher"),
		trigger: make(chan struct{}, 1),
	}
	r.disconnect = manager.OnSourceChanged(func(h Inspectable) {
		if h != nil {
			r.Trigger()
		}
	})
	return r
}

// Trigger requests an inspection. Triggers arriving while one is pending
// are coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run inspects until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	defer r.disconnect()

	var tick <-chan time.Time
	if r.config.Interval > 0 {
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		case <-r.trigger:
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
		r.refresh(ctx)
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	source := r.manager.Source()
	if source == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	source.PerformInspection(ctx)
	r.log.Debug("Inspection finished",
		zap.String("session", source.ID()),
		zap.Duration("elapsed", time.Since(start)))
}
