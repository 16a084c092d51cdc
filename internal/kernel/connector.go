package kernel

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/signal"
)

// ExecObserver is told about every finished execute round trip.
type ExecObserver func(language string, elapsed time.Duration, err error)

// Connector binds the inspector to one Session. Execute calls are strictly
// sequential: a second call waits until the first one's reply arrived.
type Connector struct {
	session Session
	logger  *logging.Logger
	timeout time.Duration
	observe ExecObserver

	// sem holds one token while an execute is in flight.
	sem chan struct{}

	restarted *signal.Signal[struct{}]
	disposed  *signal.Signal[struct{}]

	done        chan struct{}
	closing     atomic.Bool
	unsubscribe func()
}

// Option configures a Connector.
type Option func(*Connector)

// WithExecuteTimeout bounds every execute round trip. Zero waits forever.
func WithExecuteTimeout(d time.Duration) Option {
	return func(c *Connector) { c.timeout = d }
}

// WithLogger sets the connector logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Connector) { c.logger = logging.OrNop(l) }
}

// WithExecObserver installs a hook for execute latency and failures.
func WithExecObserver(fn ExecObserver) Option {
	return func(c *Connector) { c.observe = fn }
}

// NewConnector wraps session. The connector is disposed when the session is.
func NewConnector(session Session, opts ...Option) *Connector {
	c := &Connector{
		session:   session,
		logger:    logging.Nop(),
		sem:       make(chan struct{}, 1),
		restarted: signal.New[struct{}](),
		disposed:  signal.New[struct{}](),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("session", session.Path()))

	c.unsubscribe = session.Subscribe(func(ev Event) {
		if ev.Kind == EventRestarted {
			c.logger.Info("Kernel restarted")
			c.restarted.Emit(struct{}{})
		}
	})

	go func() {
		select {
		case <-session.Done():
			c.logger.Debug("Session disposed")
			c.Dispose()
		case <-c.done:
		}
	}()

	return c
}

// Path is the identity of the bound session.
func (c *Connector) Path() string { return c.session.Path() }

// Session returns the bound session.
func (c *Connector) Session() Session { return c.session }

// Ready is closed once the session completed its handshake.
func (c *Connector) Ready() <-chan struct{} { return c.session.Ready() }

// Done is closed once the connector is disposed.
func (c *Connector) Done() <-chan struct{} { return c.done }

// WaitReady blocks until the session is ready, the connector is disposed,
// or ctx ends. There is no built-in timeout.
func (c *Connector) WaitReady(ctx context.Context) error {
	select {
	case <-c.session.Ready():
		return nil
	case <-c.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) isReady() bool {
	select {
	case <-c.session.Ready():
		return true
	default:
		return false
	}
}

// IsDisposed reports whether Dispose ran.
func (c *Connector) IsDisposed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Info returns the interpreter identity, or a zero Info before ready.
func (c *Connector) Info() Info {
	if !c.isReady() {
		return Info{}
	}
	return c.session.Info()
}

// KernelType is the language name used to pick an inspection bundle. It is
// empty until the session is ready.
func (c *Connector) KernelType() string {
	return c.Info().LanguageName
}

// Execute runs code on the session and returns the reply. It fails with
// ErrNotReady before the handshake, ErrDisposed after disposal, and settles
// with ErrDisposed when the session goes away mid-request.
func (c *Connector) Execute(ctx context.Context, code string) (*Reply, error) {
	if c.IsDisposed() {
		return nil, ErrDisposed
	}
	if !c.isReady() {
		return nil, ErrNotReady
	}

	select {
	case c.sem <- struct{}{}:
	case <-c.done:
		return nil, ErrDisposed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.IsDisposed() {
		<-c.sem
		return nil, ErrDisposed
	}

	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.timeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		reply *Reply
		err   error
	}
	results := make(chan result, 1)
	start := time.Now()

	// The token is released only once the session returned, so an
	// abandoned request still blocks the next one.
	go func() {
		defer func() { <-c.sem }()
		reply, err := c.session.Execute(ctx, code)
		results <- result{reply: reply, err: err}
	}()

	var res result
	select {
	case res = <-results:
	case <-c.done:
		res = result{err: ErrDisposed}
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}

	if c.observe != nil {
		err := res.err
		if err == nil {
			err = res.reply.Err()
		}
		c.observe(c.KernelType(), time.Since(start), err)
	}
	return res.reply, res.err
}

// OnRestart registers fn for interpreter restarts.
func (c *Connector) OnRestart(fn func()) (disconnect func()) {
	return c.restarted.Connect(func(struct{}) { fn() })
}

// OnDisposed registers fn for connector disposal. fn runs at most once.
func (c *Connector) OnDisposed(fn func()) (disconnect func()) {
	return c.disposed.Connect(func(struct{}) { fn() })
}

// Dispose detaches the connector from its session. It does not close the
// session. Safe to call more than once, including from an OnDisposed
// observer.
func (c *Connector) Dispose() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.restarted.Close()
	c.disposed.EmitAndClose(struct{}{})
}
