package inspector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/languages"
	"github.com/GriffinCanCode/varinspector/internal/signal"
)

// DefaultMaxRows is used when a matrix query does not specify a limit.
const DefaultMaxRows = 100

// State is the lifecycle state of a Handler.
type State int32

const (
	StateUninitialized State = iota
	StateAwaitingConnectorReady
	StateRunningInitScript
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingConnectorReady:
		return "awaiting_connector_ready"
	case StateRunningInitScript:
		return "running_init_script"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Connector *kernel.Connector
	Model     languages.Model
	// ID defaults to the connector's session path.
	ID      string
	Context string
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Handler inspects the variables of one kernel session. It runs the
// language's init script once the connector is ready and again after
// every restart.
type Handler struct {
	id        string
	context   string
	connector *kernel.Connector
	model     languages.Model
	log       *logging.Logger
	metrics   *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	ready   chan struct{}
	done    chan struct{}
	closing atomic.Bool

	// latest is bumped by every PerformInspection; a call that had to
	// wait for init gives up when a newer one arrived meanwhile.
	latest atomic.Uint64

	// inspecting orders query, compare and emit across concurrent
	// inspections so an older listing never replaces a newer one.
	inspecting sync.Mutex

	mu      sync.Mutex
	barrier chan struct{} // closed when the current init run finished
	rerun   bool          // a restart arrived while init was running
	cache   []byte        // serialized payload of the last update
	last    Update
	lastErr error

	inspected   *signal.Signal[Update]
	disposed    *signal.Signal[struct{}]
	disconnects []func()
}

// NewHandler creates a handler and starts initializing it in the
// background.
func NewHandler(opts HandlerOptions) *Handler {
	id := opts.ID
	if id == "" {
		id = opts.Connector.Path()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		id:        id,
		context:   opts.Context,
		connector: opts.Connector,
		model:     opts.Model,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		barrier:   make(chan struct{}),
		inspected: signal.New[Update](),
		disposed:  signal.New[struct{}](),
	}
	h.log = logging.OrNop(opts.Logger).Named("inspector").With(
		zap.String("session", id),
		zap.String("language", opts.Model.LanguageID),
	)

	h.mu.Lock()
	h.disconnects = []func(){
		h.connector.OnRestart(h.restarted),
		h.connector.OnDisposed(h.Dispose),
	}
	h.mu.Unlock()
	if h.connector.IsDisposed() {
		h.Dispose()
		return h
	}

	h.setState(StateAwaitingConnectorReady)
	go h.start(h.barrier)
	return h
}

// ID implements Inspectable.
func (h *Handler) ID() string { return h.id }

// Connector returns the connector the handler owns.
func (h *Handler) Connector() *kernel.Connector { return h.connector }

// Model returns the language bundle in use.
func (h *Handler) Model() languages.Model { return h.model }

// Ready is closed once the first init run finished, successfully or not.
func (h *Handler) Ready() <-chan struct{} { return h.ready }

// Done is closed on disposal.
func (h *Handler) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handler) State() State { return State(h.state.Load()) }

func (h *Handler) setState(s State) {
	if h.IsDisposed() && s != StateDisposed {
		return
	}
	old := State(h.state.Swap(int32(s)))
	if old != s {
		h.log.Debug("State changed", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Info implements Inspectable.
func (h *Handler) Info() KernelInfo {
	info := h.connector.Info()
	return KernelInfo{
		KernelName:   info.KernelName,
		LanguageName: info.LanguageName,
		Context:      h.context,
	}
}

// OnInspected implements Inspectable.
func (h *Handler) OnInspected(fn func(Update)) func() {
	return h.inspected.Connect(fn)
}

// OnDisposed implements Inspectable.
func (h *Handler) OnDisposed(fn func()) func() {
	return h.disposed.Connect(func(struct{}) { fn() })
}

// IsDisposed implements Inspectable.
func (h *Handler) IsDisposed() bool { return h.closing.Load() }

// LastError implements Inspectable.
func (h *Handler) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// LastUpdate implements Inspectable.
func (h *Handler) LastUpdate() (Update, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.cache != nil
}

func (h *Handler) start(barrier chan struct{}) {
	select {
	case <-h.connector.Ready():
	case <-h.done:
		return
	}
	h.runInit(barrier)
	close(h.ready)
}

func (h *Handler) restarted() {
	h.mu.Lock()
	switch h.State() {
	case StateRunningInitScript:
		// The running init may have targeted the old interpreter.
		h.rerun = true
		h.mu.Unlock()
		h.log.Info("Kernel restarted during init, scheduling another run")
		return
	case StateReady:
	default:
		h.mu.Unlock()
		return
	}

	barrier := make(chan struct{})
	h.barrier = barrier
	h.setState(StateRunningInitScript)
	h.mu.Unlock()

	h.log.Info("Kernel restarted, re-running init script")
	go h.runInit(barrier)
}

// runInit executes the init script and releases barrier. A failed init
// leaves the handler usable. Restarts seen while it runs repeat the run.
func (h *Handler) runInit(barrier chan struct{}) {
	defer close(barrier)

	for {
		h.mu.Lock()
		h.rerun = false
		h.setState(StateRunningInitScript)
		h.mu.Unlock()

		if err := h.execute(h.ctx, h.model.InitScript); err != nil {
			if h.IsDisposed() {
				return
			}
			h.log.Warn("Init script failed", zap.Error(err))
			h.fail(monitoring.ReasonInit, err)
		}

		h.mu.Lock()
		if h.rerun && !h.IsDisposed() {
			h.mu.Unlock()
			continue
		}
		if h.barrier == barrier {
			h.setState(StateReady)
		}
		h.mu.Unlock()
		return
	}
}

// awaitInit blocks until no init run is pending. It reports whether it
// had to wait.
func (h *Handler) awaitInit(ctx context.Context) (waited bool, err error) {
	for {
		h.mu.Lock()
		barrier := h.barrier
		h.mu.Unlock()

		select {
		case <-barrier:
		default:
			waited = true
			select {
			case <-barrier:
			case <-h.done:
				return waited, ErrDisposed
			case <-ctx.Done():
				return waited, ctx.Err()
			}
		}

		h.mu.Lock()
		current := h.barrier == barrier
		h.mu.Unlock()
		if current {
			return waited, nil
		}
	}
}

func (h *Handler) execute(ctx context.Context, code string) error {
	reply, err := h.connector.Execute(ctx, code)
	if err != nil {
		return err
	}
	return reply.Err()
}

func (h *Handler) fail(reason string, err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	h.metrics.RecordFailure(h.model.LanguageID, reason)
}

// PerformInspection implements Inspectable. It emits an Update only when
// the parsed listing differs from the last emitted one.
func (h *Handler) PerformInspection(ctx context.Context) {
	if h.IsDisposed() {
		return
	}

	seq := h.latest.Add(1)
	waited, err := h.awaitInit(ctx)
	if err != nil {
		h.log.Debug("Inspection abandoned", zap.Error(err))
		return
	}
	if waited && h.latest.Load() != seq {
		h.log.Debug("Inspection superseded by a newer request")
		return
	}

	h.inspecting.Lock()
	defer h.inspecting.Unlock()
	if h.IsDisposed() {
		return
	}

	h.metrics.RecordInspection(h.model.LanguageID)

	reply, err := h.connector.Execute(ctx, h.model.QueryCommand)
	if err == nil {
		err = reply.Err()
	}
	if err != nil {
		if errors.Is(err, kernel.ErrDisposed) || h.IsDisposed() {
			return
		}
		h.log.Warn("Variable query failed", zap.Error(err))
		h.fail(monitoring.ReasonExecute, err)
		return
	}

	payload, err := ParseListing(reply.Text())
	if err != nil {
		h.log.Warn("Unparseable variable listing", zap.Error(err))
		h.fail(monitoring.ReasonParse, err)
		return
	}

	serialized, err := sonic.Marshal(payload)
	if err != nil {
		h.fail(monitoring.ReasonParse, err)
		return
	}

	h.mu.Lock()
	h.lastErr = nil
	if h.IsDisposed() || bytes.Equal(serialized, h.cache) {
		h.mu.Unlock()
		return
	}
	h.cache = serialized
	update := Update{Info: h.Info(), Payload: payload}
	h.last = update
	h.mu.Unlock()

	if h.inspected.Emit(update) {
		h.metrics.RecordUpdate(h.model.LanguageID)
	}
}

// PerformMatrixInspection implements Inspectable. Names known from the
// last listing to be non-tabular are refused without a round trip.
func (h *Handler) PerformMatrixInspection(ctx context.Context, name string, maxRows int) (*DataModel, error) {
	if h.IsDisposed() {
		return nil, ErrDisposed
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	command, err := h.model.MatrixCommand(name, maxRows)
	if err != nil {
		h.metrics.RecordMatrixQuery(h.model.LanguageID, "rejected")
		return nil, err
	}

	if v, ok := h.lookup(name); ok && !v.IsMatrix {
		h.metrics.RecordMatrixQuery(h.model.LanguageID, "rejected")
		return nil, fmt.Errorf("%w: %s is %s", ErrNotMatrix, name, v.Type)
	}

	if _, err := h.awaitInit(ctx); err != nil {
		return nil, err
	}

	reply, err := h.connector.Execute(ctx, command)
	if err != nil {
		h.metrics.RecordMatrixQuery(h.model.LanguageID, "error")
		return nil, fmt.Errorf("matrix query for %s: %w", name, err)
	}
	if err := reply.Err(); err != nil {
		h.metrics.RecordMatrixQuery(h.model.LanguageID, "error")
		return nil, fmt.Errorf("matrix query for %s: %w", name, err)
	}

	model, err := ParseTable(reply)
	if err != nil {
		h.metrics.RecordMatrixQuery(h.model.LanguageID, "error")
		return nil, fmt.Errorf("matrix query for %s: %w", name, err)
	}
	model.Name = name
	h.metrics.RecordMatrixQuery(h.model.LanguageID, "ok")
	return model, nil
}

func (h *Handler) lookup(name string) (Variable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.last.Payload {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Dispose implements Inspectable. It disposes the connector as well.
func (h *Handler) Dispose() {
	if !h.closing.CompareAndSwap(false, true) {
		return
	}
	h.state.Store(int32(StateDisposed))
	close(h.done)
	h.cancel()

	h.mu.Lock()
	disconnects := h.disconnects
	h.disconnects = nil
	h.cache = nil
	h.last = Update{}
	h.mu.Unlock()

	for _, disconnect := range disconnects {
		disconnect()
	}
	h.connector.Dispose()

	h.inspected.Close()
	h.log.Debug("Handler disposed")
	h.disposed.EmitAndClose(struct{}{})
}
