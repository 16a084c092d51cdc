package kernel

import (
	"sync"

	"github.com/GriffinCanCode/varinspector/internal/signal"
)

// Lifecycle implements the readiness, disposal and event parts of Session.
// Session implementations embed it.
type Lifecycle struct {
	path string

	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once

	events *signal.Signal[Event]
}

// NewLifecycle creates the lifecycle of a session identified by path.
func NewLifecycle(path string) *Lifecycle {
	return &Lifecycle{
		path:   path,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		events: signal.New[Event](),
	}
}

// Path identifies the session.
func (l *Lifecycle) Path() string { return l.path }

// Ready is closed by MarkReady.
func (l *Lifecycle) Ready() <-chan struct{} { return l.ready }

// Done is closed by MarkDisposed.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Subscribe registers fn for lifecycle events.
func (l *Lifecycle) Subscribe(fn func(Event)) func() {
	return l.events.Connect(fn)
}

// MarkReady completes the handshake. Later calls are no-ops.
func (l *Lifecycle) MarkReady() {
	l.readyOnce.Do(func() { close(l.ready) })
}

// IsReady reports whether MarkReady was called.
func (l *Lifecycle) IsReady() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// NotifyRestart publishes EventRestarted.
func (l *Lifecycle) NotifyRestart() {
	l.events.Emit(Event{Kind: EventRestarted, Session: l.path})
}

// MarkDisposed closes Done and publishes a final EventDisposed. It reports
// whether this call performed the disposal.
func (l *Lifecycle) MarkDisposed() bool {
	disposed := false
	l.doneOnce.Do(func() {
		close(l.done)
		l.events.EmitAndClose(Event{Kind: EventDisposed, Session: l.path})
		disposed = true
	})
	return disposed
}

// IsDisposed reports whether MarkDisposed was called.
func (l *Lifecycle) IsDisposed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
