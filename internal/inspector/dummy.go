package inspector

import (
	"context"
	"sync/atomic"

	"github.com/GriffinCanCode/varinspector/internal/signal"
)

// DummyHandler stands in for sessions whose language has no bundle. It
// never talks to the session and never emits updates.
type DummyHandler struct {
	id       string
	info     KernelInfo
	closing  atomic.Bool
	disposed *signal.Signal[struct{}]
}

// NewDummyHandler creates a dummy for the session id.
func NewDummyHandler(id string, info KernelInfo) *DummyHandler {
	return &DummyHandler{
		id:       id,
		info:     info,
		disposed: signal.New[struct{}](),
	}
}

func (d *DummyHandler) ID() string       { return d.id }
func (d *DummyHandler) Info() KernelInfo { return d.info }

// OnInspected never fires.
func (d *DummyHandler) OnInspected(func(Update)) func() { return func() {} }

func (d *DummyHandler) OnDisposed(fn func()) func() {
	return d.disposed.Connect(func(struct{}) { fn() })
}

// PerformInspection does nothing.
func (d *DummyHandler) PerformInspection(context.Context) {}

// PerformMatrixInspection always fails.
func (d *DummyHandler) PerformMatrixInspection(context.Context, string, int) (*DataModel, error) {
	if d.IsDisposed() {
		return nil, ErrDisposed
	}
	return nil, ErrNoLanguageSupport
}

func (d *DummyHandler) LastUpdate() (Update, bool) { return Update{}, false }
func (d *DummyHandler) LastError() error           { return nil }
func (d *DummyHandler) IsDisposed() bool           { return d.closing.Load() }

func (d *DummyHandler) Dispose() {
	if !d.closing.CompareAndSwap(false, true) {
		return
	}
	d.disposed.EmitAndClose(struct{}{})
}
