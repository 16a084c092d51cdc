package inspector

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/signal"
)

// Manager tracks the handler of every live session and the single active
// one (the source) whose updates the display follows.
type Manager struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	handlers map[string]*entry
	source   Inspectable
	unwatch  func()

	sourceChanged *signal.Signal[Inspectable]
}

type entry struct {
	handler    Inspectable
	disconnect func()
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		log:           logging.OrNop(log).Named("manager"),
		metrics:       metrics,
		handlers:      make(map[string]*entry),
		sourceChanged: signal.New[Inspectable](),
	}
}

// HasHandler reports whether a handler is registered for id.
func (m *Manager) HasHandler(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[id]
	return ok
}

// Handler returns the handler registered for id.
func (m *Manager) Handler(id string) (Inspectable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
	}
	return e.handler, nil
}

// Handlers returns the registered ids in sorted order.
func (m *Manager) Handlers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handlers))
	for id := range m.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddHandler registers h under its id, replacing any previous entry. The
// replaced handler is not disposed. A disposed handler is never
// registered; a registered one is removed when it is disposed.
func (m *Manager) AddHandler(h Inspectable) {
	disconnect := h.OnDisposed(func() { m.remove(h) })

	m.mu.Lock()
	if h.IsDisposed() {
		m.mu.Unlock()
		disconnect()
		return
	}
	if old, ok := m.handlers[h.ID()]; ok && old.handler != h {
		old.disconnect()
		m.log.Debug("Replacing handler", zap.String("session", h.ID()))
	}
	m.handlers[h.ID()] = &entry{handler: h, disconnect: disconnect}
	count := len(m.handlers)
	m.mu.Unlock()

	m.metrics.SetHandlers(count)
}

func (m *Manager) remove(h Inspectable) {
	m.mu.Lock()
	e, ok := m.handlers[h.ID()]
	if !ok || e.handler != h {
		m.mu.Unlock()
		return
	}
	delete(m.handlers, h.ID())
	count := len(m.handlers)
	m.mu.Unlock()

	m.metrics.SetHandlers(count)
	m.log.Debug("Handler removed", zap.String("session", h.ID()))
}

// Source returns the active handler, or nil.
func (m *Manager) Source() Inspectable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// SetSource makes h the active handler; nil clears it. A disposed handler
// is refused. The source is cleared automatically when it is disposed.
func (m *Manager) SetSource(h Inspectable) error {
	var unwatch func()
	if h != nil {
		unwatch = h.OnDisposed(func() { m.clearSource(h) })
	}

	m.mu.Lock()
	if h != nil && h.IsDisposed() {
		m.mu.Unlock()
		unwatch()
		return fmt.Errorf("%w: %s", ErrDisposed, h.ID())
	}
	if h != nil {
		if e, ok := m.handlers[h.ID()]; !ok || e.handler != h {
			m.mu.Unlock()
			unwatch()
			return fmt.Errorf("%w: %s is not registered", ErrHandlerNotFound, h.ID())
		}
	}
	if m.source == h {
		m.mu.Unlock()
		if unwatch != nil {
			unwatch()
		}
		return nil
	}
	if m.unwatch != nil {
		m.unwatch()
	}
	m.source, m.unwatch = h, unwatch
	m.mu.Unlock()

	m.sourceChanged.Emit(h)
	return nil
}

func (m *Manager) clearSource(h Inspectable) {
	m.mu.Lock()
	if m.source != h {
		m.mu.Unlock()
		return
	}
	m.source, m.unwatch = nil, nil
	m.mu.Unlock()

	m.log.Debug("Active handler disposed", zap.String("session", h.ID()))
	m.sourceChanged.Emit(nil)
}

// OnSourceChanged registers fn for changes of the active handler. fn
// receives nil when the source was cleared.
func (m *Manager) OnSourceChanged(fn func(Inspectable)) func() {
	return m.sourceChanged.Connect(fn)
}

// Close disposes every registered handler.
func (m *Manager) Close() {
	m.mu.Lock()
	handlers := make([]Inspectable, 0, len(m.handlers))
	for _, e := range m.handlers {
		handlers = append(handlers, e.handler)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h.Dispose()
	}
}
