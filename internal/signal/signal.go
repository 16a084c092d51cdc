// Package signal provides synchronous observer lists used to publish
// inspection updates and lifecycle events.
//
// Delivery order is registration order. Observers run on the emitting
// goroutine and must not block for long. Once a Signal is closed it drops
// every further Emit and Connect.
package signal

import "sync"

// Signal is a typed list of observers.
type Signal[T any] struct {
	mu        sync.Mutex
	next      uint64
	observers []observer[T]
	closed    bool
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// New creates an open signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connect registers fn and returns a function that removes it again.
// Connecting to a closed signal is a no-op.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || fn == nil {
		return func() {}
	}

	s.next++
	id := s.next
	s.observers = append(s.observers, observer[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to a snapshot of the current observers. It reports
// whether the signal was still open.
func (s *Signal[T]) Emit(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	snapshot := make([]observer[T], len(s.observers))
	copy(snapshot, s.observers)
	s.mu.Unlock()

	for _, o := range snapshot {
		o.fn(v)
	}
	return true
}

// EmitAndClose delivers a final value and then closes the signal. Only the
// first call delivers; later calls report false.
func (s *Signal[T]) EmitAndClose(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	snapshot := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, o := range snapshot {
		o.fn(v)
	}
	return true
}

// Close drops all observers without a final delivery.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.observers = nil
}

// Closed reports whether the signal stopped delivering.
func (s *Signal[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of connected observers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}
