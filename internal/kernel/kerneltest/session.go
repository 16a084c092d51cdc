// Package kerneltest provides a scriptable in-memory kernel.Session for
// tests.
package kerneltest

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

// Handler answers one execute request.
type Handler func(ctx context.Context, code string) (*kernel.Reply, error)

// Session is a fake kernel.Session whose replies come from a Handler.
type Session struct {
	*kernel.Lifecycle

	mu      sync.Mutex
	info    kernel.Info
	handler Handler
	calls   []string
}

// New creates a session that is not ready yet.
func New(path string, info kernel.Info) *Session {
	return &Session{
		Lifecycle: kernel.NewLifecycle(path),
		info:      info,
		handler: func(context.Context, string) (*kernel.Reply, error) {
			return OK(""), nil
		},
	}
}

// NewReady creates a session that completed its handshake.
func NewReady(path string, language string) *Session {
	s := New(path, kernel.Info{KernelName: language, LanguageName: language})
	s.MarkReady()
	return s
}

// Handle replaces the reply handler.
func (s *Session) Handle(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Info implements kernel.Session.
func (s *Session) Info() kernel.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Execute records code and forwards it to the handler.
func (s *Session) Execute(ctx context.Context, code string) (*kernel.Reply, error) {
	if s.IsDisposed() {
		return nil, kernel.ErrDisposed
	}

	s.mu.Lock()
	s.calls = append(s.calls, code)
	h := s.handler
	s.mu.Unlock()

	return h(ctx, code)
}

// Calls returns every code string executed so far.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many times code was executed.
func (s *Session) Count(code string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == code {
			n++
		}
	}
	return n
}

// Restart publishes a restart event.
func (s *Session) Restart(context.Context) error {
	s.NotifyRestart()
	return nil
}

// Close disposes the session.
func (s *Session) Close() error {
	s.MarkDisposed()
	return nil
}

// OK builds a successful reply printing text.
func OK(text string) *kernel.Reply {
	return &kernel.Reply{Status: kernel.StatusOK, Stdout: text}
}

// Fail builds an error reply.
func Fail(name, value string) *kernel.Reply {
	return &kernel.Reply{Status: kernel.StatusError, ErrorName: name, ErrorValue: value}
}
