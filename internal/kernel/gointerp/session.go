package gointerp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

const (
	// LanguageName selects the go bundle.
	LanguageName = "go"
	// KernelName is reported in Info.
	KernelName = "yaegi"
	// CBORMimeType tags matrix replies encoded by inspect.Matrix.
	CBORMimeType = "application/cbor"
)

// Config defines interpreter limits.
type Config struct {
	Timeout time.Duration // per-execute timeout, zero for none
}

// Session is an in-process Go interpreter exposed as a kernel session. The
// host package "inspect" gives introspection scripts access to the
// interpreter's globals.
type Session struct {
	*kernel.Lifecycle

	config Config

	mu     sync.Mutex // serializes Eval
	interp *interp.Interpreter
	count  int
	stdout bytes.Buffer
	stderr bytes.Buffer

	snapMu  sync.RWMutex
	globals map[string]reflect.Value // as of the last finished Eval
}

// New creates a ready session identified by path.
func New(path string, config Config) (*Session, error) {
	s := &Session{
		Lifecycle: kernel.NewLifecycle(path),
		config:    config,
	}

	i, err := s.newInterpreter()
	if err != nil {
		return nil, err
	}
	s.interp = i
	s.MarkReady()
	return s, nil
}

func (s *Session) newInterpreter() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{
		Stdout: &s.stdout,
		Stderr: &s.stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(s.exports()); err != nil {
		return nil, fmt.Errorf("failed to load inspect package: %w", err)
	}
	return i, nil
}

func (s *Session) exports() interp.Exports {
	return interp.Exports{
		"inspect/inspect": {
			"Variables": reflect.ValueOf(s.variables),
			"Matrix":    reflect.ValueOf(s.matrix),
		},
	}
}

// Info implements kernel.Session.
func (s *Session) Info() kernel.Info {
	return kernel.Info{KernelName: KernelName, LanguageName: LanguageName}
}

// Execute evaluates code in the interpreter's main package.
func (s *Session) Execute(ctx context.Context, code string) (*kernel.Reply, error) {
	if s.IsDisposed() {
		return nil, kernel.ErrDisposed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interp == nil {
		return nil, kernel.ErrDisposed
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	s.stdout.Reset()
	s.stderr.Reset()
	s.count++

	res, err := s.interp.EvalWithContext(ctx, code)
	s.snapshot()

	if s.IsDisposed() {
		return nil, kernel.ErrDisposed
	}

	reply := &kernel.Reply{
		Status:         kernel.StatusOK,
		ExecutionCount: s.count,
		Stdout:         s.stdout.String(),
		Stderr:         s.stderr.String(),
	}

	if err != nil {
		reply.Status = kernel.StatusError
		reply.ErrorName, reply.ErrorValue = describeError(err)
		reply.Traceback = []string{err.Error()}
		return reply, nil
	}

	if mime, text, ok := exportResult(res); ok {
		reply.Data = map[string]string{mime: text}
	}
	return reply, nil
}

// Restart replaces the interpreter and publishes a restart event.
func (s *Session) Restart(ctx context.Context) error {
	if s.IsDisposed() {
		return kernel.ErrDisposed
	}

	s.mu.Lock()
	i, err := s.newInterpreter()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.interp = i
	s.count = 0
	s.mu.Unlock()

	s.snapMu.Lock()
	s.globals = nil
	s.snapMu.Unlock()

	s.NotifyRestart()
	return nil
}

// Close disposes the session.
func (s *Session) Close() error {
	if !s.MarkDisposed() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interp = nil
	return nil
}

// snapshot records the globals after an Eval. The inspect host functions
// read it instead of the interpreter, which is busy while they run.
func (s *Session) snapshot() {
	globals := s.interp.Globals()

	s.snapMu.Lock()
	s.globals = globals
	s.snapMu.Unlock()
}

func (s *Session) lookup(name string) (reflect.Value, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	v, ok := s.globals[name]
	if !ok || !visible(name, v) {
		return reflect.Value{}, false
	}
	return v, true
}

func (s *Session) visibleGlobals() map[string]reflect.Value {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	out := make(map[string]reflect.Value, len(s.globals))
	for name, v := range s.globals {
		if visible(name, v) {
			out[name] = v
		}
	}
	return out
}

// matrixTable is the value returned by inspect.Matrix. Its distinct type
// lets Execute tag the reply as CBOR.
type matrixTable []byte

// inspectError carries a Python-style error class name through a panic.
type inspectError struct {
	name string
	msg  string
}

func (e *inspectError) Error() string { return e.msg }

func describeError(err error) (name, value string) {
	var p interp.Panic
	if errors.As(err, &p) {
		if ie, ok := p.Value.(*inspectError); ok {
			return ie.name, ie.msg
		}
		return "panic", fmt.Sprint(p.Value)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "InterruptedError", err.Error()
	}
	return "Error", err.Error()
}

func exportResult(res reflect.Value) (mime, text string, ok bool) {
	if !res.IsValid() || !res.CanInterface() {
		return "", "", false
	}
	switch v := res.Interface().(type) {
	case matrixTable:
		return CBORMimeType, base64.StdEncoding.EncodeToString(v), true
	case string:
		return "text/plain", v, true
	default:
		return "text/plain", fmt.Sprintf("%v", v), true
	}
}
