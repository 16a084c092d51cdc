package jsruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

// LanguageName is reported in Info; it selects the javascript bundle.
const LanguageName = "javascript"

// KernelName is the kernel name reported in Info.
const KernelName = "goja"

// Config defines interpreter limits.
type Config struct {
	Timeout      time.Duration // per-execute timeout, zero for none
	MaxCallStack int           // maximum call stack depth
}

// DefaultConfig returns the limits used by the server.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		MaxCallStack: 1024,
	}
}

// Session is an in-process JavaScript interpreter exposed as a kernel
// session. Global variables survive across Execute calls until Restart.
type Session struct {
	*kernel.Lifecycle

	config Config

	mu    sync.Mutex // serializes access to vm
	vm    *goja.Runtime
	count int

	// console output collected during the current Execute
	stdout strings.Builder
	stderr strings.Builder
}

// New creates a ready session identified by path.
func New(path string, config Config) *Session {
	s := &Session{
		Lifecycle: kernel.NewLifecycle(path),
		config:    config,
	}
	s.vm = s.newRuntime()
	s.MarkReady()
	return s
}

// Info implements kernel.Session.
func (s *Session) Info() kernel.Info {
	return kernel.Info{KernelName: KernelName, LanguageName: LanguageName}
}

// Execute runs code in the shared global scope. The value of the last
// expression becomes the text/plain result; console.log output is stdout.
func (s *Session) Execute(ctx context.Context, code string) (*kernel.Reply, error) {
	if s.IsDisposed() {
		return nil, kernel.ErrDisposed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vm == nil {
		return nil, kernel.ErrDisposed
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	vm := s.vm
	vm.ClearInterrupt()

	finished := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			vm.Interrupt("execution cancelled: " + ctx.Err().Error())
		case <-s.Done():
			vm.Interrupt("session disposed")
		case <-finished:
		}
	}()

	s.stdout.Reset()
	s.stderr.Reset()
	s.count++

	val, err := vm.RunString(code)

	// The watcher must be gone before the flag is cleared, or a late
	// cancellation interrupts the next run.
	close(finished)
	watcher.Wait()
	vm.ClearInterrupt()

	reply := &kernel.Reply{
		Status:         kernel.StatusOK,
		ExecutionCount: s.count,
		Stdout:         s.stdout.String(),
		Stderr:         s.stderr.String(),
	}

	if err != nil {
		if s.IsDisposed() {
			return nil, kernel.ErrDisposed
		}
		reply.Status = kernel.StatusError
		reply.ErrorName, reply.ErrorValue = describeError(err)
		reply.Traceback = []string{err.Error()}
		return reply, nil
	}

	if text, ok := exportText(val); ok {
		reply.Data = map[string]string{"text/plain": text}
	}
	return reply, nil
}

// Restart discards every global and publishes a restart event.
func (s *Session) Restart(ctx context.Context) error {
	if s.IsDisposed() {
		return kernel.ErrDisposed
	}

	s.mu.Lock()
	s.vm = s.newRuntime()
	s.count = 0
	s.mu.Unlock()

	s.NotifyRestart()
	return nil
}

// Close disposes the session and interrupts a running script.
func (s *Session) Close() error {
	if !s.MarkDisposed() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vm = nil
	return nil
}

func (s *Session) newRuntime() *goja.Runtime {
	vm := goja.New()
	if s.config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(s.config.MaxCallStack)
	}

	// Host-only globals stay undefined
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", s.consoleFunc(&s.stdout))
	console.Set("info", s.consoleFunc(&s.stdout))
	console.Set("warn", s.consoleFunc(&s.stderr))
	console.Set("error", s.consoleFunc(&s.stderr))
	vm.Set("console", console)

	return vm
}

func (s *Session) consoleFunc(out *strings.Builder) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		for i, arg := range call.Arguments {
			if i > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(arg.String())
		}
		out.WriteByte('\n')
		return goja.Undefined()
	}
}

func exportText(val goja.Value) (string, bool) {
	if val == nil || goja.IsUndefined(val) {
		return "", false
	}
	if goja.IsNull(val) {
		return "null", true
	}
	return val.String(), true
}

func describeError(err error) (name, value string) {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		if obj, ok := exception.Value().(*goja.Object); ok {
			if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
				name = n.String()
			}
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				value = m.String()
			}
		}
		if value == "" {
			value = exception.Value().String()
		}
		if name == "" {
			name = "Error"
		}
		return name, value
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return "InterruptedError", fmt.Sprint(interrupted.Value())
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return "SyntaxError", syntaxErr.Error()
	}

	return "Error", err.Error()
}
