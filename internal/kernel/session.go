package kernel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotReady is returned by Execute before the session handshake completed.
	ErrNotReady = errors.New("kernel session is not ready")
	// ErrDisposed is returned by every operation on a disposed session or connector.
	ErrDisposed = errors.New("kernel session is disposed")
)

// Info identifies the interpreter behind a session.
type Info struct {
	KernelName   string `json:"kernel_name"`
	LanguageName string `json:"language_name"`
}

// Status is the outcome reported by the interpreter for one request.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Reply is the result of one execute request. Data maps MIME types to the
// textual representation of rich results; binary types are base64.
type Reply struct {
	Status         Status            `json:"status"`
	ExecutionCount int               `json:"execution_count,omitempty"`
	Stdout         string            `json:"stdout,omitempty"`
	Stderr         string            `json:"stderr,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	ErrorName      string            `json:"ename,omitempty"`
	ErrorValue     string            `json:"evalue,omitempty"`
	Traceback      []string          `json:"traceback,omitempty"`
}

// ExecutionError is raised code reported back by the interpreter.
type ExecutionError struct {
	Name      string
	Value     string
	Traceback []string
}

func (e *ExecutionError) Error() string {
	if e.Name == "" {
		return e.Value
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

// Err returns the interpreter error carried by the reply, if any.
func (r *Reply) Err() error {
	if r == nil {
		return errors.New("empty reply")
	}
	if r.Status == StatusError {
		return &ExecutionError{Name: r.ErrorName, Value: r.ErrorValue, Traceback: r.Traceback}
	}
	return nil
}

// Text returns the textual payload of the reply: printed output when there
// is any, the plain-text result otherwise. Python-style quoted string
// results are unquoted.
func (r *Reply) Text() string {
	if r == nil {
		return ""
	}
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	return unquoteRepr(strings.TrimSpace(r.Data["text/plain"]))
}

func unquoteRepr(s string) string {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return s
	}
	inner := s[1 : len(s)-1]
	inner = strings.ReplaceAll(inner, `\'`, `'`)
	inner = strings.ReplaceAll(inner, `"`, `\"`)
	out, err := strconv.Unquote(`"` + inner + `"`)
	if err != nil {
		return s
	}
	return out
}

// EventKind tells subscribers what happened to a session.
type EventKind int

const (
	EventRestarted EventKind = iota + 1
	EventDisposed
)

func (k EventKind) String() string {
	switch k {
	case EventRestarted:
		return "restarted"
	case EventDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification published by a session.
type Event struct {
	Kind    EventKind
	Session string
}

// Session is a live interpreter that accepts code and returns replies.
// Implementations must be safe for concurrent use; callers still issue one
// Execute at a time through a Connector.
type Session interface {
	// Path identifies the session. It keys every per-session cache.
	Path() string
	// Ready is closed once the startup handshake completed and Info is valid.
	Ready() <-chan struct{}
	// Done is closed when the session is disposed.
	Done() <-chan struct{}
	// Info reports the interpreter identity.
	Info() Info
	// Execute submits code and waits for the interpreter's reply.
	Execute(ctx context.Context, code string) (*Reply, error)
	// Subscribe registers fn for lifecycle events.
	Subscribe(fn func(Event)) (unsubscribe func())
	// Close disposes the session.
	Close() error
}

// Restarter is implemented by sessions whose interpreter can be restarted
// on request.
type Restarter interface {
	Restart(ctx context.Context) error
}
