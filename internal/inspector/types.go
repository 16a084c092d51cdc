package inspector

import (
	"context"
	"errors"
)

var (
	// ErrDisposed is returned by queries on a disposed handler.
	ErrDisposed = errors.New("inspection handler is disposed")
	// ErrNotMatrix is returned when a matrix query targets a variable that
	// is not tabular.
	ErrNotMatrix = errors.New("variable is not a matrix")
	// ErrNoLanguageSupport is returned by the dummy handler's matrix query.
	ErrNoLanguageSupport = errors.New("no inspection support for this kernel language")
	// ErrHandlerNotFound is returned by Manager.Handler for unknown ids.
	ErrHandlerNotFound = errors.New("inspection handler not found")
)

// Variable describes one variable in the remote namespace.
type Variable struct {
	Name     string `json:"varName"`
	Type     string `json:"varType"`
	Size     string `json:"varSize"`
	Shape    string `json:"varShape"`
	Content  string `json:"varContent"`
	IsMatrix bool   `json:"isMatrix"`
}

// KernelInfo describes the session behind a handler. Context is a
// free-form label set by the host (e.g. a notebook path).
type KernelInfo struct {
	KernelName   string `json:"kernelName,omitempty"`
	LanguageName string `json:"languageName,omitempty"`
	Context      string `json:"context,omitempty"`
}

// Update is emitted whenever the variable listing changed. Payload keeps
// the order reported by the interpreter.
type Update struct {
	Info    KernelInfo `json:"info"`
	Payload []Variable `json:"payload"`
}

// Inspectable is what the manager and the display layer work with. Both
// Handler and DummyHandler implement it.
type Inspectable interface {
	// ID is the identity of the inspected session.
	ID() string
	// Info describes the inspected session.
	Info() KernelInfo
	// OnInspected registers fn for updates.
	OnInspected(fn func(Update)) (disconnect func())
	// OnDisposed registers fn for disposal. fn runs at most once.
	OnDisposed(fn func()) (disconnect func())
	// PerformInspection refreshes the listing and emits an Update when it
	// changed. Failures are logged, never returned.
	PerformInspection(ctx context.Context)
	// PerformMatrixInspection fetches up to maxRows rows of a tabular
	// variable. It never emits an Update.
	PerformMatrixInspection(ctx context.Context, name string, maxRows int) (*DataModel, error)
	// LastUpdate returns the most recent emitted update.
	LastUpdate() (Update, bool)
	// LastError returns the most recent swallowed inspection failure.
	LastError() error
	// Dispose releases the handler. Safe to call more than once.
	Dispose()
	// IsDisposed reports whether Dispose ran.
	IsDisposed() bool
}
