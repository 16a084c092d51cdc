package kernel

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
)

// Pool tracks live sessions by path. A session leaves the pool on its own
// when it is disposed.
type Pool struct {
	sessions sync.Map // map[string]Session
	logger   *logging.Logger
}

// NewPool creates an empty pool.
func NewPool(logger *logging.Logger) *Pool {
	return &Pool{logger: logging.OrNop(logger).Named("pool")}
}

// Add stores session. Adding a path that is already live fails.
func (p *Pool) Add(session Session) error {
	path := session.Path()
	if _, loaded := p.sessions.LoadOrStore(path, session); loaded {
		return fmt.Errorf("session already exists: %s", path)
	}

	go func() {
		<-session.Done()
		p.sessions.CompareAndDelete(path, session)
		p.logger.Debug("Session left pool", zap.String("session", path))
	}()

	p.logger.Info("Session added",
		zap.String("session", path),
		zap.String("kernel", session.Info().KernelName),
	)
	return nil
}

// Get retrieves a session by path.
func (p *Pool) Get(path string) (Session, bool) {
	value, ok := p.sessions.Load(path)
	if !ok {
		return nil, false
	}
	return value.(Session), true
}

// List returns all live sessions ordered by path.
func (p *Pool) List() []Session {
	var sessions []Session
	p.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(Session))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Path() < sessions[j].Path()
	})
	return sessions
}

// Close disposes one session and removes it.
func (p *Pool) Close(path string) error {
	value, ok := p.sessions.LoadAndDelete(path)
	if !ok {
		return fmt.Errorf("session not found: %s", path)
	}
	return value.(Session).Close()
}

// CloseAll disposes every session.
func (p *Pool) CloseAll() {
	p.sessions.Range(func(key, value interface{}) bool {
		p.sessions.Delete(key)
		if err := value.(Session).Close(); err != nil {
			p.logger.Warn("Failed to close session", zap.String("session", key.(string)), zap.Error(err))
		}
		return true
	})
}
