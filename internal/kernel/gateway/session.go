package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

// PathPrefix prefixes the path of every gateway session. Paths stay a
// single URL segment.
const PathPrefix = "kernel_"

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithShutdownOnClose makes Close also stop the remote kernel.
func WithShutdownOnClose() Option {
	return func(s *Session) { s.ownsKernel = true }
}

// Session is a kernel session backed by a remote Jupyter kernel. Code runs
// over the channels websocket; the REST client handles restart and
// shutdown.
type Session struct {
	*kernel.Lifecycle

	client     *Client
	kernelID   string
	kernelName string
	sessionID  string
	ownsKernel bool
	dialer     *websocket.Dialer
	log        *logging.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	info    kernel.Info
	infoID  string
	pending map[string]*execution
}

// execution collects the iopub output of one execute_request. It is
// complete once both the shell reply and the idle status arrived.
type execution struct {
	reply   *kernel.Reply
	replied bool
	idle    bool
	done    chan struct{}
}

// Start creates a kernel from the named kernelspec and connects to it. The
// kernel is shut down when the session closes.
func Start(ctx context.Context, client *Client, kernelName string, opts ...Option) (*Session, error) {
	model, err := client.StartKernel(ctx, kernelName)
	if err != nil {
		return nil, fmt.Errorf("start kernel %q: %w", kernelName, err)
	}
	opts = append(opts, WithShutdownOnClose())
	s, err := connect(ctx, client, model, opts...)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.ShutdownKernel(shutdownCtx, model.ID)
		return nil, err
	}
	return s, nil
}

// Connect attaches to a running kernel. The session becomes ready once the
// kernel answered kernel_info_request.
func Connect(ctx context.Context, client *Client, kernelID string, opts ...Option) (*Session, error) {
	model, err := client.GetKernel(ctx, kernelID)
	if err != nil {
		return nil, fmt.Errorf("get kernel %q: %w", kernelID, err)
	}
	return connect(ctx, client, model, opts...)
}

func connect(ctx context.Context, client *Client, model *KernelModel, opts ...Option) (*Session, error) {
	s := &Session{
		Lifecycle:  kernel.NewLifecycle(PathPrefix + model.ID),
		client:     client,
		kernelID:   model.ID,
		kernelName: model.Name,
		sessionID:  uuid.NewString(),
		dialer:     websocket.DefaultDialer,
		pending:    make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).Named("gateway").With(
		zap.String("session", s.Path()),
		zap.String("kernel", model.Name),
	)

	conn, resp, err := s.dialer.DialContext(ctx, client.ChannelsURL(model.ID, s.sessionID), client.Header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("open channels for kernel %s: %w", model.ID, err)
	}
	s.conn = conn

	go s.readLoop()

	if err := s.requestInfo(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// KernelID returns the remote kernel id.
func (s *Session) KernelID() string {
	return s.kernelID
}

// Info implements kernel.Session.
func (s *Session) Info() kernel.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Execute sends an execute_request and waits for its reply and the
// matching idle status.
func (s *Session) Execute(ctx context.Context, code string) (*kernel.Reply, error) {
	if s.IsDisposed() {
		return nil, kernel.ErrDisposed
	}

	msg, err := newMessage(s.sessionID, msgExecuteRequest, "shell", executeRequest{
		Code:            code,
		UserExpressions: map[string]any{},
	})
	if err != nil {
		return nil, err
	}

	exec := &execution{
		reply: &kernel.Reply{Status: kernel.StatusOK, Data: map[string]string{}},
		done:  make(chan struct{}),
	}
	id := msg.Header.MsgID

	s.mu.Lock()
	s.pending[id] = exec
	s.mu.Unlock()

	if err := s.send(msg); err != nil {
		s.forget(id)
		return nil, err
	}

	select {
	case <-exec.done:
		return exec.reply, nil
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	case <-s.Done():
		return nil, kernel.ErrDisposed
	}
}

// Restart restarts the remote kernel through the REST API.
func (s *Session) Restart(ctx context.Context) error {
	if s.IsDisposed() {
		return kernel.ErrDisposed
	}
	if err := s.client.RestartKernel(ctx, s.kernelID); err != nil {
		return fmt.Errorf("restart kernel %s: %w", s.kernelID, err)
	}
	s.NotifyRestart()
	return nil
}

// Close disconnects from the kernel, stopping it when the session started it.
func (s *Session) Close() error {
	if !s.MarkDisposed() {
		return nil
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	err := s.conn.Close()

	if s.ownsKernel {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.client.ShutdownKernel(ctx, s.kernelID); serr != nil && !errors.Is(serr, ErrKernelNotFound) {
			return serr
		}
	}
	return err
}

func (s *Session) requestInfo() error {
	msg, err := newMessage(s.sessionID, msgKernelInfoRequest, "shell", struct{}{})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.infoID = msg.Header.MsgID
	s.mu.Unlock()
	return s.send(msg)
}

func (s *Session) send(msg *message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Header.MsgType, err)
	}
	return nil
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer func() {
		s.conn.Close()
		s.MarkDisposed()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.IsDisposed() {
				s.log.Info("Kernel channels closed", zap.Error(err))
			}
			return
		}

		var msg message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.log.Warn("Dropping malformed kernel message", zap.Error(err))
			continue
		}
		if s.dispatch(&msg) {
			return
		}
	}
}

// dispatch routes one message; it reports whether the kernel died.
func (s *Session) dispatch(msg *message) bool {
	parent := msg.ParentHeader.MsgID

	switch msg.Header.MsgType {
	case msgKernelInfoReply:
		s.handleInfo(parent, msg.Content)

	case msgStatus:
		var c statusContent
		if err := sonic.Unmarshal(msg.Content, &c); err != nil {
			return false
		}
		switch c.ExecutionState {
		case "idle":
			s.update(parent, func(e *execution) { e.idle = true })
		case "restarting", "starting":
			if s.IsReady() {
				s.log.Info("Kernel restarting")
				s.failPending("kernel restarted")
				s.NotifyRestart()
			}
		case "dead":
			s.log.Warn("Kernel died")
			return true
		}

	case msgStream:
		var c streamContent
		if err := sonic.Unmarshal(msg.Content, &c); err != nil {
			return false
		}
		s.update(parent, func(e *execution) {
			if c.Name == "stderr" {
				e.reply.Stderr += c.Text
			} else {
				e.reply.Stdout += c.Text
			}
		})

	case msgExecuteResult, msgDisplayData:
		var c dataContent
		if err := sonic.Unmarshal(msg.Content, &c); err != nil {
			return false
		}
		s.update(parent, func(e *execution) {
			for mime, v := range c.Data {
				e.reply.Data[mime] = mimeText(v)
			}
			if c.ExecutionCount > 0 {
				e.reply.ExecutionCount = c.ExecutionCount
			}
		})

	case msgError:
		var c errorContent
		if err := sonic.Unmarshal(msg.Content, &c); err != nil {
			return false
		}
		s.update(parent, func(e *execution) {
			setError(e.reply, c.Ename, c.Evalue, c.Traceback)
		})

	case msgExecuteReply:
		var c executeReply
		if err := sonic.Unmarshal(msg.Content, &c); err != nil {
			return false
		}
		s.update(parent, func(e *execution) {
			e.replied = true
			e.reply.ExecutionCount = c.ExecutionCount
			switch c.Status {
			case "error":
				setError(e.reply, c.Ename, c.Evalue, c.Traceback)
			case "aborted":
				setError(e.reply, "Aborted", "execution aborted", nil)
			}
		})
	}
	return false
}

func (s *Session) handleInfo(parent string, content []byte) {
	s.mu.Lock()
	if parent != s.infoID {
		s.mu.Unlock()
		return
	}
	var c kernelInfoReply
	if err := sonic.Unmarshal(content, &c); err != nil {
		s.mu.Unlock()
		s.log.Warn("Malformed kernel_info_reply", zap.Error(err))
		return
	}
	name := s.kernelName
	if name == "" {
		name = c.Implementation
	}
	s.info = kernel.Info{KernelName: name, LanguageName: c.LanguageInfo.Name}
	s.mu.Unlock()

	s.log.Debug("Kernel ready", zap.String("language", c.LanguageInfo.Name))
	s.MarkReady()
}

// update applies fn to the pending execution answering parent and settles
// it once complete.
func (s *Session) update(parent string, fn func(*execution)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[parent]
	if !ok {
		return
	}
	fn(e)
	if e.replied && e.idle {
		delete(s.pending, parent)
		close(e.done)
	}
}

func (s *Session) failPending(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.pending {
		setError(e.reply, "KernelRestarted", reason, nil)
		delete(s.pending, id)
		close(e.done)
	}
}

func setError(r *kernel.Reply, name, value string, traceback []string) {
	r.Status = kernel.StatusError
	if r.ErrorName == "" {
		r.ErrorName = name
		r.ErrorValue = strings.TrimSpace(value)
	}
	if len(traceback) > 0 {
		r.Traceback = traceback
	}
}
