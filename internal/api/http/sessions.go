package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/varinspector/internal/inspector"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/launcher"
)

var (
	errSessionNotFound = errors.New("session not found")
	errNotRestartable  = errors.New("session cannot be restarted")
	errBadRequest      = errors.New("bad request")
)

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID           string `json:"id"`
	KernelName   string `json:"kernel_name"`
	LanguageName string `json:"language_name"`
	Ready        bool   `json:"ready"`
	Tracked      bool   `json:"tracked"`
	Active       bool   `json:"active"`
	State        string `json:"state,omitempty"`
}

func (h *Handlers) view(session kernel.Session) SessionView {
	v := SessionView{ID: session.Path()}
	select {
	case <-session.Ready():
		v.Ready = true
		info := session.Info()
		v.KernelName = info.KernelName
		v.LanguageName = info.LanguageName
	default:
	}

	if handler, err := h.manager.Handler(v.ID); err == nil {
		v.Tracked = true
		if real, ok := handler.(*inspector.Handler); ok {
			v.State = real.State().String()
		}
	}
	if src := h.manager.Source(); src != nil && src.ID() == v.ID {
		v.Active = true
	}
	return v
}

func (h *Handlers) session(c *gin.Context) (kernel.Session, bool) {
	id := c.Param("id")
	session, ok := h.pool.Get(id)
	if !ok {
		h.fail(c, fmt.Errorf("%w: %s", errSessionNotFound, id))
		return nil, false
	}
	return session, true
}

// ListSessions lists live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.pool.List()
	h.metrics.SetSessions(len(sessions))

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, h.view(s))
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": views,
		"count":    len(views),
	})
}

// GetSession describes one session.
func (h *Handlers) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.view(session)})
}

// CreateSession launches an in-process interpreter or a gateway kernel.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req launcher.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.launcher.Launch(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.SetSessions(len(h.pool.List()))

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": h.view(session),
	})
}

// DeleteSession disposes a session. Its handler goes with it.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.pool.Close(id); err != nil {
		h.fail(c, fmt.Errorf("%w: %s", errSessionNotFound, id))
		return
	}
	h.metrics.SetSessions(len(h.pool.List()))

	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// FocusSession makes the session the active inspection source and
// inspects it once.
func (h *Handlers) FocusSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	handler, err := h.tracker.Focus(ctx, session)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": h.view(session),
		"info":    handler.Info(),
	})
}

// ExecuteRequest is the body of ExecuteCode.
type ExecuteRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExecuteCode runs code in a session. Tracked sessions execute through
// their connector so user code queues behind introspection. The active
// source is re-inspected afterwards.
func (h *Handlers) ExecuteCode(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	execute := session.Execute
	if handler, err := h.manager.Handler(session.Path()); err == nil {
		if real, ok := handler.(*inspector.Handler); ok {
			execute = real.Connector().Execute
		}
	}

	reply, err := execute(ctx, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}

	if src := h.manager.Source(); src != nil && src.ID() == session.Path() {
		h.refresh(c, src)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": reply.Status == kernel.StatusOK,
		"reply":   reply,
	})
}

// RestartSession restarts the interpreter behind a session. Its handler
// re-runs the init script before the next query.
func (h *Handlers) RestartSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	restarter, ok := session.(kernel.Restarter)
	if !ok {
		h.fail(c, errNotRestartable)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := restarter.Restart(ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": session.Path()})
}
