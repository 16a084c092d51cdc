package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/logging"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/inspector"
	"github.com/GriffinCanCode/varinspector/internal/shared/id"
)

// Event types sent to clients.
const (
	TypeWelcome       = "welcome"
	TypeInspection    = "inspection"
	TypeSourceChanged = "source_changed"
	TypeDisposed      = "disposed"
	TypePong          = "pong"
	TypeError         = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
	maxMessage = 4096
)

// Event is one message of the stream.
type Event struct {
	Type      string                `json:"type"`
	Source    string                `json:"source,omitempty"`
	Info      *inspector.KernelInfo `json:"info,omitempty"`
	Update    *inspector.Update     `json:"update,omitempty"`
	Client    string                `json:"client,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// request is a message received from a client.
type request struct {
	Type string `json:"type"`
}

// Options configures a Hub.
type Options struct {
	// Origins lists allowed Origin headers; empty or "*" allows all.
	Origins []string
	// Trigger is called when a client asks for an inspection.
	Trigger func()
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// Hub streams inspection events of the active source to every connected
// client.
type Hub struct {
	manager  *inspector.Manager
	upgrader websocket.Upgrader
	trigger  func()
	metrics  *monitoring.Metrics
	log      *logging.Logger

	mu       sync.Mutex
	clients  map[id.ClientID]*client
	watching []func()
	closed   bool

	stopSource func()
}

// NewHub creates a hub following manager's active source.
func NewHub(manager *inspector.Manager, opts Options) *Hub {
	h := &Hub{
		manager: manager,
		trigger: opts.Trigger,
		metrics: opts.Metrics,
		log:     logging.OrNop(opts.Logger).Named("ws"),
		clients: make(map[id.ClientID]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(opts.Origins),
	}

	h.stopSource = manager.OnSourceChanged(h.follow)
	if src := manager.Source(); src != nil {
		h.follow(src)
	}
	return h
}

func checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// follow moves the hub's subscriptions to src and announces the switch.
func (h *Hub) follow(src inspector.Inspectable) {
	h.mu.Lock()
	for _, stop := range h.watching {
		stop()
	}
	h.watching = nil
	if h.closed {
		h.mu.Unlock()
		return
	}
	if src != nil {
		sourceID := src.ID()
		h.watching = append(h.watching,
			src.OnInspected(func(u inspector.Update) {
				h.broadcast(Event{Type: TypeInspection, Source: sourceID, Update: &u})
			}),
			src.OnDisposed(func() {
				h.broadcast(Event{Type: TypeDisposed, Source: sourceID})
			}),
		)
	}
	h.mu.Unlock()

	event := Event{Type: TypeSourceChanged}
	if src != nil {
		info := src.Info()
		event.Source = src.ID()
		event.Info = &info
	}
	h.broadcast(event)
}

func (h *Hub) broadcast(event Event) {
	event.Timestamp = time.Now().Unix()
	payload, err := sonic.Marshal(event)
	if err != nil {
		h.log.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if c.enqueue(payload) {
			h.metrics.RecordWSMessage("out", event.Type)
		} else {
			h.log.Warn("Dropping slow client", zap.String("client", string(c.id)))
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and streams events until the
// client goes away.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(id.NewClientID(), conn)
	h.send(cl, h.welcome(cl))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cl.close()
		_ = conn.Close()
		return
	}
	h.clients[cl.id] = cl
	h.mu.Unlock()

	h.metrics.IncWSConnections()
	h.log.Debug("Client connected", zap.String("client", string(cl.id)))

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl.id)
		h.mu.Unlock()
		cl.close()
		h.metrics.DecWSConnections()
		h.log.Debug("Client disconnected", zap.String("client", string(cl.id)))
	}()

	go cl.writePump()
	h.readPump(cl)
}

func (h *Hub) welcome(cl *client) Event {
	event := Event{Type: TypeWelcome, Client: string(cl.id)}
	if src := h.manager.Source(); src != nil {
		info := src.Info()
		event.Source = src.ID()
		event.Info = &info
		if u, ok := src.LastUpdate(); ok {
			event.Update = &u
		}
	}
	return event
}

func (h *Hub) send(cl *client, event Event) {
	event.Timestamp = time.Now().Unix()
	payload, err := sonic.Marshal(event)
	if err != nil {
		return
	}
	if cl.enqueue(payload) {
		h.metrics.RecordWSMessage("out", event.Type)
	}
}

func (h *Hub) readPump(cl *client) {
	cl.conn.SetReadLimit(maxMessage)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket read error", zap.String("client", string(cl.id)), zap.Error(err))
			}
			return
		}

		var req request
		if err := sonic.Unmarshal(raw, &req); err != nil {
			h.send(cl, Event{Type: TypeError, Message: "invalid message"})
			continue
		}
		h.metrics.RecordWSMessage("in", requestLabel(req.Type))

		switch req.Type {
		case "ping":
			h.send(cl, Event{Type: TypePong})
		case "inspect":
			if h.trigger != nil {
				h.trigger()
			}
		case "snapshot":
			h.send(cl, h.welcome(cl))
		default:
			h.send(cl, Event{Type: TypeError, Message: "unknown message type"})
		}
	}
}

// requestLabel bounds the metric label to the request types the hub
// understands.
func requestLabel(t string) string {
	switch t {
	case "ping", "inspect", "snapshot":
		return t
	default:
		return "unknown"
	}
}

// Close disconnects every client and stops following the manager.
func (h *Hub) Close() {
	h.stopSource()

	h.mu.Lock()
	h.closed = true
	for _, stop := range h.watching {
		stop()
	}
	h.watching = nil
	clients := h.clients
	h.clients = make(map[id.ClientID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
