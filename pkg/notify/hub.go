package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/gorilla/websocket"

	appctx "github.com/Ramsey-B/yarrow/pkg/context"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
)

// Client actions
const (
	ActionHeartbeat = "heartbeat"
	ActionSubscribe = "subscribe"
	ActionSubmit    = "submit"
)

// ClientMessage is a message sent by a WebSocket client
type ClientMessage struct {
	Action           string          `json:"action"`
	MessageType      string          `json:"messageType,omitempty"`
	RequestID        string          `json:"requestId,omitempty"`
	Query            string          `json:"query,omitempty"`
	WorkOrderDetails json.RawMessage `json:"workorderdetails,omitempty"`
}

// ServerMessage is a message pushed to a WebSocket client
type ServerMessage struct {
	MessageType string           `json:"messageType"`
	RequestID   string           `json:"requestId,omitempty"`
	Error       string           `json:"error,omitempty"`
	Completion  *CompletionEvent `json:"completion,omitempty"`
}

// SubmitFunc queues a safety check and returns its request id
type SubmitFunc func(ctx context.Context, query string, details json.RawMessage) (string, error)

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub holds this replica's WebSocket connections and their request subscriptions
type Hub struct {
	upgrader      websocket.Upgrader
	submit        SubmitFunc
	logger        ectologger.Logger
	mu            sync.RWMutex
	clients       map[*conn]map[string]bool
	subscriptions map[string]map[*conn]bool
}

// NewHub creates a new hub. allowedOrigins empty accepts any origin.
func NewHub(submit SubmitFunc, allowedOrigins []string, logger ectologger.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(allowed) == 0 || allowed[r.Header.Get("Origin")]
			},
		},
		submit:        submit,
		logger:        logger,
		clients:       map[*conn]map[string]bool{},
		subscriptions: map[string]map[*conn]bool{},
	}
}

// ServeHTTP upgrades the connection and serves client messages until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("Failed to upgrade WebSocket connection")
		return
	}

	c := &conn{ws: ws}
	h.mu.Lock()
	h.clients[c] = map[string]bool{}
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()

	defer func() {
		h.remove(c)
		metrics.WebSocketConnections.Dec()
		_ = ws.Close()
	}()

	ctx := appctx.SetTriggerSource(context.WithoutCancel(r.Context()), "websocket")
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithContext(ctx).WithError(err).Warn("WebSocket error")
			}
			return
		}
		h.handleMessage(ctx, c, data)
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(ctx, c, ServerMessage{MessageType: "error", Error: "invalid message"})
		return
	}
	if msg.Action == "" && msg.MessageType == ActionHeartbeat {
		msg.Action = ActionHeartbeat
	}

	switch msg.Action {
	case ActionHeartbeat:
		h.reply(ctx, c, ServerMessage{MessageType: ActionHeartbeat})
	case ActionSubscribe:
		if msg.RequestID == "" {
			h.reply(ctx, c, ServerMessage{MessageType: "error", Error: "requestId is required"})
			return
		}
		h.subscribe(c, msg.RequestID)
		h.reply(ctx, c, ServerMessage{MessageType: "subscribed", RequestID: msg.RequestID})
	case ActionSubmit:
		if h.submit == nil {
			h.reply(ctx, c, ServerMessage{MessageType: "error", Error: "submit is not available"})
			return
		}
		requestID, err := h.submit(ctx, msg.Query, msg.WorkOrderDetails)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("WebSocket submit failed")
			h.reply(ctx, c, ServerMessage{MessageType: "error", Error: err.Error()})
			return
		}
		// Subscribe before replying so a fast completion cannot be missed.
		h.subscribe(c, requestID)
		h.reply(ctx, c, ServerMessage{MessageType: "accepted", RequestID: requestID})
	default:
		h.reply(ctx, c, ServerMessage{MessageType: "error", Error: "unknown action"})
	}
}

func (h *Hub) reply(ctx context.Context, c *conn, msg ServerMessage) {
	if err := c.send(msg); err != nil {
		h.logger.WithContext(ctx).WithError(err).Debug("Failed to write WebSocket reply")
	}
}

func (h *Hub) subscribe(c *conn, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.clients[c][requestID] = true
	if h.subscriptions[requestID] == nil {
		h.subscriptions[requestID] = map[*conn]bool{}
	}
	h.subscriptions[requestID][c] = true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for requestID := range h.clients[c] {
		delete(h.subscriptions[requestID], c)
		if len(h.subscriptions[requestID]) == 0 {
			delete(h.subscriptions, requestID)
		}
	}
	delete(h.clients, c)
}

// Deliver pushes a completion to local subscribers of its request and ends their subscription.
// It returns how many connections received it.
func (h *Hub) Deliver(ctx context.Context, event CompletionEvent) int {
	h.mu.Lock()
	subscribers := make([]*conn, 0, len(h.subscriptions[event.RequestID]))
	for c := range h.subscriptions[event.RequestID] {
		subscribers = append(subscribers, c)
		delete(h.clients[c], event.RequestID)
	}
	delete(h.subscriptions, event.RequestID)
	h.mu.Unlock()

	delivered := 0
	for _, c := range subscribers {
		if err := c.send(ServerMessage{MessageType: "completion", RequestID: event.RequestID, Completion: &event}); err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Failed to push completion to client")
			continue
		}
		delivered++
	}
	return delivered
}

// Notify delivers locally. It lets a single replica run without Redis pub/sub.
func (h *Hub) Notify(ctx context.Context, event CompletionEvent) error {
	h.Deliver(ctx, event)
	return nil
}

// Connections returns the number of open connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
