package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/logging"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsPublishTimeout bounds how long Publish waits for a full client
	// buffer when the caller's context has no deadline.
	wsPublishTimeout = 5 * time.Second
)

// WSMessage is the only frame exchanged with experiment clients, in both
// directions.
type WSMessage struct {
	Message string `json:"message"`
}

// Hub manages WebSocket connections grouped by experiment and delivers
// relayed output to them. It implements experiment.Relay.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	groups map[string]map[*WSClient]struct{}
	count  int
	mu     sync.RWMutex

	dropped atomic.Uint64
}

// WSClient represents a connected WebSocket client. Each client belongs to
// exactly one group, fixed by the path it connected on.
type WSClient struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	group string
	send  chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		groups: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to its group.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	members, ok := h.groups[client.group]
	if !ok {
		members = make(map[*WSClient]struct{})
		h.groups[client.group] = members
	}
	members[client] = struct{}{}
	h.count++
	h.mu.Unlock()
	h.logger.Debug("websocket client joined", "group", client.group, "client_id", client.id)
}

// Unregister removes a client from its group.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	members := h.groups[client.group]
	_, existed := members[client]
	if existed {
		delete(members, client)
		h.count--
		if len(members) == 0 {
			delete(h.groups, client.group)
		}
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client left", "group", client.group, "client_id", client.id)
	}
}

// Publish sends message to every client in group, in call order. A client
// whose buffer stays full until ctx ends is disconnected, so connected
// clients never see a gap in a run's output. Joining late misses earlier
// messages. Lock ordering: the hub lock is released before sending.
func (h *Hub) Publish(ctx context.Context, group, message string) error {
	data, err := json.Marshal(WSMessage{Message: message})
	if err != nil {
		return err
	}

	h.mu.RLock()
	members := make([]*WSClient, 0, len(h.groups[group]))
	for client := range h.groups[group] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wsPublishTimeout)
		defer cancel()
	}

	for _, client := range members {
		if client.deliver(ctx, data) {
			continue
		}
		h.dropped.Add(1)
		h.logger.Warn("websocket client too slow, disconnecting",
			"group", group,
			"client_id", client.id,
		)
		h.Unregister(client)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	return nil
}

// Dropped returns how many messages were not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// GroupSize returns the number of clients in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group, members := range h.groups {
		for client := range members {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.groups, group)
	}
	h.count = 0
}

var _ experiment.Relay = (*Hub)(nil)

// handleWebSocket upgrades the connection and joins the experiment's group.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if err := experiment.ValidateID(target); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:    uuid.NewString(),
		hub:   s.hub,
		conn:  conn,
		group: experiment.GroupName(target),
		send:  make(chan []byte, wsSendBufferSize),
	}

	s.hub.Register(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage acknowledges a client message back to that client only.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Debug("ignoring malformed websocket message", "group", c.group, "error", err)
		return
	}

	reply, err := json.Marshal(WSMessage{Message: "Message received: " + msg.Message})
	if err != nil {
		return
	}
	c.trySend(reply)
}

// deliver queues data, waiting for buffer space until ctx ends. It reports
// false when the message was not queued, including when the client has
// already disconnected.
func (c *WSClient) deliver(ctx context.Context, data []byte) (queued bool) {
	defer func() {
		if recover() != nil { // send on a channel closed by Unregister
			queued = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
