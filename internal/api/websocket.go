package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardresource/cardres/internal/logging"
	"github.com/cardresource/cardres/internal/resource"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local daemon, browsers connect from file:// or localhost UIs
	},
}

// WSMessage is the envelope for every message exchanged over the
// WebSocket connection, in both directions.
type WSMessage struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WSClient is one connected WebSocket peer. Each client optionally
// subscribes to reader-status change notifications, delivered by a
// per-client poll loop that diffs resource.Service.ReaderStatuses()
// snapshots (the service has no push-based observer hook exposed
// outside the plugin layer, so polling is how every client-facing
// listener, this one included, learns about reader churn).
type WSClient struct {
	conn *websocket.Conn
	send chan WSMessage
	hub  *WSHub

	mu         sync.Mutex
	subscribed bool
	stopPoll   context.CancelFunc
	lastStatus map[string]resource.ReaderStatus
}

// WSHub tracks every connected client and fans out broadcasts to all
// of them.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

var wsHub = NewWSHub()

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run drives the hub's register/unregister/broadcast loop. Started
// once from an init below and kept running for the life of the
// process.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Client's send buffer is full; drop rather than block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func init() {
	go wsHub.Run()
}

// InitWebSocket upgrades the HTTP connection and starts the client's
// read/write pumps.
func InitWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error": err.Error(),
			})
			return
		}

		client := &WSClient{
			conn:       conn,
			send:       make(chan WSMessage, 32),
			hub:        wsHub,
			lastStatus: make(map[string]resource.ReaderStatus),
		}

		wsHub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.stopSubscription()
		wsHub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug(logging.CatWebSocket, "WebSocket read error", map[string]any{"error": err.Error()})
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload interface{}) {
	c.send <- WSMessage{Type: msgType, ID: id, Payload: payload}
}

func (c *WSClient) sendError(id, errMsg string) {
	c.send <- WSMessage{Type: "error", ID: id, Error: errMsg}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	svc := (resource.Provider{}).Get()

	switch msg.Type {
	case "list_profiles":
		c.sendResponse(msg.ID, "profiles", map[string]interface{}{
			"profiles": svc.Profiles(),
		})

	case "list_readers":
		c.sendResponse(msg.ID, "readers", map[string]interface{}{
			"readers": svc.ReaderStatuses(),
		})

	case "allocate":
		c.handleAllocate(msg, svc)

	case "release":
		c.handleRelease(msg)

	case "remove":
		c.handleRemove(msg)

	case "subscribe":
		c.handleSubscribe(msg)

	case "unsubscribe":
		c.handleUnsubscribe(msg)

	case "version":
		c.sendResponse(msg.ID, "version", map[string]interface{}{
			"version":   Version,
			"buildTime": BuildTime,
			"gitCommit": GitCommit,
		})

	case "health":
		c.sendResponse(msg.ID, "health", map[string]interface{}{
			"status":  "ok",
			"started": svc.IsStarted(),
		})

	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) handleAllocate(msg WSMessage, svc *resource.Service) {
	var req struct {
		Profile        string `json:"profile"`
		TimeoutSeconds int    `json:"timeoutSeconds"`
	}
	if err := decodePayload(msg.Payload, &req); err != nil || req.Profile == "" {
		c.sendError(msg.ID, "allocate requires a profile name")
		return
	}

	ctx := context.Background()
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	res, err := svc.GetCardResource(ctx, req.Profile)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	allocations.put(res)
	c.sendResponse(msg.ID, "allocated", newCardResourceView(res))
}

func (c *WSClient) handleRelease(msg WSMessage) {
	var req struct {
		ResourceID string `json:"resourceId"`
	}
	if err := decodePayload(msg.Payload, &req); err != nil || req.ResourceID == "" {
		c.sendError(msg.ID, "release requires a resourceId")
		return
	}

	res := allocations.get(req.ResourceID)
	if res == nil {
		c.sendError(msg.ID, "unknown resource id")
		return
	}

	svc := (resource.Provider{}).Get()
	if err := svc.ReleaseCardResource(res); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	allocations.delete(req.ResourceID)
	c.sendResponse(msg.ID, "released", map[string]string{"resourceId": req.ResourceID})
}

func (c *WSClient) handleRemove(msg WSMessage) {
	var req struct {
		ResourceID string `json:"resourceId"`
	}
	if err := decodePayload(msg.Payload, &req); err != nil || req.ResourceID == "" {
		c.sendError(msg.ID, "remove requires a resourceId")
		return
	}

	res := allocations.get(req.ResourceID)
	if res == nil {
		c.sendError(msg.ID, "unknown resource id")
		return
	}

	svc := (resource.Provider{}).Get()
	if err := svc.RemoveCardResource(res); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	allocations.delete(req.ResourceID)
	c.sendResponse(msg.ID, "removed", map[string]string{"resourceId": req.ResourceID})
}

// handleSubscribe starts this client's reader-status poll loop, which
// broadcasts a "reader_event" to every connected client (not just this
// one) whenever a reader's activity, busy, or card-present state
// changes between polls.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		c.sendResponse(msg.ID, "subscribed", nil)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.subscribed = true
	c.stopPoll = cancel
	c.mu.Unlock()

	go c.pollReaderStatus(ctx)

	logging.Info(logging.CatWebSocket, "Client subscribed to reader status", nil)
	c.sendResponse(msg.ID, "subscribed", nil)
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	c.stopSubscription()
	c.sendResponse(msg.ID, "unsubscribed", nil)
}

func (c *WSClient) stopSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.subscribed = false
}

func (c *WSClient) pollReaderStatus(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	svc := (resource.Provider{}).Get()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := svc.ReaderStatuses()

			c.mu.Lock()
			current := make(map[string]resource.ReaderStatus, len(statuses))
			for _, st := range statuses {
				current[st.Name] = st
				prev, seen := c.lastStatus[st.Name]
				if !seen {
					c.broadcastEvent(st.Name, st.Plugin, "reader_connected", st)
				} else if prev != st {
					c.broadcastEvent(st.Name, st.Plugin, "reader_changed", st)
				}
			}
			for name, prev := range c.lastStatus {
				if _, stillPresent := current[name]; !stillPresent {
					c.broadcastEvent(name, prev.Plugin, "reader_disconnected", prev)
				}
			}
			c.lastStatus = current
			c.mu.Unlock()
		}
	}
}

// broadcastEvent fans a reader_event out to every connected client via
// the hub, not just the polling client, so a UI open in one tab sees
// changes detected by any other tab's subscription.
func (c *WSClient) broadcastEvent(readerName, plugin, eventType string, status resource.ReaderStatus) {
	c.hub.broadcast <- WSMessage{
		Type: "reader_event",
		Payload: map[string]interface{}{
			"event":  eventType,
			"reader": readerName,
			"plugin": plugin,
			"status": status,
		},
	}
}

// decodePayload round-trips msg.Payload (already decoded once by
// json.Unmarshal into an interface{}, typically a map[string]interface{})
// through JSON into dst.
func decodePayload(payload interface{}, dst interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
