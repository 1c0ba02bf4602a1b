package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/events"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Size of the send buffer for each client.
	sendBufferSize = 256
)

// EventTypeStageProgress carries classified optimize output lines. The other
// message types reuse the event routing keys.
const EventTypeStageProgress = "stage.progress"

// WSMessage represents a WebSocket message sent to clients.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionMessage represents a subscription request from a client.
type SubscriptionMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types"`
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Subscribed event types. Empty means every event.
	subscriptions map[string]bool
	mu            sync.RWMutex

	logger *zap.Logger
}

// Hub maintains the set of active clients and broadcasts batch progress to them.
type Hub struct {
	pipeline.NopObserver

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *zap.Logger
	done       chan struct{}
	batchID    uuid.UUID
	now        func() time.Time
}

// NewHub creates a new Hub instance.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run starts the hub's main loop. It returns after Shutdown.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-h.done:
			h.shutdown()
			return
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("Client unregistered", zap.Int("total_clients", len(h.clients)))
	}
}

// broadcastMessage sends a message to all subscribed clients. Clients whose
// buffer is full are dropped.
func (h *Hub) broadcastMessage(message []byte) {
	var wsMsg WSMessage
	if err := json.Unmarshal(message, &wsMsg); err != nil {
		h.logger.Error("Failed to unmarshal message for broadcasting", zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(wsMsg.Type) {
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.removeClient(c)
	}
}

// BroadcastEvent queues an event for all connected clients. It never blocks.
func (h *Hub) BroadcastEvent(eventType string, data interface{}) {
	msg := WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: h.now(),
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", eventType))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("event_type", eventType))
	}
}

// Relay broadcasts an event received from the broker. It has the signature of
// events.EventHandler.
func (h *Hub) Relay(routingKey string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("invalid JSON body for %s", routingKey)
	}
	h.BroadcastEvent(routingKey, json.RawMessage(body))
	return nil
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully shuts down the hub.
func (h *Hub) Shutdown() {
	close(h.done)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
}

func (h *Hub) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	h.batchID = batchID
	h.BroadcastEvent(events.RoutingKeyBatchStarted, events.NewBatchStartedEvent(batchID, units))
}

func (h *Hub) UnitStarted(unit domain.ExperimentUnit, index, total int) {
	h.BroadcastEvent(events.RoutingKeyUnitStarted, events.NewUnitStartedEvent(h.batchID, unit, index, total))
}

// StageProgressMessage is the payload of EventTypeStageProgress.
type StageProgressMessage struct {
	Unit     string           `json:"unit"`
	Stage    domain.StageKind `json:"stage"`
	Progress parser.Progress  `json:"progress"`
}

func (h *Hub) StageProgress(unit domain.ExperimentUnit, stage domain.StageKind, p parser.Progress) {
	h.BroadcastEvent(EventTypeStageProgress, StageProgressMessage{Unit: unit.ID(), Stage: stage, Progress: p})
}

func (h *Hub) StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome) {
	h.BroadcastEvent(events.RoutingKeyStageFinished, events.NewStageFinishedEvent(h.batchID, unit, outcome))
}

func (h *Hub) UnitFinished(outcome *domain.UnitOutcome, p pipeline.Progress) {
	h.BroadcastEvent(events.RoutingKeyUnitFinished, events.NewUnitFinishedEvent(p.BatchID, outcome, p.Done, p.Total))
}

func (h *Hub) BatchFinished(result *domain.BatchResult) {
	h.BroadcastEvent(events.RoutingKeyBatchFinished, events.NewBatchFinishedEvent(result))
}

func (c *Client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[eventType]
}

func (c *Client) subscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	for _, eventType := range eventTypes {
		c.subscriptions[eventType] = true
	}
	c.logger.Debug("Client subscribed to events", zap.Strings("event_types", eventTypes))
}

func (c *Client) unsubscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, eventType := range eventTypes {
		delete(c.subscriptions, eventType)
	}
	c.logger.Debug("Client unsubscribed from events", zap.Strings("event_types", eventTypes))
}

// handleMessage applies a client subscription request.
func (c *Client) handleMessage(message []byte) {
	var subMsg SubscriptionMessage
	if err := json.Unmarshal(message, &subMsg); err != nil {
		c.logger.Debug("Ignoring non-JSON message", zap.ByteString("message", message))
		return
	}

	switch subMsg.Action {
	case "subscribe":
		c.subscribe(subMsg.EventTypes)
	case "unsubscribe":
		c.unsubscribe(subMsg.EventTypes)
	default:
		c.logger.Debug("Unknown subscription action", zap.String("action", subMsg.Action))
	}
}

// readPump reads subscription requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        h.logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Ensure interface compliance at compile time.
var _ pipeline.Observer = (*Hub)(nil)
