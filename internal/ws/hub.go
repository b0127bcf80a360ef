package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"hub-service/internal/model"
	"hub-service/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types of the websocket protocol.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeResponse    = "response"
	TypeError       = "error"

	// EventNewReading is pushed whenever a reading is persisted.
	EventNewReading = "NewReading"

	// ChannelReadings receives every reading of the client's tenant.
	ChannelReadings = "readings"
)

// Message is the envelope for everything sent to or from a client.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SubscribePayload carries the channels of a subscribe/unsubscribe message.
// Channels are either "readings" or "node:<id>".
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

// ReadingEvent is the payload of a NewReading event
type ReadingEvent struct {
	ReadingID       uint      `json:"readingId"`
	NodeID          uint      `json:"nodeId"`
	AssignmentID    *uint     `json:"assignmentId,omitempty"`
	MeasurementType string    `json:"measurementType"`
	RawValue        float64   `json:"rawValue"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	Timestamp       time.Time `json:"timestamp"`
}

// Hub fans persisted readings out to connected clients. Delivery is
// best-effort: a slow client loses messages, the write path never waits.
type Hub struct {
	cfg     config.WebSocketConfig
	log     *zap.Logger
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// Client is one connected websocket subscriber, scoped to a tenant.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID uint
	channels map[string]struct{}
	mu       sync.RWMutex
}

// NewHub creates a websocket hub
func NewHub(cfg config.WebSocketConfig, log *zap.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// NewClient wraps an upgraded connection for the given tenant. New clients
// start subscribed to the tenant-wide readings channel.
func (h *Hub) NewClient(conn *websocket.Conn, tenantID uint) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBufferSize),
		tenantID: tenantID,
		channels: map[string]struct{}{ChannelReadings: {}},
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected",
		zap.Uint("tenant_id", client.tenantID),
		zap.Int("clients", h.ClientCount()))
}

// Unregister removes a client. Only the goroutine that removes the client
// from the map closes the send channel, so shutdown cannot double-close.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.log.Debug("websocket client disconnected", zap.Int("clients", h.ClientCount()))
}

// NotifyNewReading implements ingest.Notifier. The event goes to clients of
// the reading's tenant subscribed to either the tenant-wide readings channel
// or the node's own channel.
func (h *Hub) NotifyNewReading(tenantID uint, reading *model.Reading) {
	event := ReadingEvent{
		ReadingID:       reading.ID,
		NodeID:          reading.NodeID,
		AssignmentID:    reading.AssignmentID,
		MeasurementType: reading.MeasurementType,
		RawValue:        reading.RawValue,
		Value:           reading.Value,
		Unit:            reading.Unit,
		Timestamp:       reading.Timestamp,
	}
	h.broadcast(tenantID, nodeChannel(reading.NodeID), event)
}

func (h *Hub) broadcast(tenantID uint, nodeChannel string, payload any) {
	msg := Message{
		Type:      TypeEvent,
		EventType: EventNewReading,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	// Snapshot under the hub lock, send outside it
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.tenantID != tenantID {
			continue
		}
		if client.isSubscribed(ChannelReadings) || client.isSubscribed(nodeChannel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func nodeChannel(nodeID uint) string {
	return "node:" + strconv.FormatUint(uint64(nodeID), 10)
}
