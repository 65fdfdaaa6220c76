package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/events"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only stream
	},
}

// WSMessage is the envelope of every message on /ws
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusProvider supplies the worker status sent to new clients
type StatusProvider interface {
	GetStatus() map[string]interface{}
}

// WebSocketHandler streams job events to connected dashboards
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex // per-connection write lock
	mu               sync.RWMutex
	statusProvider   StatusProvider
	aggregator       *events.ProgressAggregator
	cancel           context.CancelFunc
	serverInstanceID string // Clients use this to detect a server restart
}

// NewWebSocketHandler creates the handler and subscribes it to job events when eventService is set
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	throttle := 250 * time.Millisecond
	if config != nil {
		throttle = common.ParseDuration(config.ProgressThrottle, throttle)
	}
	h.aggregator = events.NewProgressAggregator(throttle, h.broadcastJobEvent, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.aggregator.Start(ctx)

	if eventService != nil {
		if err := h.SubscribeToJobEvents(eventService); err != nil {
			logger.Warn().Err(err).Msg("WebSocket handler could not subscribe to job events")
		}
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Dur("progress_throttle", throttle).
		Msg("WebSocket handler initialized")
	return h
}

// SetStatusProvider sets the source of the status sent on connect
func (h *WebSocketHandler) SetStatusProvider(provider StatusProvider) {
	h.statusProvider = provider
}

// SubscribeToJobEvents forwards job events to clients. Row events are coalesced;
// lifecycle events go out at once.
func (h *WebSocketHandler) SubscribeToJobEvents(eventService interfaces.EventService) error {
	immediate := func(ctx context.Context, event interfaces.Event) error {
		if payload, ok := event.Payload.(models.JobEvent); ok {
			h.aggregator.FlushJob(ctx, payload)
		}
		return nil
	}
	throttled := func(ctx context.Context, event interfaces.Event) error {
		if payload, ok := event.Payload.(models.JobEvent); ok {
			h.aggregator.Record(payload)
		}
		return nil
	}
	statusChanged := func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(WSMessage{Type: "status", Payload: event.Payload})
		return nil
	}

	subscriptions := []struct {
		eventType interfaces.EventType
		handler   interfaces.EventHandler
	}{
		{interfaces.EventJobStarted, immediate},
		{interfaces.EventRowProcessed, throttled},
		{interfaces.EventJobCompleted, immediate},
		{interfaces.EventJobFailed, immediate},
		{interfaces.EventStatusChanged, statusChanged},
	}
	for _, sub := range subscriptions {
		if err := eventService.Subscribe(sub.eventType, sub.handler); err != nil {
			return err
		}
	}
	return nil
}

// HandleWebSocket upgrades the connection and keeps it registered until the client leaves
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	hello := map[string]interface{}{
		"server_instance_id": h.serverInstanceID,
		"version":            common.GetVersion(),
	}
	if h.statusProvider != nil {
		hello["status"] = h.statusProvider.GetStatus()
	}
	h.send(conn, WSMessage{Type: "hello", Payload: hello})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read until the client goes away; inbound messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the progress aggregator and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// broadcastJobEvent is the aggregator's flush target
func (h *WebSocketHandler) broadcastJobEvent(ctx context.Context, event models.JobEvent) {
	h.broadcast(WSMessage{Type: jobMessageType(event), Payload: event})
}

func jobMessageType(event models.JobEvent) string {
	switch {
	case event.State.Status == models.JobStatusCompleted:
		return "job_completed"
	case event.State.Status == models.JobStatusFailed:
		return "job_failed"
	case event.Row != nil:
		return "job_progress"
	default:
		return "job_started"
	}
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	locks := make([]*sync.Mutex, 0, len(h.clients))
	for conn, lock := range h.clients {
		conns = append(conns, conn)
		locks = append(locks, lock)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		h.write(conn, locks[i], data)
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	lock := h.clients[conn]
	h.mu.RUnlock()
	if lock != nil {
		h.write(conn, lock, data)
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, lock *sync.Mutex, data []byte) {
	lock.Lock()
	defer lock.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
	}
}
