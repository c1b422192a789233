// -----------------------------------------------------------------------
// WebSocketHandler - streams queue lifecycle events to connected clients
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// WSMessage is the envelope of every message sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is sent once to every client on connect
type StatusUpdate struct {
	Service          string    `json:"service"`
	Version          string    `json:"version"`
	ServerInstanceID string    `json:"serverInstanceId"` // Changes on restart; clients clear state when it does
	Timestamp        time.Time `json:"timestamp"`
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	subscriptionID   string
	progressThrottle *rate.Limiter // nil = unthrottled
	serverInstanceID string
}

// NewWebSocketHandler subscribes to eventService (may be nil) and relays job events
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: common.NewInstanceID(),
	}

	if config != nil && config.ProgressThrottle != "" {
		if interval, err := time.ParseDuration(config.ProgressThrottle); err == nil && interval > 0 {
			h.progressThrottle = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().Str("interval", config.ProgressThrottle).Msg("Progress event throttle enabled")
		} else {
			logger.Warn().Str("interval", config.ProgressThrottle).Msg("Invalid progress throttle interval - throttle disabled")
		}
	}

	if eventService != nil {
		id, err := eventService.Subscribe(h.onJobEvent)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe WebSocket handler to job events")
		} else {
			h.subscriptionID = id
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{
		Type: "status",
		Payload: StatusUpdate{
			Service:          "outreach",
			Version:          common.GetVersion(),
			ServerInstanceID: h.serverInstanceID,
			Timestamp:        time.Now().UTC(),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Reads only detect the close; clients send nothing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// onJobEvent relays one queue event. Progress events are throttled; lifecycle
// transitions always go through.
func (h *WebSocketHandler) onJobEvent(ctx context.Context, event models.JobEvent) error {
	if event.Type == models.JobEventProgress && h.progressThrottle != nil && !h.progressThrottle.Allow() {
		return nil
	}
	h.Broadcast(WSMessage{Type: "job_event", Payload: event})
	return nil
}

// Broadcast sends msg to every connected client
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, mutex := range h.clients {
		clients[conn] = mutex
	}
	h.mu.RUnlock()

	for conn, mutex := range clients {
		h.write(conn, mutex, data)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from job events and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.eventService != nil && h.subscriptionID != "" {
		if err := h.eventService.Unsubscribe(h.subscriptionID); err != nil {
			h.logger.Debug().Err(err).Msg("Failed to unsubscribe WebSocket handler")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, mutex := range h.clients {
		mutex.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	h.write(conn, mutex, data)
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) {
	mutex.Lock()
	defer mutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
	}
}
