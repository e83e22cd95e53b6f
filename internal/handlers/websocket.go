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

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for all messages pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler pushes job status updates to connected clients. Updates
// for non-terminal transitions are throttled; terminal transitions are always
// delivered.
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
	throttler   *rate.Limiter
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
		throttler:   rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}

	if eventService != nil {
		eventService.Subscribe(interfaces.EventJobUpdated, h.onJobUpdated)
	}

	return h
}

// HandleWebSocket upgrades the connection and holds it open until the client
// disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Debug().Msg("WebSocket client disconnected")
	}()

	// Drain reads so pings and close frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// onJobUpdated forwards job updates to all connected clients
func (h *WebSocketHandler) onJobUpdated(ctx context.Context, event interfaces.Event) {
	job, ok := event.Payload.(*models.AnalysisJob)
	if !ok {
		h.logger.Warn().Msg("Job update event carried an unexpected payload")
		return
	}

	// Terminal updates always go out; interim progress is rate limited
	if !job.IsTerminal() && !h.throttler.Allow() {
		return
	}

	h.Broadcast(WSMessage{
		Type:    "job_updated",
		Payload: job,
	})
}

// Broadcast sends a message to every connected client. A client whose write
// fails is dropped.
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.mu.RLock()
		mutex := h.clientMutex[conn]
		h.mu.RUnlock()
		if mutex == nil {
			continue
		}

		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			delete(h.clientMutex, conn)
			h.mu.Unlock()
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
