// Package handlers provides HTTP request handlers for the scanner API.
// This file implements the websocket stream of scan state, progress and
// result events.
package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homiodev/addon-ipscanner/internal/api/middleware"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

const (
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast and client buffers
)

// MessageStatus is the type of the first message sent to every client.
const MessageStatus = "status"

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler fans scan events out to websocket clients.
type WebSocketHandler struct {
	service  *services.ScannerService
	logger   *logging.Logger
	upgrader websocket.Upgrader

	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex

	unsubscribe func()
}

// NewWebSocketHandler creates the hub and subscribes it to service events.
// allowedOrigins follows the CORS settings; "*" or an empty list accepts any
// origin.
func NewWebSocketHandler(service *services.ScannerService, logger *logging.Logger, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		service: service,
		logger:  logger.WithFields("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	go h.run()
	h.unsubscribe = service.Subscribe(h.publish)
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeWS handles GET /ws.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, bufferSize)}
	if hello, err := encodeMessage(MessageStatus, h.service.Status()); err == nil {
		c.send <- hello
	}

	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}
	h.logger.Debug("WebSocket client connected", "request_id", requestID, "remote_addr", r.RemoteAddr)

	go h.writePump(c, requestID)
	h.readPump(c, requestID)
}

// run manages client connections and broadcasts.
func (h *WebSocketHandler) run() {
	defer close(h.done)

	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.logger.Debug("WebSocket hub shut down")
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()

		case c := <-h.unregister:
			h.mutex.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow client
					h.logger.Warn("WebSocket client buffer full, disconnecting")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// publish forwards a service event. It is called from the engine and never
// blocks: events are dropped while the broadcast buffer is full.
func (h *WebSocketHandler) publish(e services.Event) {
	data, err := encodeMessage(string(e.Type), e)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", e.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping event", "type", e.Type)
	}
}

func encodeMessage(messageType string, data any) ([]byte, error) {
	return json.Marshal(WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (h *WebSocketHandler) drop(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.shutdown:
	}
}

// readPump discards client messages and keeps the read deadline alive.
func (h *WebSocketHandler) readPump(c *wsClient, requestID string) {
	defer func() {
		h.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages and pings to the client.
func (h *WebSocketHandler) writePump(c *wsClient, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the service and disconnects every client.
func (h *WebSocketHandler) Close() error {
	h.closeOnce.Do(func() {
		h.unsubscribe()
		close(h.shutdown)
		<-h.done
		h.logger.Info("WebSocket handler closed")
	})
	return nil
}
