package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/pipeline"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Hub pushes every completed analysis cycle to all connected WebSocket
// clients. Each client has a buffer of one result; a slow client is
// never waited on, it simply observes only the most recent state.
type Hub struct {
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan *models.AnalysisResult
	done chan struct{}
}

// NewHub creates a hub restricted to the given origins. An entry of
// "*" allows any origin; requests without an Origin header (non-browser
// clients) are always accepted.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		allowedOrigins: allowedOrigins,
		logger:         logger,
		clients:        make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Hub) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run subscribes to the pipeline and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context, pipe *pipeline.Pipeline) {
	ch := pipe.Subscribe()
	defer pipe.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case result, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			h.Broadcast(result)
		}
	}
}

// Broadcast delivers a result to every client with latest-wins
// semantics.
func (h *Hub) Broadcast(result *models.AnalysisResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- result:
			continue
		default:
		}
		select {
		case <-c.send:
			metrics.WebSocketMessagesDropped.Inc()
		default:
		}
		select {
		case c.send <- result:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and streams analysis results until
// the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan *models.AnalysisResult, 1),
		done: make(chan struct{}),
	}
	h.register(c)
	metrics.WebSocketConnections.Inc()
	h.logger.Info("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	h.readPump(c)

	h.unregister(c)
	metrics.WebSocketConnections.Dec()
	h.logger.Info("websocket client disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// readPump discards inbound frames; it exists to notice disconnects
// and to service control messages.
func (h *Hub) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump pushes results and keeps the connection alive with pings.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case result := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(result); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				c.conn.Close()
				return
			}
			metrics.WebSocketMessagesSent.Inc()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
