package alerts

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/metrics"
	"github.com/gorilla/websocket"
)

// Feed message types.
const (
	FeedAlertCreated  = "alert.created"
	FeedAlertUpdated  = "alert.updated"
	FeedAlertResolved = "alert.resolved"
)

// FeedMessage is what operator consoles receive for the toast/banner stream.
type FeedMessage struct {
	Type  string     `json:"type"`
	Alert MedicAlert `json:"alert"`
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 32
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans alert changes out to connected websocket clients. A client that
// cannot keep up is disconnected rather than slowing the broadcast.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	broadcast chan []byte
}

// NewHub builds a hub. An empty allowedOrigins list accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		clients:   make(map[*feedClient]struct{}),
		broadcast: make(chan []byte, 256),
	}
}

// Run delivers broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
				metrics.FeedClients.Dec()
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
					metrics.FeedClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify queues a message for every client. It never blocks the caller.
func (h *Hub) Notify(m FeedMessage) {
	raw, err := json.Marshal(m)
	if err != nil {
		log.Printf("[alerts] encode feed message: %v", err)
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		log.Printf("[alerts] feed backlog full, dropping %s for %s", m.Type, m.Alert.ID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an operator connection and registers it with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[alerts] websocket upgrade failed: %v", err)
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.FeedClients.Inc()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.FeedClients.Dec()
	}
	h.mu.Unlock()
}

// readPump only handles control frames; operators do not send data.
func (h *Hub) readPump(c *feedClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *feedClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
