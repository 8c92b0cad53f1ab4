package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DecisionEvent is one admit decision broadcast to connected admin
// subscribers.
type DecisionEvent struct {
	CorrelationID string `json:"correlation_id"`
	Pubkey        string `json:"pubkey"`
	Tier          string `json:"tier"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// decisionsClient represents a connected WebSocket subscriber.
type decisionsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *DecisionsHub
}

// DecisionsHub fans admit decisions out to every connected admin
// subscriber. It carries no authorization logic of its own; it is
// purely an observability tap on the Authorization Facade.
type DecisionsHub struct {
	clients    map[*decisionsClient]bool
	broadcast  chan DecisionEvent
	register   chan *decisionsClient
	unregister chan *decisionsClient
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewDecisionsHub creates a new decisions hub.
func NewDecisionsHub() *DecisionsHub {
	return &DecisionsHub{
		clients:    make(map[*decisionsClient]bool),
		broadcast:  make(chan DecisionEvent, 256),
		register:   make(chan *decisionsClient),
		unregister: make(chan *decisionsClient),
		log:        logging.GetDefault().Component("decisions"),
	}
}

// Run starts the hub event loop; call it in its own goroutine.
func (h *DecisionsHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("subscriber connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("subscriber disconnected", "clients", len(h.clients))

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal decision event", "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a decision for delivery to every connected
// subscriber, stamping the current time.
func (h *DecisionsHub) Broadcast(event DecisionEvent) {
	event.Timestamp = time.Now().Unix()
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast channel full, dropping decision event", "pubkey", event.Pubkey)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *DecisionsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &decisionsClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.decisionsHub,
	}

	s.decisionsHub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *decisionsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", "error", err)
			}
			break
		}
	}
}

func (c *decisionsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
