package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one frame pushed to every connected /events subscriber.
type Event struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurredAt"`
}

const (
	EventQueueChanged  = "queue_changed"
	EventAgentStarted  = "agent_started"
	EventAgentFinished = "agent_finished"
	EventBudgetUpdated = "budget_updated"
)

// client is a single /events WebSocket subscriber. There is no
// subscription filtering (unlike the teacher's per-task hub): this
// is a single, low-volume operator feed broadcasting every event to
// every connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *obslog.Logger
}

// Hub fans out Events to every connected operator client, mirroring
// the teacher's gateway/websocket.Hub register/unregister/broadcast
// channel triad, narrowed to a single global topic.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan Event
	mu         sync.RWMutex
	log        *obslog.Logger
}

func NewHub(log *obslog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 256),
		log:        log,
	}
}

// Run drives the hub's single-goroutine state machine until done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("failed to marshal status event", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow consumer: drop it rather than block the hub.
					go h.Unregister(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(c *client)   { h.register <- c }
func (h *Hub) Unregister(c *client) { h.unregister <- c }

// Publish queues ev for every connected subscriber. Safe to call from
// any goroutine; never blocks: when the broadcast buffer is full the
// event is dropped and a warning is logged.
func (h *Hub) Publish(eventType string, payload interface{}) {
	select {
	case h.broadcast <- Event{Type: eventType, Payload: payload, OccurredAt: time.Now().UTC()}:
	default:
		h.log.Warn("status event dropped, broadcast buffer full", zap.String("type", eventType))
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Subscribers are read-only: this feed takes no client messages.
		// Reading just drains pongs and detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
