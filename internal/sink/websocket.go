// Package sink provides optional result sinks the orchestrator can push
// GateResult/NodeResult events to as a run progresses, never
// module-scope state, always an explicit collaborator passed in as
// scheduler.GateObserver, per §9's guidance that sinks belong to the
// host, not the core.
package sink

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mergepilot-dev/mergepilot/internal/execstate"
	"github.com/mergepilot-dev/mergepilot/internal/gate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1") ||
			strings.HasPrefix(origin, "https://localhost") ||
			strings.HasPrefix(origin, "https://127.0.0.1")
	},
}

// Event message types (server -> client).
const (
	EventGateResult = "gate_result"
	EventNodeResult = "node_result"
)

// Event is one message broadcast to every connected client.
type Event struct {
	Type       string                `json:"type"`
	Item       string                `json:"item,omitempty"`
	GateResult *gate.Result          `json:"gateResult,omitempty"`
	NodeResult *execstate.NodeResult `json:"nodeResult,omitempty"`
	Timestamp  string                `json:"timestamp"`
}

// WebSocketSink broadcasts GateResult/NodeResult events to every
// connected WebSocket client. It satisfies scheduler.GateObserver.
type WebSocketSink struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewWebSocketSink constructs an empty sink ready to accept connections
// via Handler.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{clients: make(map[*client]bool)}
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them to receive broadcast events.
func (s *WebSocketSink) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("sink: websocket upgrade error: %v", err)
			return
		}

		c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
		s.register(c)

		go s.writePump(c)
		go s.readPump(c)
	}
}

func (s *WebSocketSink) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = true
}

func (s *WebSocketSink) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.once.Do(func() { close(c.send) })
	}
}

func (s *WebSocketSink) readPump(c *client) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink) writePump(c *client) {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

func (s *WebSocketSink) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("sink: marshal event: %v", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop rather than block the scheduler that's
			// calling us synchronously from OnGateResult/OnNodeResult.
			log.Printf("sink: client send buffer full, dropping event")
		}
	}
}

// OnGateResult implements scheduler.GateObserver.
func (s *WebSocketSink) OnGateResult(itemName string, result gate.Result) {
	r := result
	s.broadcast(Event{
		Type:       EventGateResult,
		Item:       itemName,
		GateResult: &r,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// OnNodeResult implements scheduler.GateObserver.
func (s *WebSocketSink) OnNodeResult(result execstate.NodeResult) {
	r := result
	s.broadcast(Event{
		Type:       EventNodeResult,
		Item:       result.Name,
		NodeResult: &r,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
