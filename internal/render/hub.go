package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/monitoring"
)

const (
	wsWriteWait   = 5 * time.Second
	wsPingPeriod  = 30 * time.Second
	wsReadLimit   = 512
	wsSendBacklog = 4
)

// TickMessage is the JSON document pushed to websocket clients.
type TickMessage struct {
	RunID string   `json:"run_id"`
	Tick  csi.Tick `json:"tick"`
}

// Hub fans each Tick out to every connected websocket client. A client
// whose backlog is full is disconnected rather than allowed to slow the
// consumer.
type Hub struct {
	runID    string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	addr string
	send chan []byte
	once sync.Once
}

func NewHub(runID string) *Hub {
	return &Hub{
		runID: runID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	c := &hubClient{conn: conn, addr: r.RemoteAddr, send: make(chan []byte, wsSendBacklog)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	monitoring.Logf("websocket client connected from %s (%d connected)", r.RemoteAddr, n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Render encodes t once and queues it for every client.
func (h *Hub) Render(_ context.Context, t csi.Tick) error {
	payload, err := json.Marshal(TickMessage{RunID: h.runID, Tick: t})
	if err != nil {
		return fmt.Errorf("failed to encode tick: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			monitoring.Logf("dropping slow websocket client %s", c.addr)
			h.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *hubClient) {
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (h *Hub) writeLoop(c *hubClient) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(c *hubClient) {
	c.conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
