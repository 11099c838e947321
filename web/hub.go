package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	iface "LiveDet/interface"
	"LiveDet/logger"
	"LiveDet/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = time.Second

// Message is one websocket event: a state change or a frame result.
type Message struct {
	Type       string            `json:"type"`
	State      string            `json:"state,omitempty"`
	Seq        uint64            `json:"seq,omitempty"`
	Detections []iface.Detection `json:"detections,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs float64           `json:"durationMs,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to websocket clients. Slow clients miss
// messages instead of stalling the frame loop.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) OnState(s session.State) {
	h.broadcast(Message{Type: "state", State: s.String()})
}

func (h *Hub) OnFrame(r session.FrameResult) {
	m := Message{
		Type:       "frame",
		Seq:        r.Seq,
		Detections: r.Detections,
		Stage:      r.Stage,
		DurationMs: float64(r.Duration.Microseconds()) / 1000,
	}
	if r.Err != nil {
		m.Error = r.Err.Error()
	}
	h.broadcast(m)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		logger.Log().Error("encode websocket message", zap.Error(err))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		for b := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.remove(c)
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}()

	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
