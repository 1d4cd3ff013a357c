// Package realtime fans change events out to connected websocket observers.
// Delivery is best effort: nothing is persisted or replayed, and an observer
// whose queue is full misses the event.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"buildingops/internal/utils"

	"github.com/gorilla/websocket"
)

const (
	defaultBuffer = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// Envelope is the frame written to observers
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type observer struct {
	conn    *websocket.Conn
	send    chan []byte
	subject string
	once    sync.Once
}

// Hub tracks live observers
type Hub struct {
	mu        sync.RWMutex
	observers map[*observer]struct{}
	buffer    int
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	// OnCountChange is told the observer count after every attach or detach.
	OnCountChange func(n int)
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		observers: make(map[*observer]struct{}),
		buffer:    defaultBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: utils.Component(logger, "realtime"),
	}
}

// Broadcast queues event for every observer without blocking.
func (h *Hub) Broadcast(event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("REALTIME: cannot encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for o := range h.observers {
		select {
		case o.send <- frame:
		default:
			h.logger.Debug("REALTIME: observer queue full, event dropped", "event", event, "subject", o.subject)
		}
	}
}

// Count returns the number of attached observers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// ServeWS upgrades an already authenticated request and attaches it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subject string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("REALTIME: upgrade failed", "error", err)
		return
	}
	o := &observer{conn: conn, send: make(chan []byte, h.buffer), subject: subject}
	h.attach(o)
	h.logger.Info("REALTIME: observer connected", "subject", subject, "remote", r.RemoteAddr)

	go h.writeLoop(o)
	go h.readLoop(o)
}

func (h *Hub) attach(o *observer) {
	h.mu.Lock()
	h.observers[o] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()
	h.countChanged(n)
}

func (h *Hub) detach(o *observer) {
	o.once.Do(func() {
		h.mu.Lock()
		delete(h.observers, o)
		close(o.send)
		n := len(h.observers)
		h.mu.Unlock()
		if o.conn != nil {
			_ = o.conn.Close()
		}
		h.countChanged(n)
		h.logger.Info("REALTIME: observer disconnected", "subject", o.subject)
	})
}

func (h *Hub) countChanged(n int) {
	if h.OnCountChange != nil {
		h.OnCountChange(n)
	}
}

// readLoop discards inbound frames; it exists to notice closes and pongs.
func (h *Hub) readLoop(o *observer) {
	defer h.detach(o)
	o.conn.SetReadLimit(4096)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(o *observer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.detach(o)
	}()
	for {
		select {
		case frame, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every observer
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		all = append(all, o)
	}
	h.mu.RUnlock()
	for _, o := range all {
		h.detach(o)
	}
}
