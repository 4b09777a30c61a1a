// Package termbridge mirrors protocol-engine signals out over
// WebSocket to any number of external monitors (a future terminal UI is
// explicitly out of scope per spec §1, but the signals it would consume are
// already a public surface — this is the concrete seam for that collaborator
// without it reaching into engine internals). Grounded on the teacher's
// internal/websocket DAG streamer hub: a register/unregister/broadcast
// channel loop run by one goroutine, generalized from DAG visualization
// events to engine signal events.
package termbridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conbus/xp/internal/busproto"
)

// Event is the wire shape broadcast to every connected monitor.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub owns the set of connected monitor sockets and the broadcast loop.
// Call Run in its own goroutine before Attach/HandleWebSocket are used.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewHub builds a Hub. A nil logger uses slog.Default().
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Run drives the hub's register/unregister/broadcast loop until stop is
// closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			h.log.Debug("termbridge: monitor connected", "total", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.log.Debug("termbridge: monitor disconnected", "total", len(h.clients))

		case event := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					h.log.Debug("termbridge: write error, dropping monitor", "error", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}

		case <-stop:
			for conn := range h.clients {
				conn.Close()
			}
			return
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a monitor WebSocket connection
// and keeps it registered until the peer disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("termbridge: upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) emit(eventType string, data map[string]any) {
	select {
	case h.broadcast <- Event{Type: eventType, Timestamp: time.Now(), Data: data}:
	default:
		h.log.Warn("termbridge: broadcast queue full, dropping event", "type", eventType)
	}
}

// Attach connects the hub to an engine's signal surface so every
// connection_made/telegram_sent/telegram_received/timeout/failed emission is
// mirrored to every connected monitor (spec §5's signal surface, consumed
// here exactly as a TUI collaborator would).
func (h *Hub) Attach(engine *busproto.Engine) {
	engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		h.emit("connection_made", nil)
	})
	engine.OnTelegramSent.Connect(func(e busproto.TelegramSentEvent) {
		h.emit("telegram_sent", map[string]any{"frame": string(e.Frame)})
	})
	engine.OnTelegramReceived.Connect(func(e busproto.TelegramReceivedEvent) {
		h.emit("telegram_received", map[string]any{
			"serial_number":   e.Telegram.SerialNumber,
			"system_function": e.Telegram.SystemFunction,
			"datapoint_id":    e.Telegram.DatapointID,
			"data_value":      e.Telegram.DataValue,
		})
	})
	engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		h.emit("timeout", nil)
	})
	engine.OnFailed.Connect(func(e busproto.FailedEvent) {
		h.emit("failed", map[string]any{"kind": int(e.Kind), "message": e.Message})
	})
}
