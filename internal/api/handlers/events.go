package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/services/auditlog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	camera string
	events bool
}

// EventHub fans audit records out to websocket clients. It is registered as
// an audit mirror, so clients see exactly what was written to the log.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*subscriber]struct{})}
}

// MirrorAudit queues the line for every interested client. Slow clients lose
// records instead of stalling the camera pipelines.
func (h *EventHub) MirrorAudit(rec auditlog.Record, line []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.clients {
		if s.events && rec.Type != auditlog.TypeEvent {
			continue
		}
		if s.camera != "" && s.camera != rec.Meta.CamID {
			continue
		}
		select {
		case s.send <- line:
		default:
		}
	}
	return nil
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(s *subscriber) {
	h.mu.Lock()
	h.clients[s] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", n).Str("camera", s.camera).Msg("Event stream client connected")
}

func (h *EventHub) unregister(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", n).Msg("Event stream client disconnected")
}

// Stream upgrades to a websocket carrying audit records as text frames
// @Summary Live audit stream
// @Description Websocket of METRIC and EVENT records as they are written
// @Tags events
// @Param camera query string false "Only records of this camera display name"
// @Param type query string false "EVENT to receive only EVENT records"
// @Router /ws/events [get]
func (h *EventHub) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s := &subscriber{
		conn:   conn,
		send:   make(chan []byte, 64),
		camera: c.Query("camera"),
		events: c.Query("type") == auditlog.TypeEvent,
	}
	h.register(s)

	go h.writePump(s)
	h.readPump(s)
}

// readPump only watches for the client going away
func (h *EventHub) readPump(s *subscriber) {
	defer func() {
		h.unregister(s)
		s.conn.Close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(s *subscriber) {
	for line := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			s.conn.Close()
			return
		}
	}
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
