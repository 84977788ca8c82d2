package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// clientFrame is an inbound subscribe/unsubscribe request from a websocket
// client.
type clientFrame struct {
	Method string `json:"method"`
	TaskID string `json:"task_id"`
}

// Handler upgrades connections and relays Gateway events for whichever
// task room the client subscribes to.
type Handler struct {
	gateway  *Gateway
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds an http.Handler that upgrades to websocket and bridges
// gateway events to the connection.
func NewHandler(gateway *Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway: gateway,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := &wsSession{
		id:      uuid.NewString(),
		conn:    conn,
		gateway: h.gateway,
		logger:  h.logger,
	}
	session.run()
}

type wsSession struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	logger  *slog.Logger

	leave func()
}

func (s *wsSession) run() {
	defer s.close()
	go s.pingLoop()
	s.readLoop()
}

func (s *wsSession) close() {
	if s.leave != nil {
		s.leave()
	}
	_ = s.conn.Close()
}

// readLoop processes subscribe/unsubscribe frames and, once subscribed to
// a task, pumps that task's events back to the connection from a second
// goroutine fed by the per-session send channel Join returns.
func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Method {
		case "subscribe":
			s.subscribe(frame.TaskID)
		case "unsubscribe":
			if s.leave != nil {
				s.leave()
				s.leave = nil
			}
		}
	}
}

func (s *wsSession) subscribe(taskID string) {
	if s.leave != nil {
		s.leave()
	}
	send, leave := s.gateway.Join(taskID, s.id, 64)
	s.leave = leave
	go s.writeLoop(send)
}

func (s *wsSession) writeLoop(send <-chan []byte) {
	for msg := range send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
