package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
)

// upgrader allows any origin: the Gateway's CORS middleware already governs
// which browser origins may reach these routes, and container callbacks
// never use WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const socketHeartbeat = 30 * time.Second

// streamTopic upgrades the connection and forwards every Event Bus message
// on topic until the client disconnects, matching internal/web/sse.Handler's
// subscribe-filter-forward loop but over a WebSocket instead of SSE, per
// spec §4.10's Expansion note.
func (s *Server) streamTopic(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.bus.Subscribe(topic)
	defer s.bus.Unsubscribe(events)

	heartbeat := time.NewTicker(socketHeartbeat)
	defer heartbeat.Stop()

	// Drain client reads in the background so ping/pong and close frames
	// are processed; this endpoint is write-only from the server's side.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	s.streamTopic(w, r, eventbus.LogTopic(workerID))
}

func (s *Server) handlePlanSocket(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	taskID := chi.URLParam(r, "taskID")
	s.streamTopic(w, r, eventbus.PlanTopic(projectID, taskID))
}

func (s *Server) handleSystemSocket(w http.ResponseWriter, r *http.Request) {
	s.streamTopic(w, r, eventbus.SystemTopic)
}
