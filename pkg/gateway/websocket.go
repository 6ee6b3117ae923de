package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/aiguide/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const pushWriteTimeout = 5 * time.Second

// pushEvent is one websocket frame
type pushEvent struct {
	Event   string                `json:"event"`
	Message *session.Notification `json:"message,omitempty"`
}

func (s *Server) handlePushSocket(w http.ResponseWriter, r *http.Request) {
	id := requestSessionID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if _, ok := s.sessions.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &pushClient{
		ID:          clientID,
		SessionID:   id,
		Conn:        conn,
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
		done:        make(chan struct{}),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("session_id", id).
		Msg("Push client connected")

	go s.readClient(client)
	s.pushLoop(client)
}

// readClient discards inbound frames and closes the client once the peer goes away
func (s *Server) readClient(client *pushClient) {
	defer client.Close()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket read error")
			}
			return
		}
	}
}

// pushLoop drains the session's notifications every push interval
func (s *Server) pushLoop(client *pushClient) {
	defer func() {
		client.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Push client disconnected")
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
		}

		notifications, err := s.sessions.PendingNotifications(client.SessionID)
		if err != nil {
			client.Conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			client.WriteJSON(pushEvent{Event: "session.closed"})
			return
		}

		for i := range notifications {
			client.Conn.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
			if err := client.WriteJSON(pushEvent{Event: "message", Message: &notifications[i]}); err != nil {
				s.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Failed to push notification")
				return
			}
		}
	}
}
