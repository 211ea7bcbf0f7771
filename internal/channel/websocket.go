package channel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"doctrack/pkg/domain"
)

// SessionResolver validates a bearer token and returns the user, exactly as
// the REST middleware does.
type SessionResolver interface {
	ResolveSession(token string) (domain.User, error)
}

// WSHandler upgrades HTTP requests to the realtime channel.
type WSHandler struct {
	hub      *Hub
	resolver SessionResolver
}

// NewWSHandler builds the websocket endpoint.
func NewWSHandler(hub *Hub, resolver SessionResolver) *WSHandler {
	return &WSHandler{hub: hub, resolver: resolver}
}

// ServeHTTP performs the websocket handshake and runs the connection.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (h *WSHandler) serve(ws *websocket.Conn) {
	defer ws.Close()

	token := handshakeToken(ws.Request())
	user, err := h.resolver.ResolveSession(token)
	if err != nil {
		_ = websocket.JSON.Send(ws, Event{Event: "error", Data: "unauthorized"})
		return
	}

	conn := h.hub.Register(user)
	defer h.hub.Unregister(conn)
	slog.Info("channel connected", "user_id", user.ID, "role", user.Role)

	// Writer: forward hub events until the connection is unregistered.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range conn.Events() {
			if err := websocket.JSON.Send(ws, ev); err != nil {
				return
			}
		}
	}()

	// Reader: handle client frames until disconnect.
	for {
		var frame clientFrame
		if err := websocket.JSON.Receive(ws, &frame); err != nil {
			if err != io.EOF {
				slog.Debug("channel read error", "user_id", user.ID, "err", err)
			}
			break
		}
		h.handleFrame(conn, frame)
	}

	h.hub.Unregister(conn)
	<-done
	slog.Info("channel disconnected", "user_id", user.ID)
}

func (h *WSHandler) handleFrame(conn *Conn, frame clientFrame) {
	switch frame.Event {
	case EventJoinTopic:
		if topic := frameTopic(frame.Data); topic != "" {
			h.hub.Join(conn, topic)
		}
	case EventLeaveTopic:
		if topic := frameTopic(frame.Data); topic != "" {
			h.hub.Leave(conn, topic)
		}
	case EventNotificationAck:
		slog.Debug("notification acknowledged",
			"user_id", conn.user.ID, "data", string(frame.Data))
	default:
		slog.Debug("ignoring unknown client event",
			"user_id", conn.user.ID, "event", frame.Event)
	}
}

// frameTopic accepts either a bare string or {"topic": "..."} payload.
func frameTopic(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return strings.TrimSpace(name)
	}
	var payload struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		return strings.TrimSpace(payload.Topic)
	}
	return ""
}

// handshakeToken pulls the bearer token from the query string or the
// Authorization header.
func handshakeToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
