package channel

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"doctrack/pkg/domain"
)

type fakeResolver struct {
	users map[string]domain.User
}

func (f *fakeResolver) ResolveSession(token string) (domain.User, error) {
	user, ok := f.users[token]
	if !ok {
		return domain.User{}, errors.New("unauthorized")
	}
	return user, nil
}

func newChannelServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	resolver := &fakeResolver{users: map[string]domain.User{
		"staff-token": {ID: "s1", Username: "staff1", Role: domain.RoleStaff, IsActive: true},
	}}
	srv := httptest.NewServer(NewWSHandler(hub, resolver))
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialChannel(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	ws, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial channel: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func receiveEvent(t *testing.T, ws *websocket.Conn) clientFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame clientFrame
	if err := websocket.JSON.Receive(ws, &frame); err != nil {
		t.Fatalf("receive event: %v", err)
	}
	return frame
}

func TestChannelRejectsInvalidToken(t *testing.T) {
	srv, _ := newChannelServer(t)
	ws := dialChannel(t, srv, "bogus")

	frame := receiveEvent(t, ws)
	if frame.Event != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	// The server closes after the error frame.
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next clientFrame
	if err := websocket.JSON.Receive(ws, &next); err == nil {
		t.Fatal("connection should be closed after rejection")
	}
}

func TestChannelDeliversUserEvent(t *testing.T) {
	srv, hub := newChannelServer(t)
	ws := dialChannel(t, srv, "staff-token")

	// Wait for the connection to be enrolled in its topics.
	waitForMembers(t, hub, UserTopic("s1"), 1)

	hub.PublishToUser("s1", EventNewNotification, map[string]any{"message": "hello"})

	frame := receiveEvent(t, ws)
	if frame.Event != EventNewNotification {
		t.Fatalf("event = %q, want %q", frame.Event, EventNewNotification)
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Message != "hello" {
		t.Fatalf("payload = %s (err %v)", frame.Data, err)
	}
}

func TestChannelJoinTopicFrame(t *testing.T) {
	srv, hub := newChannelServer(t)
	ws := dialChannel(t, srv, "staff-token")
	waitForMembers(t, hub, UserTopic("s1"), 1)

	if err := websocket.JSON.Send(ws, Event{Event: EventJoinTopic, Data: "reports"}); err != nil {
		t.Fatalf("send join frame: %v", err)
	}
	waitForMembers(t, hub, "reports", 1)

	hub.Publish("reports", "report-ready", nil)
	frame := receiveEvent(t, ws)
	if frame.Event != "report-ready" {
		t.Fatalf("event = %q, want report-ready", frame.Event)
	}
}

func waitForMembers(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		got := len(hub.topics[topic])
		hub.mu.RUnlock()
		if got >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("topic %q never reached %d members", topic, want)
}

func TestFrameTopicFormats(t *testing.T) {
	if got := frameTopic(json.RawMessage(`"reports"`)); got != "reports" {
		t.Fatalf("bare string topic = %q", got)
	}
	if got := frameTopic(json.RawMessage(`{"topic":"reports"}`)); got != "reports" {
		t.Fatalf("object topic = %q", got)
	}
	if got := frameTopic(nil); got != "" {
		t.Fatalf("empty payload topic = %q", got)
	}
}
