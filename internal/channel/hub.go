package channel

import (
	"log/slog"
	"sync"

	"doctrack/pkg/domain"
)

const sendBuffer = 16

// Conn is one registered client connection. Events are delivered through a
// buffered channel; a consumer that cannot keep up loses events rather than
// blocking the publisher.
type Conn struct {
	user      domain.User
	send      chan Event
	topics    map[string]struct{}
	closeOnce sync.Once
}

// User returns the identity the connection was admitted with.
func (c *Conn) User() domain.User {
	return c.user
}

// Events returns the delivery channel. It is closed on unregister.
func (c *Conn) Events() <-chan Event {
	return c.send
}

// Hub is the per-process connection registry. Membership is rebuilt on
// every reconnect and never persisted.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Conn]struct{}
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Conn]struct{})}
}

// Register admits a connection and enrolls it in its user and role topics.
func (h *Hub) Register(user domain.User) *Conn {
	conn := &Conn{
		user:   user,
		send:   make(chan Event, sendBuffer),
		topics: make(map[string]struct{}),
	}
	h.Join(conn, UserTopic(user.ID))
	h.Join(conn, RoleTopic(user.Role))
	return conn
}

// Unregister removes the connection from all topics and closes its channel.
// Safe to call more than once.
func (h *Hub) Unregister(conn *Conn) {
	conn.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for topic := range conn.topics {
			h.leaveLocked(conn, topic)
		}
		close(conn.send)
	})
}

// Join enrolls the connection in a named topic. Topic names are not
// validated; clients may subscribe to arbitrary topics.
func (h *Hub) Join(conn *Conn, topic string) {
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*Conn]struct{})
		h.topics[topic] = members
	}
	members[conn] = struct{}{}
	conn.topics[topic] = struct{}{}
}

// Leave removes the connection from a named topic.
func (h *Hub) Leave(conn *Conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, topic)
}

func (h *Hub) leaveLocked(conn *Conn, topic string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(conn.topics, topic)
}

// Publish delivers an event to every member of a topic. Full buffers are
// skipped: at-most-once, no redelivery.
func (h *Hub) Publish(topic, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.topics[topic] {
		select {
		case conn.send <- Event{Event: event, Data: data}:
		default:
			slog.Debug("dropping event for slow consumer",
				"topic", topic, "event", event, "user_id", conn.user.ID)
		}
	}
}

// PublishToUser delivers an event to every connection of one user.
func (h *Hub) PublishToUser(userID, event string, data any) {
	h.Publish(UserTopic(userID), event, data)
}

// PublishToRole delivers an event to every connection holding a role.
func (h *Hub) PublishToRole(role domain.UserRole, event string, data any) {
	h.Publish(RoleTopic(role), event, data)
}
