package channel

import (
	"testing"

	"doctrack/pkg/domain"
)

func staffUser(id string) domain.User {
	return domain.User{ID: id, Username: "u-" + id, Role: domain.RoleStaff, IsActive: true}
}

func adminUser(id string) domain.User {
	return domain.User{ID: id, Username: "u-" + id, Role: domain.RoleAdmin, IsActive: true}
}

func drain(c *Conn) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRegisterEnrollsUserAndRoleTopics(t *testing.T) {
	hub := NewHub()
	conn := hub.Register(staffUser("s1"))
	defer hub.Unregister(conn)

	hub.PublishToUser("s1", EventNewNotification, "a")
	hub.PublishToRole(domain.RoleStaff, EventDocumentAdded, "b")
	hub.PublishToRole(domain.RoleAdmin, EventDocumentAdded, "c")

	events := drain(conn)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Event != EventNewNotification || events[1].Event != EventDocumentAdded {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPublishToUserTargetsOnlyThatUser(t *testing.T) {
	hub := NewHub()
	a := hub.Register(staffUser("s1"))
	b := hub.Register(staffUser("s2"))
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.PublishToUser("s1", EventNewNotification, nil)

	if got := drain(a); len(got) != 1 {
		t.Fatalf("target user got %d events, want 1", len(got))
	}
	if got := drain(b); len(got) != 0 {
		t.Fatalf("other user got %d events, want 0", len(got))
	}
}

func TestRoleTopicFanOut(t *testing.T) {
	hub := NewHub()
	s1 := hub.Register(staffUser("s1"))
	s2 := hub.Register(staffUser("s2"))
	admin := hub.Register(adminUser("a1"))
	defer hub.Unregister(s1)
	defer hub.Unregister(s2)
	defer hub.Unregister(admin)

	hub.PublishToRole(domain.RoleStaff, EventDocumentUpdated, nil)

	if got := drain(s1); len(got) != 1 {
		t.Fatalf("staff s1 got %d events, want 1", len(got))
	}
	if got := drain(s2); len(got) != 1 {
		t.Fatalf("staff s2 got %d events, want 1", len(got))
	}
	if got := drain(admin); len(got) != 0 {
		t.Fatalf("admin got %d staff-role events, want 0", len(got))
	}
}

func TestJoinAndLeaveNamedTopic(t *testing.T) {
	hub := NewHub()
	conn := hub.Register(staffUser("s1"))
	defer hub.Unregister(conn)

	hub.Join(conn, "reports")
	hub.Publish("reports", "report-ready", nil)
	if got := drain(conn); len(got) != 1 {
		t.Fatalf("joined topic delivered %d events, want 1", len(got))
	}

	hub.Leave(conn, "reports")
	hub.Publish("reports", "report-ready", nil)
	if got := drain(conn); len(got) != 0 {
		t.Fatalf("left topic still delivered %d events", len(got))
	}
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	conn := hub.Register(staffUser("s1"))
	defer hub.Unregister(conn)

	// Overfill the buffer; publishes beyond capacity must not block.
	for i := 0; i < sendBuffer*2; i++ {
		hub.PublishToUser("s1", EventNewNotification, i)
	}
	if got := drain(conn); len(got) != sendBuffer {
		t.Fatalf("buffered %d events, want %d", len(got), sendBuffer)
	}
}

func TestUnregisterIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub()
	conn := hub.Register(staffUser("s1"))
	hub.Unregister(conn)
	hub.Unregister(conn)

	hub.PublishToUser("s1", EventNewNotification, nil)
	if _, ok := <-conn.Events(); ok {
		t.Fatal("events channel should be closed after unregister")
	}
}
