package channel

import "doctrack/pkg/domain"

// Server-pushed event names.
const (
	EventNewNotification  = "new-notification"
	EventDocumentAdded    = "document-added"
	EventDocumentUpdated  = "document-updated"
	EventDocumentDeleted  = "document-deleted"
	EventNotificationRead = "notification-read"
)

// Client-pushed event names.
const (
	EventJoinTopic       = "join-topic"
	EventLeaveTopic      = "leave-topic"
	EventNotificationAck = "notification-acknowledged"
)

// Event is the frame exchanged over the realtime channel.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// UserTopic returns the implicit per-user topic name.
func UserTopic(userID string) string {
	return "user:" + userID
}

// RoleTopic returns the implicit per-role topic name.
func RoleTopic(role domain.UserRole) string {
	return "role:" + string(role)
}

// Publisher is the fan-out primitive handlers depend on. Delivery is
// best-effort and at-most-once; durability comes from notification rows
// written before publishing.
type Publisher interface {
	PublishToUser(userID, event string, data any)
	PublishToRole(role domain.UserRole, event string, data any)
}
