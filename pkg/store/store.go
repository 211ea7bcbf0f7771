package store

import (
	"errors"
	"time"

	"doctrack/pkg/domain"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint
// (username, or the (type, documentNumber) pair).
var ErrDuplicate = errors.New("duplicate record")

// DocumentQuery filters and paginates document searches.
type DocumentQuery struct {
	Type           domain.DocumentType
	Company        string
	DocumentNumber *int
	StartDate      *time.Time
	EndDate        *time.Time
	Offset         int
	Limit          int
}

// NotificationQuery filters and paginates a recipient's notifications.
type NotificationQuery struct {
	IsRead *bool
	Offset int
	Limit  int
}

// Store is the persistence boundary of the service.
type Store interface {
	CreateUser(u domain.User) error
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	ListActiveStaff() ([]domain.User, error)
	UpdateUser(u domain.User) error
	DeleteUser(id string) error
	SetLastLogin(id string, at time.Time) error

	CreateDocument(d domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments(docType domain.DocumentType) ([]domain.Document, error)
	SearchDocuments(q DocumentQuery) ([]domain.Document, int64, error)
	UpdateDocument(d domain.Document) error
	DeleteDocument(id string) error

	CreateNotifications(ns []domain.Notification) error
	ListNotifications(recipientID string, q NotificationQuery) ([]domain.Notification, int64, error)
	CountUnread(recipientID string) (int64, error)
	GetNotification(recipientID, id string) (domain.Notification, bool, error)
	MarkNotificationRead(recipientID, id string) error
	MarkAllNotificationsRead(recipientID string) error
	DeleteNotification(recipientID, id string) error
	DeleteAllNotifications(recipientID string) error
}

// SessionStore issues and validates bearer session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, error)
}
