package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	IsActive     bool   `gorm:"not null;default:true"`
	LastLogin    *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type DocumentModel struct {
	ID              string    `gorm:"primaryKey"`
	Type            string    `gorm:"not null;uniqueIndex:idx_documents_type_number;index:idx_documents_type_date,priority:1"`
	Company         string    `gorm:"not null;index"`
	DocumentNumber  int       `gorm:"not null;uniqueIndex:idx_documents_type_number"`
	DocumentDate    time.Time `gorm:"not null;index:idx_documents_type_date,priority:2"`
	ImageURL        string
	ImageExternalID string
	CreatedByID     string `gorm:"not null;index"`
	UpdatedByID     *string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type NotificationModel struct {
	ID          string `gorm:"primaryKey"`
	RecipientID string `gorm:"not null;index:idx_notifications_recipient_read,priority:1"`
	SenderID    string `gorm:"not null"`
	Type        string `gorm:"not null"`
	DocumentID  *string
	Message     string         `gorm:"not null"`
	IsRead      bool           `gorm:"not null;default:false;index:idx_notifications_recipient_read,priority:2"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
	UpdatedAt   time.Time
}
