package domain

import "time"

type DocumentType string

const (
	TypePurchaseOrder   DocumentType = "PURCHASE_ORDER"
	TypeSalesInvoice    DocumentType = "SALES_INVOICE"
	TypeDeliveryReceipt DocumentType = "DELIVERY_RECEIPT"
)

// Valid reports whether the value is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case TypePurchaseOrder, TypeSalesInvoice, TypeDeliveryReceipt:
		return true
	}
	return false
}

// Label returns the human-readable form used in notification messages.
func (t DocumentType) Label() string {
	switch t {
	case TypePurchaseOrder:
		return "Purchase Order"
	case TypeSalesInvoice:
		return "Sales Invoice"
	case TypeDeliveryReceipt:
		return "Delivery Receipt"
	}
	return string(t)
}

type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleStaff UserRole = "staff"
)

type NotificationType string

const (
	NotifyDocumentAdded   NotificationType = "DOCUMENT_ADDED"
	NotifyDocumentUpdated NotificationType = "DOCUMENT_UPDATED"
	NotifyDocumentDeleted NotificationType = "DOCUMENT_DELETED"
)

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// UserRef is the provenance projection embedded in documents and notifications.
type UserRef struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// Ref returns the provenance projection of a user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Username: u.Username, Role: u.Role}
}

// Image points at an uploaded document image in external storage.
type Image struct {
	URL        string `json:"url"`
	ExternalID string `json:"externalId"`
}

type Document struct {
	ID             string       `json:"id"`
	Type           DocumentType `json:"type"`
	Company        string       `json:"company"`
	DocumentNumber int          `json:"documentNumber"`
	DocumentDate   time.Time    `json:"documentDate"`
	Image          *Image       `json:"image,omitempty"`
	CreatedBy      *UserRef     `json:"createdBy,omitempty"`
	UpdatedBy      *UserRef     `json:"updatedBy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// DocumentRef is the snapshot of a document embedded in notifications.
type DocumentRef struct {
	ID             string       `json:"id"`
	Type           DocumentType `json:"type"`
	Company        string       `json:"company"`
	DocumentNumber int          `json:"documentNumber"`
	DocumentDate   time.Time    `json:"documentDate"`
}

// Ref returns the notification-facing projection of a document.
func (d Document) Ref() DocumentRef {
	return DocumentRef{
		ID:             d.ID,
		Type:           d.Type,
		Company:        d.Company,
		DocumentNumber: d.DocumentNumber,
		DocumentDate:   d.DocumentDate,
	}
}

// NotificationMeta is the denormalized document snapshot kept on each
// notification so it survives document deletion.
type NotificationMeta struct {
	DocumentType   DocumentType `json:"documentType"`
	Company        string       `json:"company"`
	DocumentNumber int          `json:"documentNumber"`
}

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	Sender      *UserRef         `json:"sender,omitempty"`
	Type        NotificationType `json:"type"`
	Document    *DocumentRef     `json:"document,omitempty"`
	Message     string           `json:"message"`
	IsRead      bool             `json:"isRead"`
	Metadata    NotificationMeta `json:"metadata"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
