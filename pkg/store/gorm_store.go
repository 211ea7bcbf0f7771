package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"doctrack/pkg/domain"
)

// GormStore implements Store on GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB wraps an already-open GORM database. The connection
// must have been opened with TranslateError enabled so uniqueness
// violations surface as gorm.ErrDuplicatedKey.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&UserModel{}, &DocumentModel{}, &NotificationModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateUser inserts a user record.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return translateErr(s.db.Create(&model).Error)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users, newest first.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// ListActiveStaff returns the fan-out audience for document creation.
func (s *GormStore) ListActiveStaff() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.
		Where("role = ? AND is_active = ?", string(domain.RoleStaff), true).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdateUser saves mutable user fields.
func (s *GormStore) UpdateUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Model(&UserModel{}).Where("id = ?", u.ID).
		Updates(map[string]any{
			"name":          model.Name,
			"username":      model.Username,
			"password_hash": model.PasswordHash,
			"role":          model.Role,
			"is_active":     model.IsActive,
			"updated_at":    time.Now().UTC(),
		}).Error
	return translateErr(err)
}

// DeleteUser removes the user record.
func (s *GormStore) DeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// SetLastLogin records the login timestamp.
func (s *GormStore) SetLastLogin(id string, at time.Time) error {
	return s.db.Model(&UserModel{}).Where("id = ?", id).
		Update("last_login", at.UTC()).Error
}

// CreateDocument inserts a document record.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model := documentToModel(d)
	return translateErr(s.db.Create(&model).Error)
}

// GetDocument retrieves a document with provenance refs attached.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	docs, err := s.hydrateDocuments([]DocumentModel{model})
	if err != nil {
		return domain.Document{}, false, err
	}
	return docs[0], true, nil
}

// ListDocuments returns documents ordered by document date, optionally
// filtered by type.
func (s *GormStore) ListDocuments(docType domain.DocumentType) ([]domain.Document, error) {
	tx := s.db.Order("document_date DESC")
	if docType != "" {
		tx = tx.Where("type = ?", string(docType))
	}
	var models []DocumentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return s.hydrateDocuments(models)
}

// SearchDocuments applies filters and offset pagination, returning the page
// and the total match count.
func (s *GormStore) SearchDocuments(q DocumentQuery) ([]domain.Document, int64, error) {
	base := s.db.Model(&DocumentModel{})
	if q.Type != "" {
		base = base.Where("type = ?", string(q.Type))
	}
	if q.DocumentNumber != nil {
		base = base.Where("document_number = ?", *q.DocumentNumber)
	} else if strings.TrimSpace(q.Company) != "" {
		// Company is stored uppercase, so uppercasing the term gives a
		// case-insensitive substring match on every dialect.
		term := "%" + strings.ToUpper(strings.TrimSpace(q.Company)) + "%"
		base = base.Where("company LIKE ?", term)
	}
	if q.StartDate != nil {
		base = base.Where("document_date >= ?", q.StartDate.UTC())
	}
	if q.EndDate != nil {
		base = base.Where("document_date <= ?", q.EndDate.UTC())
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []DocumentModel
	if err := base.
		Order("document_date DESC").
		Order("created_at DESC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	docs, err := s.hydrateDocuments(models)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// UpdateDocument saves mutable document fields.
func (s *GormStore) UpdateDocument(d domain.Document) error {
	model := documentToModel(d)
	err := s.db.Model(&DocumentModel{}).Where("id = ?", d.ID).
		Updates(map[string]any{
			"type":              model.Type,
			"company":           model.Company,
			"document_number":   model.DocumentNumber,
			"document_date":     model.DocumentDate,
			"image_url":         model.ImageURL,
			"image_external_id": model.ImageExternalID,
			"updated_by_id":     model.UpdatedByID,
			"updated_at":        time.Now().UTC(),
		}).Error
	return translateErr(err)
}

// DeleteDocument removes the document record. Notification rows keep their
// metadata snapshot and are left in place.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// CreateNotifications inserts the fan-out batch.
func (s *GormStore) CreateNotifications(ns []domain.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	models := make([]NotificationModel, 0, len(ns))
	for _, n := range ns {
		models = append(models, notificationToModel(n))
	}
	return s.db.CreateInBatches(&models, 200).Error
}

// ListNotifications returns a recipient's notifications, newest first.
func (s *GormStore) ListNotifications(recipientID string, q NotificationQuery) ([]domain.Notification, int64, error) {
	base := s.db.Model(&NotificationModel{}).Where("recipient_id = ?", recipientID)
	if q.IsRead != nil {
		base = base.Where("is_read = ?", *q.IsRead)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []NotificationModel
	if err := base.
		Order("created_at DESC").
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items, err := s.hydrateNotifications(models)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountUnread returns the recipient's unread notification count.
func (s *GormStore) CountUnread(recipientID string) (int64, error) {
	var count int64
	err := s.db.Model(&NotificationModel{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

// GetNotification returns one notification owned by the recipient.
func (s *GormStore) GetNotification(recipientID, id string) (domain.Notification, bool, error) {
	var model NotificationModel
	err := s.db.Where("id = ? AND recipient_id = ?", id, recipientID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Notification{}, false, nil
		}
		return domain.Notification{}, false, err
	}
	items, err := s.hydrateNotifications([]NotificationModel{model})
	if err != nil {
		return domain.Notification{}, false, err
	}
	return items[0], true, nil
}

// MarkNotificationRead sets is_read. Marking an already-read notification
// is a no-op.
func (s *GormStore) MarkNotificationRead(recipientID, id string) error {
	return s.db.Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error
}

// MarkAllNotificationsRead sets is_read on every unread row of the recipient.
func (s *GormStore) MarkAllNotificationsRead(recipientID string) error {
	return s.db.Model(&NotificationModel{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]any{"is_read": true, "updated_at": time.Now().UTC()}).Error
}

// DeleteNotification removes one notification owned by the recipient.
func (s *GormStore) DeleteNotification(recipientID, id string) error {
	return s.db.Delete(&NotificationModel{}, "id = ? AND recipient_id = ?", id, recipientID).Error
}

// DeleteAllNotifications removes every notification of the recipient.
func (s *GormStore) DeleteAllNotifications(recipientID string) error {
	return s.db.Delete(&NotificationModel{}, "recipient_id = ?", recipientID).Error
}

// hydrateDocuments attaches createdBy/updatedBy provenance refs.
func (s *GormStore) hydrateDocuments(models []DocumentModel) ([]domain.Document, error) {
	userIDs := make([]string, 0, len(models)*2)
	for _, m := range models {
		userIDs = append(userIDs, m.CreatedByID)
		if m.UpdatedByID != nil {
			userIDs = append(userIDs, *m.UpdatedByID)
		}
	}
	refs, err := s.userRefs(userIDs)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		doc := documentFromModel(m)
		if ref, ok := refs[m.CreatedByID]; ok {
			doc.CreatedBy = &ref
		}
		if m.UpdatedByID != nil {
			if ref, ok := refs[*m.UpdatedByID]; ok {
				doc.UpdatedBy = &ref
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// hydrateNotifications attaches sender and document refs. Refs of records
// deleted since the notification was written stay nil; the metadata
// snapshot carries the surviving facts.
func (s *GormStore) hydrateNotifications(models []NotificationModel) ([]domain.Notification, error) {
	userIDs := make([]string, 0, len(models))
	docIDs := make([]string, 0, len(models))
	for _, m := range models {
		userIDs = append(userIDs, m.SenderID)
		if m.DocumentID != nil {
			docIDs = append(docIDs, *m.DocumentID)
		}
	}
	refs, err := s.userRefs(userIDs)
	if err != nil {
		return nil, err
	}
	docRefs, err := s.documentRefs(docIDs)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		n := notificationFromModel(m)
		if ref, ok := refs[m.SenderID]; ok {
			n.Sender = &ref
		}
		if m.DocumentID != nil {
			if ref, ok := docRefs[*m.DocumentID]; ok {
				n.Document = &ref
			}
		}
		items = append(items, n)
	}
	return items, nil
}

func (s *GormStore) userRefs(ids []string) (map[string]domain.UserRef, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return map[string]domain.UserRef{}, nil
	}
	var models []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.UserRef, len(models))
	for _, m := range models {
		out[m.ID] = domain.UserRef{
			ID:       m.ID,
			Name:     m.Name,
			Username: m.Username,
			Role:     domain.UserRole(m.Role),
		}
	}
	return out, nil
}

func (s *GormStore) documentRefs(ids []string) (map[string]domain.DocumentRef, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return map[string]domain.DocumentRef{}, nil
	}
	var models []DocumentModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.DocumentRef, len(models))
	for _, m := range models {
		out[m.ID] = domain.DocumentRef{
			ID:             m.ID,
			Type:           domain.DocumentType(m.Type),
			Company:        m.Company,
			DocumentNumber: m.DocumentNumber,
			DocumentDate:   m.DocumentDate,
		}
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		IsActive:     m.IsActive,
		LastLogin:    m.LastLogin,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	model := DocumentModel{
		ID:             d.ID,
		Type:           string(d.Type),
		Company:        d.Company,
		DocumentNumber: d.DocumentNumber,
		DocumentDate:   d.DocumentDate.UTC(),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Image != nil {
		model.ImageURL = d.Image.URL
		model.ImageExternalID = d.Image.ExternalID
	}
	if d.CreatedBy != nil {
		model.CreatedByID = d.CreatedBy.ID
	}
	if d.UpdatedBy != nil {
		id := d.UpdatedBy.ID
		model.UpdatedByID = &id
	}
	return model
}

func documentFromModel(m DocumentModel) domain.Document {
	doc := domain.Document{
		ID:             m.ID,
		Type:           domain.DocumentType(m.Type),
		Company:        m.Company,
		DocumentNumber: m.DocumentNumber,
		DocumentDate:   m.DocumentDate,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.ImageURL != "" || m.ImageExternalID != "" {
		doc.Image = &domain.Image{URL: m.ImageURL, ExternalID: m.ImageExternalID}
	}
	return doc
}

func notificationToModel(n domain.Notification) NotificationModel {
	meta, _ := json.Marshal(n.Metadata)
	model := NotificationModel{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        string(n.Type),
		Message:     n.Message,
		IsRead:      n.IsRead,
		Metadata:    meta,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
	if n.Sender != nil {
		model.SenderID = n.Sender.ID
	}
	if n.Document != nil {
		id := n.Document.ID
		model.DocumentID = &id
	}
	return model
}

func notificationFromModel(m NotificationModel) domain.Notification {
	var meta domain.NotificationMeta
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Notification{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		Type:        domain.NotificationType(m.Type),
		Message:     m.Message,
		IsRead:      m.IsRead,
		Metadata:    meta,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
