// Package app implements the business logic behind the document tracker:
// authentication and sessions, user administration, document lifecycle with
// attached images, and notification fan-out to connected staff.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"doctrack/internal/channel"
	"doctrack/internal/util"
	"doctrack/pkg/auth"
	"doctrack/pkg/domain"
	"doctrack/pkg/storage"
	"doctrack/pkg/store"
)

const (
	defaultDocumentPageSize     = 10
	defaultNotificationPageSize = 20
	maxPageSize                 = 100
)

// Config carries the dependencies of App. Store and Sessions are required;
// Images and Publisher are optional and degrade to errors on upload and
// silent no-ops on publish respectively.
type Config struct {
	Store     store.Store
	Sessions  store.SessionStore
	Images    storage.ImageStore
	Publisher channel.Publisher
}

type App struct {
	store     store.Store
	sessions  store.SessionStore
	images    storage.ImageStore
	publisher channel.Publisher
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: session store is required")
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &App{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		images:    cfg.Images,
		publisher: pub,
	}, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishToUser(string, string, any)          {}
func (noopPublisher) PublishToRole(domain.UserRole, string, any) {}

// ---- auth ----

// Login verifies credentials and mints a session token. Unknown usernames
// and wrong passwords are indistinguishable to the caller.
func (a *App) Login(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, "", ErrAccountDisabled
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if err := a.store.SetLastLogin(user.ID, now); err != nil {
		slog.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// ResolveSession maps a bearer token back to its user. Tokens for deleted
// or deactivated accounts stop working immediately.
func (a *App) ResolveSession(token string) (domain.User, error) {
	userID, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || !user.IsActive {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// RegisterInput describes a new account. Role defaults to staff when empty.
type RegisterInput struct {
	Name     string
	Username string
	Password string
	Role     domain.UserRole
}

func (a *App) Register(in RegisterInput) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	if in.Name == "" || in.Username == "" {
		return domain.User{}, &ValidationError{Message: "Name and username are required"}
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, &ValidationError{Message: err.Error()}
	}
	role := in.Role
	if role == "" {
		role = domain.RoleStaff
	}
	if role != domain.RoleAdmin && role != domain.RoleStaff {
		return domain.User{}, &ValidationError{Message: "Invalid role"}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           util.NewID(),
		Name:         in.Name,
		Username:     in.Username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, err
	}
	created, ok, err := a.store.GetUserByID(user.ID)
	if err != nil || !ok {
		return user, err
	}
	return created, nil
}

// UpdateProfile lets a user change their own display name and username.
func (a *App) UpdateProfile(userID, name, username string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	if username = strings.TrimSpace(username); username != "" {
		user.Username = username
	}
	if err := a.store.UpdateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

func (a *App) ChangePassword(userID, current, next string) error {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	if !auth.CheckPassword(current, user.PasswordHash) {
		return ErrWrongPassword
	}
	if err := auth.ValidatePassword(next); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return a.store.UpdateUser(user)
}

// ---- user administration ----

func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

func (a *App) GetUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateUserInput is the admin-side user patch. Nil pointers leave the
// corresponding field untouched.
type UpdateUserInput struct {
	Name     string
	Username string
	Role     *domain.UserRole
	IsActive *bool
}

func (a *App) UpdateUser(id string, in UpdateUserInput) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = name
	}
	if username := strings.TrimSpace(in.Username); username != "" {
		user.Username = username
	}
	if in.Role != nil {
		if *in.Role != domain.RoleAdmin && *in.Role != domain.RoleStaff {
			return domain.User{}, &ValidationError{Message: "Invalid role"}
		}
		user.Role = *in.Role
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}
	if err := a.store.UpdateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

// DeleteUser removes an account. Admins cannot delete themselves.
func (a *App) DeleteUser(actorID, id string) error {
	if actorID == id {
		return ErrSelfDeletion
	}
	_, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return a.store.DeleteUser(id)
}

// ---- documents ----

// ImageUpload is a pending file attachment read from a multipart request.
type ImageUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
}

type DocumentInput struct {
	Type           domain.DocumentType
	Company        string
	DocumentNumber int
	DocumentDate   time.Time
}

func (a *App) CreateDocument(ctx context.Context, actor domain.User, in DocumentInput, upload *ImageUpload) (domain.Document, error) {
	if !in.Type.Valid() {
		return domain.Document{}, &ValidationError{Message: "Invalid document type"}
	}
	company := strings.ToUpper(strings.TrimSpace(in.Company))
	if company == "" {
		return domain.Document{}, &ValidationError{Message: "Company is required"}
	}
	if in.DocumentNumber <= 0 {
		return domain.Document{}, &ValidationError{Message: "Document number must be positive"}
	}
	if in.DocumentDate.IsZero() {
		return domain.Document{}, &ValidationError{Message: "Document date is required"}
	}

	var image *domain.Image
	if upload != nil {
		img, err := a.uploadImage(ctx, upload)
		if err != nil {
			return domain.Document{}, err
		}
		image = &img
	}

	actorRef := actor.Ref()
	doc := domain.Document{
		ID:             util.NewID(),
		Type:           in.Type,
		Company:        company,
		DocumentNumber: in.DocumentNumber,
		DocumentDate:   in.DocumentDate,
		Image:          image,
		CreatedBy:      &actorRef,
	}
	if err := a.store.CreateDocument(doc); err != nil {
		if image != nil {
			a.deleteImage(ctx, image.ExternalID)
		}
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Document{}, ErrDocumentNumberTaken
		}
		return domain.Document{}, err
	}

	created, ok, err := a.store.GetDocument(doc.ID)
	if err == nil && ok {
		doc = created
	}
	a.notifyStaff(doc, actor)
	return doc, nil
}

// UpdateDocumentInput patches a document. Nil pointers keep current values.
type UpdateDocumentInput struct {
	Company        string
	DocumentNumber *int
	DocumentDate   *time.Time
}

func (a *App) UpdateDocument(ctx context.Context, actor domain.User, id string, in UpdateDocumentInput, upload *ImageUpload) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if company := strings.ToUpper(strings.TrimSpace(in.Company)); company != "" {
		doc.Company = company
	}
	if in.DocumentNumber != nil {
		if *in.DocumentNumber <= 0 {
			return domain.Document{}, &ValidationError{Message: "Document number must be positive"}
		}
		doc.DocumentNumber = *in.DocumentNumber
	}
	if in.DocumentDate != nil {
		doc.DocumentDate = *in.DocumentDate
	}
	if upload != nil {
		img, err := a.uploadImage(ctx, upload)
		if err != nil {
			return domain.Document{}, err
		}
		if doc.Image != nil {
			a.deleteImage(ctx, doc.Image.ExternalID)
		}
		doc.Image = &img
	}
	actorRef := actor.Ref()
	doc.UpdatedBy = &actorRef

	if err := a.store.UpdateDocument(doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Document{}, ErrDocumentNumberTaken
		}
		return domain.Document{}, err
	}
	updated, ok, err := a.store.GetDocument(id)
	if err == nil && ok {
		doc = updated
	}
	a.publisher.PublishToRole(domain.RoleStaff, channel.EventDocumentUpdated, documentEvent{
		Document: doc,
		Message:  fmt.Sprintf("%s #%d was updated", doc.Type.Label(), doc.DocumentNumber),
	})
	return doc, nil
}

func (a *App) DeleteDocument(ctx context.Context, actor domain.User, id string) error {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}
	if doc.Image != nil {
		a.deleteImage(ctx, doc.Image.ExternalID)
	}
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	a.publisher.PublishToRole(domain.RoleStaff, channel.EventDocumentDeleted, documentEvent{
		Document: doc,
		Message:  fmt.Sprintf("%s #%d was deleted", doc.Type.Label(), doc.DocumentNumber),
	})
	return nil
}

func (a *App) GetDocument(id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocuments returns all documents, optionally filtered by type.
// An empty type or "ALL" returns every document.
func (a *App) ListDocuments(docType string) ([]domain.Document, error) {
	var filter domain.DocumentType
	if t := strings.ToUpper(strings.TrimSpace(docType)); t != "" && t != "ALL" {
		dt := domain.DocumentType(t)
		if !dt.Valid() {
			return nil, &ValidationError{Message: "Invalid document type"}
		}
		filter = dt
	}
	return a.store.ListDocuments(filter)
}

// SearchParams drives the paginated document search. A numeric Term matches
// document numbers exactly; anything else matches company substrings.
type SearchParams struct {
	Term      string
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// Pagination is echoed back alongside every paginated result set.
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	TotalItems   int64 `json:"totalItems"`
	ItemsPerPage int   `json:"itemsPerPage"`
}

func (a *App) SearchDocuments(p SearchParams) ([]domain.Document, Pagination, error) {
	page, limit := normalizePage(p.Page, p.Limit, defaultDocumentPageSize)
	q := store.DocumentQuery{
		Offset: (page - 1) * limit,
		Limit:  limit,
	}
	if term := strings.TrimSpace(p.Term); term != "" {
		if n, err := strconv.Atoi(term); err == nil {
			q.DocumentNumber = &n
		} else {
			q.Company = term
		}
	}
	if t := strings.ToUpper(strings.TrimSpace(p.Type)); t != "" && t != "ALL" {
		dt := domain.DocumentType(t)
		if !dt.Valid() {
			return nil, Pagination{}, &ValidationError{Message: "Invalid document type"}
		}
		q.Type = dt
	}
	q.StartDate = p.StartDate
	if p.EndDate != nil {
		// Date-only filters are inclusive of the whole end day.
		end := p.EndDate.Add(24*time.Hour - time.Millisecond)
		q.EndDate = &end
	}
	docs, total, err := a.store.SearchDocuments(q)
	if err != nil {
		return nil, Pagination{}, err
	}
	return docs, paginate(page, limit, total), nil
}

// ---- notifications ----

func (a *App) ListNotifications(userID string, isRead *bool, page, limit int) ([]domain.Notification, int64, Pagination, error) {
	page, limit = normalizePage(page, limit, defaultNotificationPageSize)
	q := store.NotificationQuery{
		IsRead: isRead,
		Offset: (page - 1) * limit,
		Limit:  limit,
	}
	items, total, err := a.store.ListNotifications(userID, q)
	if err != nil {
		return nil, 0, Pagination{}, err
	}
	unread, err := a.store.CountUnread(userID)
	if err != nil {
		return nil, 0, Pagination{}, err
	}
	return items, unread, paginate(page, limit, total), nil
}

func (a *App) UnreadCount(userID string) (int64, error) {
	return a.store.CountUnread(userID)
}

// MarkNotificationRead marks one of the caller's notifications as read and
// pushes the fresh unread count to their connected clients. Already-read
// notifications are a no-op.
func (a *App) MarkNotificationRead(userID, id string) (domain.Notification, error) {
	notif, ok, err := a.store.GetNotification(userID, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if !ok {
		return domain.Notification{}, ErrNotificationNotFound
	}
	if !notif.IsRead {
		if err := a.store.MarkNotificationRead(userID, id); err != nil {
			return domain.Notification{}, err
		}
		notif.IsRead = true
	}
	a.publishUnread(userID, map[string]any{"notificationId": id})
	return notif, nil
}

func (a *App) MarkAllNotificationsRead(userID string) error {
	if err := a.store.MarkAllNotificationsRead(userID); err != nil {
		return err
	}
	a.publisher.PublishToUser(userID, channel.EventNotificationRead, map[string]any{
		"allRead":     true,
		"unreadCount": 0,
	})
	return nil
}

func (a *App) DeleteNotification(userID, id string) error {
	_, ok, err := a.store.GetNotification(userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return a.store.DeleteNotification(userID, id)
}

func (a *App) DeleteAllNotifications(userID string) error {
	return a.store.DeleteAllNotifications(userID)
}

// ---- fan-out and helpers ----

type notificationEvent struct {
	Notification domain.Notification `json:"notification"`
	Message      string              `json:"message"`
}

type documentEvent struct {
	Document domain.Document `json:"document"`
	Message  string          `json:"message"`
}

// notifyStaff records a notification for every active staff member and
// pushes it to whoever is connected. Fan-out is best effort: failures are
// logged, never surfaced to the document writer.
func (a *App) notifyStaff(doc domain.Document, actor domain.User) {
	staff, err := a.store.ListActiveStaff()
	if err != nil {
		slog.Error("failed to list staff for fan-out", "document_id", doc.ID, "error", err)
		return
	}
	if len(staff) == 0 {
		return
	}
	message := fmt.Sprintf("New %s added by %s for %s", doc.Type.Label(), actor.Name, doc.Company)
	docRef := doc.Ref()
	actorRef := actor.Ref()
	now := time.Now().UTC()
	notifs := make([]domain.Notification, 0, len(staff))
	for _, member := range staff {
		notifs = append(notifs, domain.Notification{
			ID:          util.NewID(),
			RecipientID: member.ID,
			Sender:      &actorRef,
			Type:        domain.NotifyDocumentAdded,
			Message:     message,
			Document:    &docRef,
			Metadata: domain.NotificationMeta{
				DocumentType:   doc.Type,
				Company:        doc.Company,
				DocumentNumber: doc.DocumentNumber,
			},
			CreatedAt: now,
		})
	}
	if err := a.store.CreateNotifications(notifs); err != nil {
		slog.Error("failed to persist notifications", "document_id", doc.ID, "error", err)
		return
	}
	for _, n := range notifs {
		a.publisher.PublishToUser(n.RecipientID, channel.EventNewNotification, notificationEvent{
			Notification: n,
			Message:      message,
		})
	}
	a.publisher.PublishToRole(domain.RoleStaff, channel.EventDocumentAdded, documentEvent{
		Document: doc,
		Message:  message,
	})
}

func (a *App) publishUnread(userID string, extra map[string]any) {
	unread, err := a.store.CountUnread(userID)
	if err != nil {
		slog.Warn("failed to count unread notifications", "user_id", userID, "error", err)
		return
	}
	payload := map[string]any{"unreadCount": unread}
	for k, v := range extra {
		payload[k] = v
	}
	a.publisher.PublishToUser(userID, channel.EventNotificationRead, payload)
}

func (a *App) uploadImage(ctx context.Context, upload *ImageUpload) (domain.Image, error) {
	if a.images == nil {
		return domain.Image{}, errors.New("app: image storage not configured")
	}
	return a.images.Upload(ctx, upload.Reader, upload.Size, upload.ContentType)
}

func (a *App) deleteImage(ctx context.Context, externalID string) {
	if a.images == nil || externalID == "" {
		return
	}
	if err := a.images.Delete(ctx, externalID); err != nil {
		slog.Warn("failed to delete stored image", "external_id", externalID, "error", err)
	}
}

func normalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func paginate(page, limit int, total int64) Pagination {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		CurrentPage:  page,
		TotalPages:   pages,
		TotalItems:   total,
		ItemsPerPage: limit,
	}
}
