package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"doctrack/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := NewGormStoreFromDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func seedUser(t *testing.T, s *GormStore, id, username string, role domain.UserRole, active bool) domain.User {
	t.Helper()
	u := domain.User{
		ID:           id,
		Name:         "User " + id,
		Username:     username,
		PasswordHash: "hash",
		Role:         role,
		IsActive:     active,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

func seedDocument(t *testing.T, s *GormStore, id string, docType domain.DocumentType, company string, number int, date time.Time, by domain.User) domain.Document {
	t.Helper()
	ref := by.Ref()
	d := domain.Document{
		ID:             id,
		Type:           docType,
		Company:        company,
		DocumentNumber: number,
		DocumentDate:   date,
		CreatedBy:      &ref,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.CreateDocument(d); err != nil {
		t.Fatalf("seed document %s: %v", id, err)
	}
	return d
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "alice", domain.RoleStaff, true)

	dup := domain.User{ID: "u2", Name: "Other", Username: "alice", PasswordHash: "hash", Role: domain.RoleStaff, IsActive: true}
	if err := s.CreateUser(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateDocumentDuplicateTypeNumber(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedDocument(t, s, "d1", domain.TypePurchaseOrder, "ACME", 100, date, admin)

	ref := admin.Ref()
	dup := domain.Document{
		ID: "d2", Type: domain.TypePurchaseOrder, Company: "OTHER",
		DocumentNumber: 100, DocumentDate: date, CreatedBy: &ref,
	}
	if err := s.CreateDocument(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same number under a different type is allowed.
	ok := domain.Document{
		ID: "d3", Type: domain.TypeSalesInvoice, Company: "ACME",
		DocumentNumber: 100, DocumentDate: date, CreatedBy: &ref,
	}
	if err := s.CreateDocument(ok); err != nil {
		t.Fatalf("same number different type should pass: %v", err)
	}

	// First document is unaffected.
	got, found, err := s.GetDocument("d1")
	if err != nil || !found {
		t.Fatalf("get d1: found=%v err=%v", found, err)
	}
	if got.Company != "ACME" || got.DocumentNumber != 100 {
		t.Fatalf("d1 mutated by failed insert: %+v", got)
	}
}

func TestSearchDocumentsByNumberAndCompany(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedDocument(t, s, "d1", domain.TypePurchaseOrder, "ACME TRADING", 100, date, admin)
	seedDocument(t, s, "d2", domain.TypePurchaseOrder, "GLOBEX", 200, date.AddDate(0, 0, 1), admin)
	seedDocument(t, s, "d3", domain.TypeSalesInvoice, "ACME TRADING", 100, date.AddDate(0, 0, 2), admin)

	number := 100
	docs, total, err := s.SearchDocuments(DocumentQuery{DocumentNumber: &number, Limit: 10})
	if err != nil {
		t.Fatalf("search by number: %v", err)
	}
	if total != 2 || len(docs) != 2 {
		t.Fatalf("number search: total=%d len=%d, want 2/2", total, len(docs))
	}

	docs, total, err = s.SearchDocuments(DocumentQuery{Company: "acme", Limit: 10})
	if err != nil {
		t.Fatalf("search by company: %v", err)
	}
	if total != 2 {
		t.Fatalf("company substring search total=%d, want 2", total)
	}
	for _, d := range docs {
		if !strings.Contains(d.Company, "ACME") {
			t.Fatalf("unexpected company %q in result", d.Company)
		}
	}

	// Type filter narrows the match.
	docs, total, err = s.SearchDocuments(DocumentQuery{Company: "acme", Type: domain.TypeSalesInvoice, Limit: 10})
	if err != nil {
		t.Fatalf("search by company+type: %v", err)
	}
	if total != 1 || docs[0].ID != "d3" {
		t.Fatalf("type-filtered search: total=%d, want d3 only", total)
	}
}

func TestSearchDocumentsDateRangeAndPagination(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedDocument(t, s, fmt.Sprintf("d%d", i), domain.TypePurchaseOrder, "ACME", 100+i, base.AddDate(0, 0, i), admin)
	}

	start := base.AddDate(0, 0, 1)
	end := base.AddDate(0, 0, 3)
	docs, total, err := s.SearchDocuments(DocumentQuery{StartDate: &start, EndDate: &end, Limit: 10})
	if err != nil {
		t.Fatalf("date range search: %v", err)
	}
	if total != 3 {
		t.Fatalf("inclusive date range total=%d, want 3", total)
	}
	// Newest document date first.
	if docs[0].DocumentDate.Before(docs[len(docs)-1].DocumentDate) {
		t.Fatal("results not ordered by document date descending")
	}

	docs, total, err = s.SearchDocuments(DocumentQuery{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("paginated search: %v", err)
	}
	if total != 5 || len(docs) != 2 {
		t.Fatalf("pagination: total=%d len=%d, want 5/2", total, len(docs))
	}
}

func TestDocumentProvenanceRefs(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	doc := seedDocument(t, s, "d1", domain.TypeDeliveryReceipt, "ACME", 7, time.Now().UTC(), admin)

	got, found, err := s.GetDocument(doc.ID)
	if err != nil || !found {
		t.Fatalf("get document: found=%v err=%v", found, err)
	}
	if got.CreatedBy == nil || got.CreatedBy.Username != "admin" {
		t.Fatalf("createdBy ref not hydrated: %+v", got.CreatedBy)
	}
	if got.UpdatedBy != nil {
		t.Fatalf("updatedBy should be nil before any update, got %+v", got.UpdatedBy)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	staff := seedUser(t, s, "s1", "staff1", domain.RoleStaff, true)
	doc := seedDocument(t, s, "d1", domain.TypePurchaseOrder, "ACME", 100, time.Now().UTC(), admin)

	senderRef := admin.Ref()
	docRef := doc.Ref()
	n := domain.Notification{
		ID:          "n1",
		RecipientID: staff.ID,
		Sender:      &senderRef,
		Type:        domain.NotifyDocumentAdded,
		Document:    &docRef,
		Message:     "New Purchase Order added by admin for ACME",
		Metadata: domain.NotificationMeta{
			DocumentType:   doc.Type,
			Company:        doc.Company,
			DocumentNumber: doc.DocumentNumber,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateNotifications([]domain.Notification{n}); err != nil {
		t.Fatalf("create notifications: %v", err)
	}

	count, err := s.CountUnread(staff.ID)
	if err != nil || count != 1 {
		t.Fatalf("unread count = %d (err %v), want 1", count, err)
	}

	got, found, err := s.GetNotification(staff.ID, "n1")
	if err != nil || !found {
		t.Fatalf("get notification: found=%v err=%v", found, err)
	}
	if got.Sender == nil || got.Sender.Username != "admin" {
		t.Fatalf("sender ref not hydrated: %+v", got.Sender)
	}
	if got.Document == nil || got.Document.DocumentNumber != 100 {
		t.Fatalf("document ref not hydrated: %+v", got.Document)
	}
	if got.Metadata.Company != "ACME" {
		t.Fatalf("metadata snapshot not persisted: %+v", got.Metadata)
	}

	// Recipient scoping: another user cannot see the row.
	if _, found, err := s.GetNotification(admin.ID, "n1"); err != nil || found {
		t.Fatalf("notification visible to non-recipient: found=%v err=%v", found, err)
	}

	// Mark read twice: idempotent.
	if err := s.MarkNotificationRead(staff.ID, "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.MarkNotificationRead(staff.ID, "n1"); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	got, _, _ = s.GetNotification(staff.ID, "n1")
	if !got.IsRead {
		t.Fatal("notification not marked read")
	}
	count, _ = s.CountUnread(staff.ID)
	if count != 0 {
		t.Fatalf("unread count after read = %d, want 0", count)
	}
}

func TestNotificationSurvivesDocumentDeletion(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	staff := seedUser(t, s, "s1", "staff1", domain.RoleStaff, true)
	doc := seedDocument(t, s, "d1", domain.TypeSalesInvoice, "GLOBEX", 55, time.Now().UTC(), admin)

	senderRef := admin.Ref()
	docRef := doc.Ref()
	err := s.CreateNotifications([]domain.Notification{{
		ID: "n1", RecipientID: staff.ID, Sender: &senderRef,
		Type: domain.NotifyDocumentAdded, Document: &docRef,
		Message:  "New Sales Invoice added by admin for GLOBEX",
		Metadata: domain.NotificationMeta{DocumentType: doc.Type, Company: doc.Company, DocumentNumber: doc.DocumentNumber},
	}})
	if err != nil {
		t.Fatalf("create notifications: %v", err)
	}

	if err := s.DeleteDocument(doc.ID); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	got, found, err := s.GetNotification(staff.ID, "n1")
	if err != nil || !found {
		t.Fatalf("notification should survive document deletion: found=%v err=%v", found, err)
	}
	if got.Document != nil {
		t.Fatalf("dangling document ref should be nil, got %+v", got.Document)
	}
	if got.Metadata.Company != "GLOBEX" || got.Metadata.DocumentNumber != 55 {
		t.Fatalf("metadata snapshot lost: %+v", got.Metadata)
	}
}

func TestMarkAllAndDeleteAllNotifications(t *testing.T) {
	s := newTestStore(t)
	admin := seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	staff := seedUser(t, s, "s1", "staff1", domain.RoleStaff, true)
	other := seedUser(t, s, "s2", "staff2", domain.RoleStaff, true)

	senderRef := admin.Ref()
	batch := make([]domain.Notification, 0, 4)
	for i := 0; i < 3; i++ {
		batch = append(batch, domain.Notification{
			ID: fmt.Sprintf("n%d", i), RecipientID: staff.ID, Sender: &senderRef,
			Type: domain.NotifyDocumentAdded, Message: "msg",
		})
	}
	batch = append(batch, domain.Notification{
		ID: "other-1", RecipientID: other.ID, Sender: &senderRef,
		Type: domain.NotifyDocumentAdded, Message: "msg",
	})
	if err := s.CreateNotifications(batch); err != nil {
		t.Fatalf("create notifications: %v", err)
	}

	if err := s.MarkAllNotificationsRead(staff.ID); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if count, _ := s.CountUnread(staff.ID); count != 0 {
		t.Fatalf("unread after mark-all = %d, want 0", count)
	}
	if count, _ := s.CountUnread(other.ID); count != 1 {
		t.Fatalf("other recipient affected by mark-all, unread = %d", count)
	}

	if err := s.DeleteAllNotifications(staff.ID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	items, total, err := s.ListNotifications(staff.ID, NotificationQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list after delete-all: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("notifications remain after delete-all: total=%d", total)
	}
	if _, total, _ := s.ListNotifications(other.ID, NotificationQuery{Limit: 10}); total != 1 {
		t.Fatal("other recipient's notifications deleted")
	}
}

func TestListActiveStaffExcludesAdminsAndInactive(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "a1", "admin", domain.RoleAdmin, true)
	seedUser(t, s, "s1", "staff1", domain.RoleStaff, true)
	seedUser(t, s, "s2", "staff2", domain.RoleStaff, false)
	seedUser(t, s, "s3", "staff3", domain.RoleStaff, true)

	staff, err := s.ListActiveStaff()
	if err != nil {
		t.Fatalf("list active staff: %v", err)
	}
	if len(staff) != 2 {
		t.Fatalf("active staff = %d, want 2", len(staff))
	}
	for _, u := range staff {
		if u.Role != domain.RoleStaff || !u.IsActive {
			t.Fatalf("unexpected member in audience: %+v", u)
		}
	}
}
