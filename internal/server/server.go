// Package server exposes the REST API and websocket endpoint.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"doctrack/internal/app"
	"doctrack/internal/channel"
	"doctrack/internal/ratelimit"
	"doctrack/internal/util"
	"doctrack/pkg/domain"
)

const defaultMaxUploadBytes = 10 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	Hub *channel.Hub

	// LoginLimiter is optional; nil disables login rate limiting.
	LoginLimiter   *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the document tracker.
type Server struct {
	app            *app.App
	ws             http.Handler
	loginLimiter   *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	if cfg.Hub != nil {
		s.ws = channel.NewWSHandler(cfg.Hub, cfg.App)
	}
	s.routes()
	return s
}

// Router returns the configured handler. The websocket endpoint is mounted
// outside the logging middleware because the status-recording wrapper does
// not implement http.Hijacker, which the upgrade needs.
func (s *Server) Router() http.Handler {
	api := util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
	root := http.NewServeMux()
	if s.ws != nil {
		root.Handle("/ws", util.WithCORS(s.ws))
	}
	root.Handle("/", api)
	return root
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/register", s.adminOnly(s.handleRegister))
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/auth/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/auth/change-password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/api/auth/users", s.adminOnly(s.handleUsers))
	s.mux.Handle("/api/auth/users/", s.adminOnly(s.handleUserByID))

	// documents
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/search", s.authenticated(s.handleDocumentSearch))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))

	// notifications
	s.mux.Handle("/api/notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("/api/notifications/unread-count", s.authenticated(s.handleUnreadCount))
	s.mux.Handle("/api/notifications/mark-all-read", s.authenticated(s.handleMarkAllRead))
	s.mux.Handle("/api/notifications/", s.authenticated(s.handleNotificationByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.ResolveSession(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !requireRole(w, user, domain.RoleAdmin) {
			return
		}
		next(w, r, user)
	})
}

// requireRole is the single capability check used by both route middleware
// and mixed-method handlers. It writes the 403 envelope on denial.
func requireRole(w http.ResponseWriter, user domain.User, role domain.UserRole) bool {
	if user.Role != role {
		writeError(w, http.StatusForbidden, "Admin access required")
		return false
	}
	return true
}

// auth handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Login successful", authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	// Sessions are stateless; clients discard the token.
	writeData(w, http.StatusOK, "Logged out successfully", nil)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(app.RegisterInput{
		Name:     req.Name,
		Username: req.Username,
		Password: req.Password,
		Role:     domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role))),
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "User registered successfully", user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeData(w, http.StatusOK, "", user)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req profileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.app.UpdateProfile(user.ID, req.Name, req.Username)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Profile updated successfully", updated)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}
	if err := s.app.ChangePassword(user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Password changed successfully", nil)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", users)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, actor domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/auth/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "", user)
	case http.MethodPut:
		var req userUpdateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		in := app.UpdateUserInput{
			Name:     req.Name,
			Username: req.Username,
			IsActive: req.IsActive,
		}
		if req.Role != "" {
			role := domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role)))
			in.Role = &role
		}
		updated, err := s.app.UpdateUser(id, in)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "User updated successfully", updated)
	case http.MethodDelete:
		if err := s.app.DeleteUser(actor.ID, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "User deleted successfully", nil)
	default:
		methodNotAllowed(w)
	}
}

// document handlers

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.URL.Query().Get("type"))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "", docs)
	case http.MethodPost:
		if !requireRole(w, user, domain.RoleAdmin) {
			return
		}
		s.createDocument(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	form, upload, ok := s.parseDocumentForm(w, r)
	if !ok {
		return
	}
	if upload != nil {
		defer upload.close()
	}
	if form.docType == "" || form.company == "" || form.number == nil || form.date == nil {
		writeError(w, http.StatusBadRequest, "type, company, documentNumber and documentDate are required")
		return
	}
	doc, err := s.app.CreateDocument(r.Context(), user, app.DocumentInput{
		Type:           domain.DocumentType(form.docType),
		Company:        form.company,
		DocumentNumber: *form.number,
		DocumentDate:   *form.date,
	}, upload.input())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "Document added successfully", doc)
}

func (s *Server) handleDocumentSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	params := app.SearchParams{
		Term:  q.Get("search"),
		Type:  q.Get("type"),
		Page:  intQuery(q.Get("page")),
		Limit: intQuery(q.Get("limit")),
	}
	if v := q.Get("startDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid startDate")
			return
		}
		params.StartDate = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endDate")
			return
		}
		params.EndDate = &t
	}
	docs, pg, err := s.app.SearchDocuments(params)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", searchResponse{Documents: docs, Pagination: pg})
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "", doc)
	case http.MethodPut:
		if !requireRole(w, user, domain.RoleAdmin) {
			return
		}
		form, upload, ok := s.parseDocumentForm(w, r)
		if !ok {
			return
		}
		if upload != nil {
			defer upload.close()
		}
		doc, err := s.app.UpdateDocument(r.Context(), user, id, app.UpdateDocumentInput{
			Company:        form.company,
			DocumentNumber: form.number,
			DocumentDate:   form.date,
		}, upload.input())
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Document updated successfully", doc)
	case http.MethodDelete:
		if !requireRole(w, user, domain.RoleAdmin) {
			return
		}
		if err := s.app.DeleteDocument(r.Context(), user, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Document deleted successfully", nil)
	default:
		methodNotAllowed(w)
	}
}

// notification handlers

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		var isRead *bool
		if v := q.Get("isRead"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid isRead")
				return
			}
			isRead = &b
		}
		items, unread, pg, err := s.app.ListNotifications(user.ID, isRead, intQuery(q.Get("page")), intQuery(q.Get("limit")))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "", notificationsResponse{
			Notifications: items,
			UnreadCount:   unread,
			Pagination:    pg,
		})
	case http.MethodDelete:
		if err := s.app.DeleteAllNotifications(user.ID); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "All notifications deleted", nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	unread, err := s.app.UnreadCount(user.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]int64{"unreadCount": unread})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if err := s.app.MarkAllNotificationsRead(user.ID); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, "All notifications marked as read", nil)
}

func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	switch {
	case strings.HasSuffix(rest, "/read"):
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		id := strings.TrimSuffix(rest, "/read")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		notif, err := s.app.MarkNotificationRead(user.ID, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Notification marked as read", notif)
	default:
		id := rest
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteNotification(user.ID, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Notification deleted", nil)
	}
}

// multipart parsing

type documentForm struct {
	docType string
	company string
	number  *int
	date    *time.Time
}

type formUpload struct {
	file   io.ReadCloser
	size   int64
	header string
}

func (u *formUpload) close() {
	if u != nil && u.file != nil {
		_ = u.file.Close()
	}
}

func (u *formUpload) input() *app.ImageUpload {
	if u == nil {
		return nil
	}
	return &app.ImageUpload{Reader: u.file, Size: u.size, ContentType: u.header}
}

func (s *Server) parseDocumentForm(w http.ResponseWriter, r *http.Request) (documentForm, *formUpload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return documentForm{}, nil, false
	}
	form := documentForm{
		docType: strings.ToUpper(strings.TrimSpace(r.FormValue("type"))),
		company: strings.TrimSpace(r.FormValue("company")),
	}
	if v := strings.TrimSpace(r.FormValue("documentNumber")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid documentNumber")
			return documentForm{}, nil, false
		}
		form.number = &n
	}
	if v := strings.TrimSpace(r.FormValue("documentDate")); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid documentDate")
			return documentForm{}, nil, false
		}
		form.date = &t
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return form, nil, true
		}
		writeError(w, http.StatusBadRequest, "invalid image upload")
		return documentForm{}, nil, false
	}
	return form, &formUpload{
		file:   file,
		size:   header.Size,
		header: header.Header.Get("Content-Type"),
	}, true
}

// helpers

func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	key := r.URL.Path + "|" + clientIP(r)
	if s.loginLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
	return false
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrAccountDisabled), errors.Is(err, app.ErrSelfDeletion):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrUsernameTaken), errors.Is(err, app.ErrDocumentNumberTaken):
		writeError(w, http.StatusConflict, err.Error())
	case app.IsValidation(err), errors.Is(err, app.ErrWrongPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeInternalError(w, err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func intQuery(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// request / response shapes

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type profileRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userUpdateRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsActive *bool  `json:"isActive"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type searchResponse struct {
	Documents  []domain.Document `json:"documents"`
	Pagination app.Pagination    `json:"pagination"`
}

type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unreadCount"`
	Pagination    app.Pagination        `json:"pagination"`
}

// envelope

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg, Error: msg})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, envelope{
		Success: false,
		Message: "Internal server error",
		Error:   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
