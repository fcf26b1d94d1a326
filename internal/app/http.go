package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"filegate/api/internal/authpw"
	"filegate/api/internal/rbac"
)

// NotificationStream serves a user's live notification websocket.
type NotificationStream interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string)
}

type HTTPServer struct {
	service    *Service
	stream     NotificationStream
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, stream NotificationStream, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, stream: stream, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.withRequest, withMetrics)
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/auth/password-reset/request", s.handlePasswordResetRequest)

		r.Get("/notifications/ws", s.handleNotificationStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Post("/admin/users", s.handleCreateUser)
			r.Put("/admin/users/{id}/password", s.handleSetPassword)

			r.Get("/files", s.handleListFiles)
			r.Post("/files", s.handleUpload)
			r.Get("/files/export.xlsx", s.handleExportFiles)
			r.Route("/files/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFile)
				r.Get("/content", s.handleContent)
				r.Post("/transitions", s.handleTransition)
				r.Post("/resubmit", s.handleResubmit)
				r.Put("/priority", s.handleSetPriority)
				r.Put("/due-date", s.handleSetDueDate)
				r.Get("/history", s.handleHistory)
				r.Get("/comments", s.handleListComments)
				r.Post("/comments", s.handleAddComment)
				r.Post("/comments/{commentId}/replies", s.handleAddReply)
				r.Get("/report.pdf", s.handleReport)
			})

			r.Get("/search", s.handleSearch)

			r.Get("/notifications", s.handleListNotifications)
			r.Post("/notifications/read-all", s.handleMarkAllRead)
			r.Post("/notifications/{id}/read", s.handleMarkRead)
		})
	})
	return router
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.authenticate(w, r, bearerToken(r))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) authenticate(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("session lookup failed", slog.String("request_id", RequestID(r.Context())), slog.Any("error", err))
			message = "Session lookup failed"
		}
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

// fail writes err as a JSON error and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := s.service.Ready(r.Context())
	status := http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
		"user": map[string]any{
			"id":   session.UserID,
			"name": session.UserName,
			"role": session.Role,
			"team": session.Team,
		},
	}
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePasswordResetRequest answers 202 whether or not the email has an
// account.
func (s *HTTPServer) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "email is required", nil)
		return
	}
	if err := s.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "If the account exists, an administrator has been notified"})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
		Team        string `json:"team"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.CreateUser(r.Context(), sessionFrom(r), authpw.CreateUserRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        rbac.Role(strings.TrimSpace(body.Role)),
		Team:        body.Team,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
		"team":        user.Team,
	})
}

func (s *HTTPServer) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SetPassword(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func fileQuery(r *http.Request) FileQuery {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return FileQuery{
		Status:     q.Get("status"),
		Team:       q.Get("team"),
		UploaderID: q.Get("uploader"),
		Priority:   q.Get("priority"),
		Limit:      limit,
		Offset:     offset,
	}
}

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.ListFiles(r.Context(), sessionFrom(r), fileQuery(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (s *HTTPServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.service.GetFile(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// uploadInput reads the multipart form. The returned closer releases the
// part and any temporary files.
func (s *HTTPServer) uploadInput(w http.ResponseWriter, r *http.Request) (UploadInput, func(), error) {
	maxBytes := s.service.cfg.MaxUploadBytes
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return UploadInput{}, nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Sprintf("Upload exceeds %d bytes", maxBytes), nil)
		}
		return UploadInput{}, nil, domainError(http.StatusBadRequest, "INVALID_UPLOAD", "Expected a multipart form", nil)
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		return UploadInput{}, nil, domainError(http.StatusBadRequest, "INVALID_UPLOAD", "Form field \"file\" is required", nil)
	}
	cleanup := func() {
		_ = part.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	due, err := parseDueDate(r.FormValue("dueDate"))
	if err != nil {
		cleanup()
		return UploadInput{}, nil, err
	}
	contentType := header.Header.Get("Content-Type")
	if mediaType, _, perr := mime.ParseMediaType(contentType); perr == nil {
		contentType = mediaType
	}
	return UploadInput{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        part,
		Description: r.FormValue("description"),
		Priority:    r.FormValue("priority"),
		DueDate:     due,
	}, cleanup, nil
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.uploadInput(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanup()
	file, err := s.service.Upload(r.Context(), sessionFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *HTTPServer) handleResubmit(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.uploadInput(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanup()
	file, err := s.service.Resubmit(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *HTTPServer) handleContent(w http.ResponseWriter, r *http.Request) {
	body, file, err := s.service.OpenContent(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalName}))
	if file.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("stream file contents", slog.String("file_id", file.ID), slog.Any("error", err))
	}
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action    string `json:"action"`
		CommentID string `json:"commentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	file, err := s.service.Transition(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Action, body.CommentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *HTTPServer) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority string `json:"priority"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	file, err := s.service.SetPriority(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// parseDueDate accepts a calendar date or an RFC 3339 timestamp; blank
// means no due date.
func parseDueDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, invalidInput("INVALID_DUE_DATE", fmt.Sprintf("Cannot parse due date %q", value))
}

func (s *HTTPServer) handleSetDueDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DueDate *string `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var due *time.Time
	if body.DueDate != nil {
		parsed, err := parseDueDate(*body.DueDate)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		due = parsed
	}
	file, err := s.service.SetDueDate(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), due)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.History(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.service.Comments(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": comments})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.AddComment(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handleAddReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	reply, err := s.service.AddReply(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func writeDownload(w http.ResponseWriter, data []byte, filename, mimeType string) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Report(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDownload(w, result.Data, result.Filename, result.MimeType)
}

func (s *HTTPServer) handleExportFiles(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportFiles(r.Context(), sessionFrom(r), fileQuery(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDownload(w, result.Data, result.Filename, result.MimeType)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	response, err := s.service.Search(r.Context(), sessionFrom(r), q.Get("q"), q.Get("type"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	unreadOnly, _ := strconv.ParseBool(q.Get("unread"))
	list, err := s.service.Notifications(r.Context(), sessionFrom(r), unreadOnly, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := s.service.MarkAllNotificationsRead(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// handleNotificationStream authenticates from the query string as well,
// since browsers cannot set headers on a websocket handshake.
func (s *HTTPServer) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Notification stream not configured", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	session, ok := s.authenticate(w, r, token)
	if !ok {
		return
	}
	w.Header().Del("Content-Type")
	s.stream.Serve(w, r, session.UserID)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
