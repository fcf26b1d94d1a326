package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"filegate/api/internal/auth"
	"filegate/api/internal/authpw"
	"filegate/api/internal/blob"
	"filegate/api/internal/config"
	"filegate/api/internal/export"
	"filegate/api/internal/filename"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/notify"
	"filegate/api/internal/rbac"
	"filegate/api/internal/search"
	"filegate/api/internal/store"
	"filegate/api/internal/util"
	"filegate/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         rbac.Role
	Team         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetFile(ctx context.Context, fileID string) (store.FileRecord, error)
	ListFiles(ctx context.Context, filter store.FileFilter) ([]store.FileRecord, error)
	ListStatusHistory(ctx context.Context, fileID string) ([]store.StatusChange, error)
	SetPriority(ctx context.Context, fileID string, priority store.Priority, at time.Time) (bool, error)
	SetDueDate(ctx context.Context, fileID string, due *time.Time, at time.Time) (bool, error)
	InsertComment(ctx context.Context, comment store.Comment) error
	InsertReply(ctx context.Context, reply store.CommentReply) error
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListComments(ctx context.Context, fileID string) ([]store.Comment, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, recipientID string, at time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	UnreadNotificationCount(ctx context.Context, recipientID string) (int, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, blob.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type fileWorkflow interface {
	Transition(ctx context.Context, req workflow.Request) (lifecycle.Status, error)
	Upload(ctx context.Context, req workflow.UploadRequest) (store.FileRecord, error)
	Resubmit(ctx context.Context, req workflow.ResubmitRequest) (store.FileRecord, error)
}

type accounts interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
	CreateUser(ctx context.Context, req authpw.CreateUserRequest) (store.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	SetPassword(ctx context.Context, userID, newPassword, adminID string) error
}

type commentNotifier interface {
	EmitComment(ctx context.Context, event notify.CommentEvent)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexFile(file store.FileRecord)
	IndexComment(comment store.Comment, file store.FileRecord)
}

type reporter interface {
	Report(ctx context.Context, fileID string) (*export.Result, error)
	FileList(files []store.FileRecord) (*export.Result, error)
}

// directoryCache is the recipients cache that must forget users after an
// account change.
type directoryCache interface {
	Invalidate()
}

// Deps are the collaborators the service is assembled from. Notifier,
// Search and Directory are optional.
type Deps struct {
	Store      dataStore
	Sessions   sessionStore
	Blobs      objectStore
	Workflow   fileWorkflow
	Definition *lifecycle.Definition
	Accounts   accounts
	Notifier   commentNotifier
	Search     searcher
	Export     reporter
	Directory  directoryCache
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    objectStore
	workflow fileWorkflow
	def      *lifecycle.Definition
	accounts accounts
	notifier commentNotifier
	search   searcher
	export   reporter
	dir      directoryCache
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(cfg config.Config, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := deps.Definition
	if def == nil {
		def = lifecycle.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		blobs:    deps.Blobs,
		workflow: deps.Workflow,
		def:      def,
		accounts: deps.Accounts,
		notifier: deps.Notifier,
		search:   deps.Search,
		export:   deps.Export,
		dir:      deps.Directory,
		logger:   logger,
		now:      time.Now,
		newID:    util.NewID,
	}
}

func (s *Service) Ready(ctx context.Context) map[string]string {
	checks := map[string]string{}
	record := func(name string, err error) {
		if err != nil {
			s.logger.Warn("readiness check failed", slog.String("component", name), slog.Any("error", err))
			checks[name] = "unavailable"
			return
		}
		checks[name] = "ok"
	}
	record("database", s.store.Ping(ctx))
	if s.sessions != nil {
		record("redis", s.sessions.Ping(ctx))
	}
	if s.blobs != nil {
		record("storage", s.blobs.Ping(ctx))
	}
	return checks
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Sessions

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and the user is
// reloaded so role and team changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	jti := s.newID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID, ID: jti},
		Name:             user.DisplayName,
		Role:             user.Role,
		Team:             user.Team,
	}, s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, err
	}

	refresh := s.newID() + s.newID()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Team:         user.Team,
		JTI:          jti,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
	}, nil
}

// SessionFromToken validates an access token. Role and team come from the
// user row, not the token, so a demotion applies on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     user.Role,
		Team:     user.Team,
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.accounts.RequestPasswordReset(ctx, email)
}

// Admin

func (s *Service) CreateUser(ctx context.Context, session Session, req authpw.CreateUserRequest) (store.User, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return store.User{}, errForbidden
	}
	user, err := s.accounts.CreateUser(ctx, req)
	if err != nil {
		return store.User{}, err
	}
	if s.dir != nil {
		s.dir.Invalidate()
	}
	s.logger.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.String("admin_id", session.UserID),
	)
	return user, nil
}

// SetPassword replaces a user's password and signs them out everywhere.
func (s *Service) SetPassword(ctx context.Context, session Session, userID, password string) error {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return errForbidden
	}
	if err := s.accounts.SetPassword(ctx, userID, password, session.UserID); err != nil {
		return err
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("password set by admin", slog.String("user_id", userID), slog.String("admin_id", session.UserID))
	return nil
}

// Files

type FileView struct {
	ID               string     `json:"id"`
	OriginalName     string     `json:"originalName"`
	ContentType      string     `json:"contentType"`
	SizeBytes        int64      `json:"sizeBytes"`
	Description      string     `json:"description"`
	Status           string     `json:"status"`
	Label            string     `json:"label"`
	UploaderID       string     `json:"uploaderId"`
	UploaderName     string     `json:"uploaderName"`
	Team             string     `json:"team"`
	SupersedesFileID *string    `json:"supersedesFileId"`
	Priority         string     `json:"priority"`
	DueDate          *time.Time `json:"dueDate"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	AllowedActions   []string   `json:"allowedActions"`
}

func (s *Service) fileView(file store.FileRecord, session Session) FileView {
	actions := []string{}
	for _, action := range s.def.AllowedActions(file.Status, session.Role) {
		actions = append(actions, string(action))
	}
	return FileView{
		ID:               file.ID,
		OriginalName:     file.OriginalName,
		ContentType:      file.ContentType,
		SizeBytes:        file.SizeBytes,
		Description:      file.Description,
		Status:           string(file.Status),
		Label:            s.def.DisplayLabel(file.Status, file.SupersededStatus),
		UploaderID:       file.UploaderID,
		UploaderName:     file.UploaderName,
		Team:             file.Team,
		SupersedesFileID: file.SupersedesFileID,
		Priority:         string(file.Priority),
		DueDate:          file.DueDate,
		CreatedAt:        file.CreatedAt,
		UpdatedAt:        file.UpdatedAt,
		AllowedActions:   actions,
	}
}

// canView: admins see every file, team leaders their team's, users their own.
func canView(session Session, file store.FileRecord) bool {
	switch {
	case rbac.Can(session.Role, rbac.ActionReadAll):
		return true
	case session.Role == rbac.RoleTeamLeader:
		return file.Team == session.Team
	default:
		return file.UploaderID == session.UserID
	}
}

// visibleFile loads a file and hides it behind NOT_FOUND when the caller
// may not see it.
func (s *Service) visibleFile(ctx context.Context, session Session, fileID string) (store.FileRecord, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return store.FileRecord{}, err
	}
	if !canView(session, file) {
		return store.FileRecord{}, errNotFound
	}
	return file, nil
}

// scopeFilter narrows a listing to what the caller may see.
func scopeFilter(session Session, filter store.FileFilter) store.FileFilter {
	switch {
	case rbac.Can(session.Role, rbac.ActionReadAll):
	case session.Role == rbac.RoleTeamLeader:
		filter.Team = session.Team
	default:
		filter.UploaderID = session.UserID
	}
	return filter
}

type FileQuery struct {
	Status     string
	Team       string
	UploaderID string
	Priority   string
	Limit      int
	Offset     int
}

func (q FileQuery) filter() (store.FileFilter, error) {
	filter := store.FileFilter{
		Team:       strings.TrimSpace(q.Team),
		UploaderID: strings.TrimSpace(q.UploaderID),
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	if q.Status != "" {
		status, err := lifecycle.ParseStatus(q.Status)
		if err != nil {
			return store.FileFilter{}, invalidInput("INVALID_STATUS", fmt.Sprintf("Unknown status %q", q.Status))
		}
		filter.Status = status
	}
	if q.Priority != "" {
		priority := store.Priority(strings.ToLower(q.Priority))
		if !priority.Valid() {
			return store.FileFilter{}, invalidInput("INVALID_PRIORITY", fmt.Sprintf("Unknown priority %q", q.Priority))
		}
		filter.Priority = priority
	}
	return filter, nil
}

func (s *Service) listVisible(ctx context.Context, session Session, query FileQuery) ([]store.FileRecord, error) {
	filter, err := query.filter()
	if err != nil {
		return nil, err
	}
	return s.store.ListFiles(ctx, scopeFilter(session, filter))
}

func (s *Service) ListFiles(ctx context.Context, session Session, query FileQuery) ([]FileView, error) {
	files, err := s.listVisible(ctx, session, query)
	if err != nil {
		return nil, err
	}
	out := make([]FileView, 0, len(files))
	for _, file := range files {
		out = append(out, s.fileView(file, session))
	}
	return out, nil
}

func (s *Service) GetFile(ctx context.Context, session Session, fileID string) (FileView, error) {
	file, err := s.visibleFile(ctx, session, fileID)
	if err != nil {
		return FileView{}, err
	}
	return s.fileView(file, session), nil
}

// UploadInput is one multipart upload. Body is read exactly once.
type UploadInput struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	Description string
	Priority    string
	DueDate     *time.Time
}

func (s *Service) newFile(ctx context.Context, in UploadInput) (workflow.NewFile, error) {
	name := filename.Clean(in.Name)
	if name == "" {
		return workflow.NewFile{}, invalidInput("INVALID_FILENAME", "File name is required")
	}
	priority := store.Priority(strings.ToLower(strings.TrimSpace(in.Priority)))
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !priority.Valid() {
		return workflow.NewFile{}, invalidInput("INVALID_PRIORITY", fmt.Sprintf("Unknown priority %q", in.Priority))
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := s.newID()
	key := util.ObjectKey(id)
	size, err := s.blobs.Put(ctx, key, in.Body, in.Size, contentType)
	if err != nil {
		return workflow.NewFile{}, fmt.Errorf("store contents: %w", err)
	}
	return workflow.NewFile{
		ID:           id,
		OriginalName: name,
		ObjectKey:    key,
		ContentType:  contentType,
		SizeBytes:    size,
		Description:  strings.TrimSpace(in.Description),
		Priority:     priority,
		DueDate:      in.DueDate,
	}, nil
}

// discard removes contents whose record was never written.
func (s *Service) discard(file workflow.NewFile) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, file.ObjectKey); err != nil {
		s.logger.Warn("discard orphaned object", slog.String("key", file.ObjectKey), slog.Any("error", err))
	}
}

// Upload stores the contents, records the file in uploaded and, when
// auto-submit is on, submits it for review straight away.
func (s *Service) Upload(ctx context.Context, session Session, in UploadInput) (FileView, error) {
	if !s.Can(session.Role, rbac.ActionUpload) {
		return FileView{}, errForbidden
	}
	if session.Role != rbac.RoleAdmin && session.Team == "" {
		return FileView{}, invalidInput("NO_TEAM", "Uploader has no team")
	}
	file, err := s.newFile(ctx, in)
	if err != nil {
		return FileView{}, err
	}
	record, err := s.workflow.Upload(ctx, workflow.UploadRequest{File: file, ActorID: session.UserID, Team: session.Team})
	if err != nil {
		s.discard(file)
		return FileView{}, err
	}
	if s.cfg.AutoSubmit {
		if _, err := s.workflow.Transition(ctx, workflow.Request{
			FileID:  record.ID,
			Action:  lifecycle.ActionSubmit,
			ActorID: session.UserID,
			Role:    session.Role,
			Team:    session.Team,
		}); err != nil {
			s.logger.Warn("auto-submit failed", slog.String("file_id", record.ID), slog.Any("error", err))
		}
	}
	return s.reloaded(ctx, session, record)
}

// Resubmit replaces a rejected or sent-back file with new contents.
func (s *Service) Resubmit(ctx context.Context, session Session, oldFileID string, in UploadInput) (FileView, error) {
	if _, err := s.visibleFile(ctx, session, oldFileID); err != nil {
		return FileView{}, err
	}
	file, err := s.newFile(ctx, in)
	if err != nil {
		return FileView{}, err
	}
	record, err := s.workflow.Resubmit(ctx, workflow.ResubmitRequest{
		OldFileID: oldFileID,
		ActorID:   session.UserID,
		Role:      session.Role,
		File:      file,
	})
	if err != nil {
		s.discard(file)
		return FileView{}, err
	}
	return s.reloaded(ctx, session, record)
}

// reloaded rereads a freshly written record so joined fields are filled,
// then pushes it to the search index.
func (s *Service) reloaded(ctx context.Context, session Session, record store.FileRecord) (FileView, error) {
	fresh, err := s.store.GetFile(ctx, record.ID)
	if err != nil {
		return FileView{}, err
	}
	if s.search != nil {
		s.search.IndexFile(fresh)
	}
	return s.fileView(fresh, session), nil
}

func (s *Service) Transition(ctx context.Context, session Session, fileID, action, commentID string) (FileView, error) {
	if _, err := s.visibleFile(ctx, session, fileID); err != nil {
		return FileView{}, err
	}
	parsed, err := lifecycle.ParseAction(action)
	if err != nil {
		return FileView{}, err
	}
	if parsed == lifecycle.ActionResubmit {
		return FileView{}, invalidInput("RESUBMIT_NEEDS_UPLOAD", "Resubmission requires new contents")
	}
	if _, err := s.workflow.Transition(ctx, workflow.Request{
		FileID:    fileID,
		Action:    parsed,
		ActorID:   session.UserID,
		Role:      session.Role,
		Team:      session.Team,
		CommentID: commentID,
	}); err != nil {
		return FileView{}, err
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return FileView{}, err
	}
	if s.search != nil {
		s.search.IndexFile(file)
	}
	return s.fileView(file, session), nil
}

// OpenContent streams a file's stored contents. The caller closes the reader.
func (s *Service) OpenContent(ctx context.Context, session Session, fileID string) (io.ReadCloser, store.FileRecord, error) {
	file, err := s.visibleFile(ctx, session, fileID)
	if err != nil {
		return nil, store.FileRecord{}, err
	}
	body, _, err := s.blobs.Get(ctx, file.ObjectKey)
	if err != nil {
		return nil, store.FileRecord{}, err
	}
	return body, file, nil
}

// reviewable loads a file a team leader or admin may edit scheduling on.
func (s *Service) reviewable(ctx context.Context, session Session, fileID string) (store.FileRecord, error) {
	if !s.Can(session.Role, rbac.ActionSetPriority) {
		return store.FileRecord{}, errForbidden
	}
	return s.visibleFile(ctx, session, fileID)
}

func (s *Service) SetPriority(ctx context.Context, session Session, fileID, priority string) (FileView, error) {
	if _, err := s.reviewable(ctx, session, fileID); err != nil {
		return FileView{}, err
	}
	p := store.Priority(strings.ToLower(strings.TrimSpace(priority)))
	if !p.Valid() {
		return FileView{}, invalidInput("INVALID_PRIORITY", fmt.Sprintf("Unknown priority %q", priority))
	}
	ok, err := s.store.SetPriority(ctx, fileID, p, s.now().UTC())
	if err != nil {
		return FileView{}, err
	}
	if !ok {
		return FileView{}, errNotFound
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return FileView{}, err
	}
	return s.fileView(file, session), nil
}

// SetDueDate sets or, with nil, clears the due date.
func (s *Service) SetDueDate(ctx context.Context, session Session, fileID string, due *time.Time) (FileView, error) {
	if _, err := s.reviewable(ctx, session, fileID); err != nil {
		return FileView{}, err
	}
	ok, err := s.store.SetDueDate(ctx, fileID, due, s.now().UTC())
	if err != nil {
		return FileView{}, err
	}
	if !ok {
		return FileView{}, errNotFound
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return FileView{}, err
	}
	return s.fileView(file, session), nil
}

type HistoryView struct {
	ID        string    `json:"id"`
	OldStatus *string   `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	CommentID *string   `json:"commentId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) History(ctx context.Context, session Session, fileID string) ([]HistoryView, error) {
	if _, err := s.visibleFile(ctx, session, fileID); err != nil {
		return nil, err
	}
	changes, err := s.store.ListStatusHistory(ctx, fileID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryView, 0, len(changes))
	for _, c := range changes {
		view := HistoryView{
			ID:        c.ID,
			NewStatus: string(c.NewStatus),
			Action:    c.Action,
			ActorID:   c.ActorID,
			ActorName: c.ActorName,
			CommentID: c.CommentID,
			CreatedAt: c.CreatedAt,
		}
		if c.OldStatus != nil {
			old := string(*c.OldStatus)
			view.OldStatus = &old
		}
		out = append(out, view)
	}
	return out, nil
}

// Comments

type ReplyView struct {
	ID         string    `json:"id"`
	CommentID  string    `json:"commentId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type CommentView struct {
	ID         string      `json:"id"`
	FileID     string      `json:"fileId"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	Body       string      `json:"body"`
	CreatedAt  time.Time   `json:"createdAt"`
	Replies    []ReplyView `json:"replies"`
}

func replyView(r store.CommentReply) ReplyView {
	return ReplyView{
		ID: r.ID, CommentID: r.CommentID, AuthorID: r.AuthorID,
		AuthorName: r.AuthorName, Body: r.Body, CreatedAt: r.CreatedAt,
	}
}

func commentView(c store.Comment) CommentView {
	replies := make([]ReplyView, 0, len(c.Replies))
	for _, r := range c.Replies {
		replies = append(replies, replyView(r))
	}
	return CommentView{
		ID: c.ID, FileID: c.FileID, AuthorID: c.AuthorID, AuthorName: c.AuthorName,
		Body: c.Body, CreatedAt: c.CreatedAt, Replies: replies,
	}
}

func (s *Service) Comments(ctx context.Context, session Session, fileID string) ([]CommentView, error) {
	if _, err := s.visibleFile(ctx, session, fileID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, fileID)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentView(c))
	}
	return out, nil
}

func commentBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", invalidInput("EMPTY_COMMENT", "Comment body is required")
	}
	return body, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, fileID, body string) (CommentView, error) {
	if !s.Can(session.Role, rbac.ActionComment) {
		return CommentView{}, errForbidden
	}
	file, err := s.visibleFile(ctx, session, fileID)
	if err != nil {
		return CommentView{}, err
	}
	body, err = commentBody(body)
	if err != nil {
		return CommentView{}, err
	}
	comment := store.Comment{
		ID:         s.newID(),
		FileID:     fileID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return CommentView{}, err
	}
	s.commented(ctx, notify.CommentEvent{FileID: fileID, CommentID: comment.ID, AuthorID: session.UserID})
	if s.search != nil {
		s.search.IndexComment(comment, file)
	}
	return commentView(comment), nil
}

func (s *Service) AddReply(ctx context.Context, session Session, fileID, commentID, body string) (ReplyView, error) {
	if !s.Can(session.Role, rbac.ActionComment) {
		return ReplyView{}, errForbidden
	}
	if _, err := s.visibleFile(ctx, session, fileID); err != nil {
		return ReplyView{}, err
	}
	parent, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return ReplyView{}, err
	}
	if parent.FileID != fileID {
		return ReplyView{}, errNotFound
	}
	body, err = commentBody(body)
	if err != nil {
		return ReplyView{}, err
	}
	reply := store.CommentReply{
		ID:         s.newID(),
		CommentID:  commentID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return ReplyView{}, err
	}
	s.commented(ctx, notify.CommentEvent{FileID: fileID, CommentID: commentID, AuthorID: session.UserID, Reply: true})
	return replyView(reply), nil
}

func (s *Service) commented(ctx context.Context, event notify.CommentEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitComment(context.WithoutCancel(ctx), event)
}

// Notifications

type NotificationView struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	FileID    *string    `json:"fileId"`
	ActorID   *string    `json:"actorId"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	IsRead    bool       `json:"isRead"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
}

type NotificationList struct {
	Items       []NotificationView `json:"items"`
	UnreadCount int                `json:"unreadCount"`
}

func (s *Service) Notifications(ctx context.Context, session Session, unreadOnly bool, limit int) (NotificationList, error) {
	items, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly, limit)
	if err != nil {
		return NotificationList{}, err
	}
	unread, err := s.store.UnreadNotificationCount(ctx, session.UserID)
	if err != nil {
		return NotificationList{}, err
	}
	out := NotificationList{Items: make([]NotificationView, 0, len(items)), UnreadCount: unread}
	for _, n := range items {
		out.Items = append(out.Items, NotificationView{
			ID: n.ID, Type: n.Type, FileID: n.FileID, ActorID: n.ActorID, Title: n.Title,
			Message: n.Message, IsRead: n.IsRead, CreatedAt: n.CreatedAt, ReadAt: n.ReadAt,
		})
	}
	return out, nil
}

// MarkNotificationRead flips the read flag. Another user's notification is
// reported as missing.
func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	ok, err := s.store.MarkNotificationRead(ctx, notificationID, session.UserID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID, s.now().UTC())
}

// Search and export

func (s *Service) Search(ctx context.Context, session Session, text, resultType string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, invalidInput("EMPTY_QUERY", "Search query is required")
	}
	typ := search.ResultType(resultType)
	if !typ.Valid() {
		return search.Response{}, invalidInput("INVALID_TYPE", fmt.Sprintf("Unknown result type %q", resultType))
	}
	scope := scopeFilter(session, store.FileFilter{})
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: typ,
		Team:       scope.Team,
		UploaderID: scope.UploaderID,
		Limit:      limit,
	}), nil
}

func (s *Service) Report(ctx context.Context, session Session, fileID string) (*export.Result, error) {
	if !s.Can(session.Role, rbac.ActionExportReport) {
		return nil, errForbidden
	}
	if _, err := s.visibleFile(ctx, session, fileID); err != nil {
		return nil, err
	}
	result, err := s.export.Report(ctx, fileID)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			s.logger.Warn("pdf export unavailable", slog.Any("error", err))
		}
		return nil, err
	}
	return result, nil
}

// ExportFiles renders the caller's visible listing as a workbook.
func (s *Service) ExportFiles(ctx context.Context, session Session, query FileQuery) (*export.Result, error) {
	files, err := s.listVisible(ctx, session, query)
	if err != nil {
		return nil, err
	}
	return s.export.FileList(files)
}
