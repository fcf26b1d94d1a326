package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"filegate/api/internal/authpw"
	"filegate/api/internal/blob"
	"filegate/api/internal/config"
	"filegate/api/internal/dbx"
	"filegate/api/internal/export"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/notify"
	"filegate/api/internal/rbac"
	"filegate/api/internal/search"
	"filegate/api/internal/session"
	"filegate/api/internal/store"
	"filegate/api/internal/workflow"
)

const testPassword = "correct-horse"

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event lifecycle.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) actions() []lifecycle.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]lifecycle.Action, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Action)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.CommentEvent
}

func (n *recordingNotifier) EmitComment(_ context.Context, event notify.CommentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type stubRenderer struct{}

func (stubRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	return []byte("%PDF-1.7 " + html[:min(len(html), 16)]), nil
}

type stubStream struct {
	userIDs []string
}

func (s *stubStream) Serve(w http.ResponseWriter, _ *http.Request, userID string) {
	s.userIDs = append(s.userIDs, userID)
	w.WriteHeader(http.StatusOK)
}

type invalidations struct{ count int }

func (i *invalidations) Invalidate() { i.count++ }

type harness struct {
	t        *testing.T
	store    *store.SQLStore
	redis    *miniredis.Miniredis
	blobs    *blob.Memory
	service  *Service
	handler  http.Handler
	events   *recordingEmitter
	comments *recordingNotifier
	stream   *stubStream
	dir      *invalidations
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	opts := store.Options{Dialect: dbx.SQLite, SQLitePath: filepath.Join(t.TempDir(), "filegate.db")}
	require.NoError(t, store.Migrate(opts, logger))
	db, err := store.Open(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.NewSQLStore(db, dbx.SQLite)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     time.Hour,
		CORSOrigin:     "*",
		MaxUploadBytes: 1 << 20,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	def := lifecycle.Default()
	events := &recordingEmitter{}
	comments := &recordingNotifier{}
	stream := &stubStream{}
	dir := &invalidations{}
	blobs := blob.NewMemory()

	service := NewService(cfg, Deps{
		Store:      st,
		Sessions:   session.NewRedisStoreWithClient(client),
		Blobs:      blobs,
		Workflow:   workflow.NewService(st, lifecycle.NewMachine(def), events, logger),
		Definition: def,
		Accounts:   authpw.NewService(st, nil),
		Notifier:   comments,
		Search:     search.NewService(nil, search.NewSQL(st), logger),
		Export:     export.NewService(st, def, stubRenderer{}),
		Directory:  dir,
	}, logger)

	return &harness{
		t:        t,
		store:    st,
		redis:    mr,
		blobs:    blobs,
		service:  service,
		handler:  NewHTTPServer(service, stream, "*", logger).Handler(),
		events:   events,
		comments: comments,
		stream:   stream,
		dir:      dir,
	}
}

func (h *harness) seedUser(id string, role rbac.Role, team string) store.User {
	h.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(h.t, err)
	user := store.User{
		ID:           id,
		Email:        id + "@example.test",
		DisplayName:  "User " + id,
		PasswordHash: string(hash),
		Role:         role,
		Team:         team,
		CreatedAt:    testNow,
	}
	require.NoError(h.t, h.store.CreateUser(context.Background(), user))
	return user
}

func (h *harness) seedFile(id, uploaderID, team string, status lifecycle.Status, mutate ...func(*store.FileRecord)) store.FileRecord {
	h.t.Helper()
	file := store.FileRecord{
		ID:           id,
		OriginalName: id + ".pdf",
		ObjectKey:    "files/" + id,
		ContentType:  "application/pdf",
		SizeBytes:    4,
		Status:       status,
		UploaderID:   uploaderID,
		Team:         team,
		Priority:     store.PriorityNormal,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	for _, fn := range mutate {
		fn(&file)
	}
	require.NoError(h.t, h.store.CreateFile(context.Background(), file))
	return file
}

// login issues a session without going through the password check.
func (h *harness) login(userID string) Session {
	h.t.Helper()
	ctx := context.Background()
	user, err := h.store.GetUserByID(ctx, userID)
	require.NoError(h.t, err)
	session, err := h.service.issueSession(ctx, user)
	require.NoError(h.t, err)
	return session
}

func (h *harness) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) doJSON(method, path, token string, payload any) *httptest.ResponseRecorder {
	h.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(raw)
	}
	return h.do(method, path, token, body, "application/json")
}

func (h *harness) upload(path, token, name string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", name)
	require.NoError(h.t, err)
	_, err = part.Write(content)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())
	return h.do(http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.Equal(t, code, decodeMap(t, rec)["code"])
}

func items(t *testing.T, rec *httptest.ResponseRecorder) []any {
	t.Helper()
	list, ok := decodeMap(t, rec)["items"].([]any)
	require.True(t, ok, rec.Body.String())
	return list
}
