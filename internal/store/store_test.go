package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"filegate/api/internal/dbx"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/rbac"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	opts := Options{Dialect: dbx.SQLite, SQLitePath: filepath.Join(t.TempDir(), "filegate.db")}
	require.NoError(t, Migrate(opts, slog.New(slog.NewTextHandler(io.Discard, nil))))
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, dbx.SQLite)
}

func seedUser(t *testing.T, s *SQLStore, id string, role rbac.Role, team string) User {
	t.Helper()
	user := User{
		ID:           id,
		Email:        id + "@example.test",
		DisplayName:  "User " + id,
		PasswordHash: "hash",
		Role:         role,
		Team:         team,
		CreatedAt:    testNow,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func seedFile(t *testing.T, s *SQLStore, id, uploaderID string, status lifecycle.Status, mutate ...func(*FileRecord)) FileRecord {
	t.Helper()
	file := FileRecord{
		ID:           id,
		OriginalName: id + ".pdf",
		ObjectKey:    "files/" + id,
		SizeBytes:    42,
		Status:       status,
		UploaderID:   uploaderID,
		Team:         "alpha",
		CreatedAt:    testNow,
	}
	for _, fn := range mutate {
		fn(&file)
	}
	require.NoError(t, s.CreateFile(context.Background(), file))
	return file
}

func TestMigrateInstallsCurrentLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.VerifyLifecycle(context.Background(), lifecycle.Default()))
}

func TestMigrateDownThenUp(t *testing.T) {
	opts := Options{Dialect: dbx.SQLite, SQLitePath: filepath.Join(t.TempDir(), "roundtrip.db")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(opts, logger))
	require.NoError(t, MigrateDown(opts))
	require.NoError(t, Migrate(opts, logger))
}

func TestVerifyLifecycleDetectsDrift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, `DELETE FROM file_statuses WHERE name = 'under_revision'`)
	require.NoError(t, err)
	require.ErrorContains(t, s.VerifyLifecycle(ctx, lifecycle.Default()), "missing under_revision")
}

func TestCreateAndGetFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	due := testNow.Add(48 * time.Hour)
	seedFile(t, s, "f1", "u1", lifecycle.StatusUploaded, func(f *FileRecord) {
		f.Priority = PriorityUrgent
		f.DueDate = &due
		f.Description = "quarterly report"
	})

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusUploaded, got.Status)
	require.Equal(t, PriorityUrgent, got.Priority)
	require.Equal(t, "User u1", got.UploaderName)
	require.NotNil(t, got.DueDate)
	require.True(t, got.DueDate.Equal(due))
	require.Nil(t, got.SupersedesFileID)

	_, err = s.GetFile(ctx, "missing")
	require.True(t, IsNotFound(err))
}

func TestUnknownStatusIsRejectedByForeignKey(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	err := s.CreateFile(context.Background(), FileRecord{
		ID: "f1", OriginalName: "x", ObjectKey: "k", Status: lifecycle.Status("archived"), UploaderID: "u1", CreatedAt: testNow,
	})
	require.Error(t, err)
}

func TestCASStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusUploaded)

	ok, err := s.CASStatus(ctx, "f1", lifecycle.StatusUploaded, lifecycle.StatusPendingTeamLeader, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CASStatus(ctx, "f1", lifecycle.StatusUploaded, lifecycle.StatusPendingTeamLeader, testNow)
	require.NoError(t, err)
	require.False(t, ok, "stale expected status must lose")

	status, err := s.GetCurrentStatus(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusPendingTeamLeader, status)
}

func TestInTxRollsBackStatusAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusUploaded)

	err := s.InTx(ctx, func(ctx context.Context, w Writer) error {
		ok, err := w.CASStatus(ctx, "f1", lifecycle.StatusUploaded, lifecycle.StatusPendingTeamLeader, testNow)
		require.NoError(t, err)
		require.True(t, ok)
		// Unknown actor violates the history foreign key.
		return w.InsertStatusChange(ctx, StatusChange{
			ID: "h1", FileID: "f1", NewStatus: lifecycle.StatusPendingTeamLeader, Action: "submit", ActorID: "ghost", CreatedAt: testNow,
		})
	})
	require.Error(t, err)

	status, err := s.GetCurrentStatus(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusUploaded, status)
}

func TestStatusHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusUploaded)
	old := lifecycle.StatusUploaded
	require.NoError(t, s.InsertStatusChange(ctx, StatusChange{ID: "h1", FileID: "f1", NewStatus: lifecycle.StatusUploaded, Action: "upload", ActorID: "u1", CreatedAt: testNow}))
	require.NoError(t, s.InsertStatusChange(ctx, StatusChange{ID: "h2", FileID: "f1", OldStatus: &old, NewStatus: lifecycle.StatusPendingTeamLeader, Action: "submit", ActorID: "u1", CreatedAt: testNow.Add(time.Minute)}))

	history, err := s.ListStatusHistory(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Nil(t, history[0].OldStatus)
	require.Equal(t, lifecycle.StatusUploaded, *history[1].OldStatus)
	require.Equal(t, "User u1", history[1].ActorName)
}

func TestListFilesFiltersAndSupersededStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedUser(t, s, "u2", rbac.RoleUser, "beta")
	seedFile(t, s, "old", "u1", lifecycle.StatusRejectedByAdmin)
	seedFile(t, s, "new", "u1", lifecycle.StatusUploaded, func(f *FileRecord) {
		prev := "old"
		f.SupersedesFileID = &prev
		f.CreatedAt = testNow.Add(time.Hour)
	})
	seedFile(t, s, "other", "u2", lifecycle.StatusUploaded, func(f *FileRecord) { f.Team = "beta" })

	files, err := s.ListFiles(ctx, FileFilter{Team: "alpha"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "new", files[0].ID)
	require.NotNil(t, files[0].SupersededStatus)
	require.Equal(t, lifecycle.StatusRejectedByAdmin, *files[0].SupersededStatus)

	files, err = s.ListFiles(ctx, FileFilter{Status: lifecycle.StatusUploaded, UploaderID: "u2"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "other", files[0].ID)

	old, err := s.GetFile(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusRejectedByAdmin, old.Status)
}

func TestListFilesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	for i := 0; i < maxListLimit+2; i++ {
		seedFile(t, s, fmt.Sprintf("f%04d", i), "u1", lifecycle.StatusUploaded)
	}

	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: defaultListLimit},
		{name: "explicit", limit: 7, want: 7},
		{name: "at cap", limit: maxListLimit, want: maxListLimit},
		{name: "over cap", limit: 1000, want: maxListLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files, err := s.ListFiles(ctx, FileFilter{Limit: tc.limit})
			require.NoError(t, err)
			require.Len(t, files, tc.want)
		})
	}

	files, err := s.ListFiles(ctx, FileFilter{Limit: 1000, Offset: maxListLimit})
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestPriorityAndDueDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusPendingTeamLeader)

	ok, err := s.SetPriority(ctx, "f1", PriorityHigh, testNow)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.SetPriority(ctx, "f1", Priority("extreme"), testNow)
	require.Error(t, err)

	due := testNow.Add(-time.Hour)
	ok, err = s.SetDueDate(ctx, "f1", &due, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	overdue, err := s.ListOverdue(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, PriorityHigh, overdue[0].Priority)

	ok, err = s.SetDueDate(ctx, "f1", nil, testNow)
	require.NoError(t, err)
	require.True(t, ok)
	overdue, err = s.ListOverdue(ctx, testNow)
	require.NoError(t, err)
	require.Empty(t, overdue)
}

func TestCommentsWithReplies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedUser(t, s, "tl", rbac.RoleTeamLeader, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusPendingTeamLeader)
	seedFile(t, s, "f2", "u1", lifecycle.StatusPendingTeamLeader)

	require.NoError(t, s.InsertComment(ctx, Comment{ID: "c2", FileID: "f1", AuthorID: "tl", Body: "second", CreatedAt: testNow.Add(time.Minute)}))
	require.NoError(t, s.InsertComment(ctx, Comment{ID: "c1", FileID: "f1", AuthorID: "tl", Body: "first", CreatedAt: testNow}))
	require.NoError(t, s.InsertReply(ctx, CommentReply{ID: "r1", CommentID: "c1", AuthorID: "u1", Body: "fixed", CreatedAt: testNow.Add(2 * time.Minute)}))

	comments, err := s.ListComments(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Equal(t, "c1", comments[0].ID)
	require.Len(t, comments[0].Replies, 1)
	require.Equal(t, "User u1", comments[0].Replies[0].AuthorName)
	require.Empty(t, comments[1].Replies)

	ok, err := s.CommentBelongsTo(ctx, "c1", "f1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.CommentBelongsTo(ctx, "c1", "f2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotificationsReadFlagIsRecipientOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedUser(t, s, "u2", rbac.RoleUser, "alpha")
	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, s.InsertNotification(ctx, Notification{ID: id, RecipientID: "u1", Type: "approval", Title: "Approved", CreatedAt: testNow}))
	}

	ok, err := s.MarkNotificationRead(ctx, "n1", "u2", testNow)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.MarkNotificationRead(ctx, "n1", "u1", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkNotificationRead(ctx, "n1", "u1", testNow)
	require.NoError(t, err)
	require.True(t, ok, "marking twice is still allowed for the owner")

	unread, err := s.ListNotifications(ctx, "u1", true, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, "n2", unread[0].ID)

	n, err := s.MarkAllNotificationsRead(ctx, "u1", testNow)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	count, err := s.UnreadNotificationCount(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationTypeIsClosed(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	err := s.InsertNotification(context.Background(), Notification{ID: "n1", RecipientID: "u1", Type: "promotion", Title: "x", CreatedAt: testNow})
	require.Error(t, err)
}

func TestUsersAndPasswordResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "a1", rbac.RoleAdmin, "")
	seedUser(t, s, "tl1", rbac.RoleTeamLeader, "alpha")
	seedUser(t, s, "tl2", rbac.RoleTeamLeader, "beta")

	leaders, err := s.ListUsersByRole(ctx, rbac.RoleTeamLeader, "alpha")
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	require.Equal(t, "tl1", leaders[0].ID)

	user, err := s.GetUserByEmail(ctx, "  TL2@example.test ")
	require.NoError(t, err)
	require.Equal(t, rbac.RoleTeamLeader, user.Role)

	require.NoError(t, s.InsertPasswordResetRequest(ctx, PasswordResetRequest{ID: "p1", UserID: "tl2", CreatedAt: testNow}))
	pending, err := s.PendingPasswordResetCount(ctx, "tl2")
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	ok, err := s.UpdatePasswordHash(ctx, "tl2", "new-hash", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	resolved, err := s.ResolvePasswordResetRequests(ctx, "tl2", "a1", testNow)
	require.NoError(t, err)
	require.EqualValues(t, 1, resolved)
}

func TestSearchFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusUploaded, func(f *FileRecord) { f.OriginalName = "Budget_2026.xlsx" })
	seedFile(t, s, "f2", "u1", lifecycle.StatusUploaded, func(f *FileRecord) { f.OriginalName = "notes.txt" })
	require.NoError(t, s.InsertComment(ctx, Comment{ID: "c1", FileID: "f2", AuthorID: "u1", Body: "Budget numbers look off", CreatedAt: testNow}))

	files, err := s.SearchFiles(ctx, "budget", SearchScope{}, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "f1", files[0].ID)

	files, err = s.SearchFiles(ctx, "_2026", SearchScope{}, 10)
	require.NoError(t, err)
	require.Len(t, files, 1)

	files, err = s.SearchFiles(ctx, "budget", SearchScope{Team: "beta"}, 10)
	require.NoError(t, err)
	require.Empty(t, files)

	hits, err := s.SearchComments(ctx, "BUDGET", SearchScope{UploaderID: "u1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "notes.txt", hits[0].FileName)
	require.Equal(t, "alpha", hits[0].Team)

	all, err := s.IndexableComments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
