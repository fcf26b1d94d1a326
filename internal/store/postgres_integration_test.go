package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"filegate/api/internal/dbx"
	"filegate/api/internal/lifecycle"
	"filegate/api/internal/rbac"
)

func newPostgresStore(t *testing.T) (*SQLStore, Options) {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("TEST_INTEGRATION is not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("filegate_test"),
		postgres.WithUsername("filegate"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	opts := Options{Dialect: dbx.Postgres, DatabaseURL: dsn}
	require.NoError(t, Migrate(opts, slog.New(slog.NewTextHandler(io.Discard, nil))))
	db, err := Open(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, dbx.Postgres), opts
}

func TestPostgresMigrationsRoundTrip(t *testing.T) {
	s, opts := newPostgresStore(t)
	ctx := context.Background()
	require.NoError(t, s.VerifyLifecycle(ctx, lifecycle.Default()))

	require.NoError(t, MigrateDown(opts))
	require.NoError(t, Migrate(opts, slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, s.VerifyLifecycle(ctx, lifecycle.Default()))
}

func TestPostgresConcurrentCASHasOneWinner(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusPendingTeamLeader)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.CASStatus(ctx, "f1", lifecycle.StatusPendingTeamLeader, lifecycle.StatusPendingAdmin, testNow)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestPostgresCommentsAndNotifications(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", rbac.RoleUser, "alpha")
	seedUser(t, s, "tl", rbac.RoleTeamLeader, "alpha")
	seedFile(t, s, "f1", "u1", lifecycle.StatusPendingTeamLeader)

	require.NoError(t, s.InsertComment(ctx, Comment{ID: "c1", FileID: "f1", AuthorID: "tl", Body: "needs a cover page", CreatedAt: testNow}))
	require.NoError(t, s.InsertReply(ctx, CommentReply{ID: "r1", CommentID: "c1", AuthorID: "u1", Body: "added", CreatedAt: testNow.Add(time.Minute)}))
	comments, err := s.ListComments(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Len(t, comments[0].Replies, 1)

	fileID := "f1"
	require.NoError(t, s.InsertNotification(ctx, Notification{ID: "n1", RecipientID: "u1", Type: "comment", FileID: &fileID, Title: "New comment", CreatedAt: testNow}))
	ok, err := s.MarkNotificationRead(ctx, "n1", "tl", testNow)
	require.NoError(t, err)
	require.False(t, ok)

	hits, err := s.SearchComments(ctx, "cover", SearchScope{Team: "alpha"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
