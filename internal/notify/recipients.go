package notify

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"filegate/api/internal/rbac"
	"filegate/api/internal/store"
)

// Directory is the read side the notifier needs from the store.
type Directory interface {
	GetFile(ctx context.Context, fileID string) (store.FileRecord, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsersByRole(ctx context.Context, role rbac.Role, team string) ([]store.User, error)
}

// Recipients resolves reviewers with a short-lived cache; role and team
// membership change rarely compared to how often events fire.
type Recipients struct {
	dir    Directory
	groups *expirable.LRU[string, []store.User]
	users  *expirable.LRU[string, store.User]
}

func NewRecipients(dir Directory, size int, ttl time.Duration) *Recipients {
	if size <= 0 {
		size = 256
	}
	return &Recipients{
		dir:    dir,
		groups: expirable.NewLRU[string, []store.User](size, nil, ttl),
		users:  expirable.NewLRU[string, store.User](size, nil, ttl),
	}
}

func (r *Recipients) TeamLeaders(ctx context.Context, team string) ([]store.User, error) {
	return r.group(ctx, rbac.RoleTeamLeader, team)
}

func (r *Recipients) Admins(ctx context.Context) ([]store.User, error) {
	return r.group(ctx, rbac.RoleAdmin, "")
}

func (r *Recipients) group(ctx context.Context, role rbac.Role, team string) ([]store.User, error) {
	key := string(role) + "|" + team
	if users, ok := r.groups.Get(key); ok {
		return users, nil
	}
	users, err := r.dir.ListUsersByRole(ctx, role, team)
	if err != nil {
		return nil, err
	}
	r.groups.Add(key, users)
	return users, nil
}

func (r *Recipients) User(ctx context.Context, userID string) (store.User, error) {
	if user, ok := r.users.Get(userID); ok {
		return user, nil
	}
	user, err := r.dir.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	r.users.Add(userID, user)
	return user, nil
}

// Invalidate drops every cached entry, e.g. after a user is created.
func (r *Recipients) Invalidate() {
	r.groups.Purge()
	r.users.Purge()
}
