// Package authpw provides email/password sign-in and admin-mediated
// password resets.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"filegate/api/internal/rbac"
	"filegate/api/internal/store"
	"filegate/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

const minPasswordLength = 8

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) (bool, error)
	InsertPasswordResetRequest(ctx context.Context, req store.PasswordResetRequest) error
	ResolvePasswordResetRequests(ctx context.Context, userID, resolvedBy string, at time.Time) (int64, error)
	PendingPasswordResetCount(ctx context.Context, userID string) (int, error)
}

// ResetNotifier tells admins about a reset request.
type ResetNotifier interface {
	EmitPasswordReset(ctx context.Context, user store.User)
}

// Service provides email/password authentication
type Service struct {
	store    UserStore
	notifier ResetNotifier
	cost     int
	now      func() time.Time
	newID    func() string
}

func NewService(store UserStore, notifier ResetNotifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		newID:    util.NewID,
	}
}

// SignIn authenticates a user. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// CreateUserRequest contains the admin's new account parameters
type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        rbac.Role
	Team        string
}

func (r CreateUserRequest) validate() error {
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if len(r.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r.Role)
	}
	if r.Role != rbac.RoleAdmin && strings.TrimSpace(r.Team) == "" {
		return fmt.Errorf("%w: team is required for %s", ErrInvalidInput, r.Role)
	}
	return nil
}

// CreateUser adds an account. Only admins reach this.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (store.User, error) {
	if err := req.validate(); err != nil {
		return store.User{}, err
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           s.newID(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: string(hash),
		Role:         req.Role,
		Team:         strings.TrimSpace(req.Team),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	user.UpdatedAt = user.CreatedAt
	return user, nil
}

// EnsureAdmin creates an admin account for email unless one already exists
// under that address. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !store.IsNotFound(err) {
		return false, err
	}
	if _, err := s.CreateUser(ctx, CreateUserRequest{
		Email:       email,
		Password:    password,
		DisplayName: "Administrator",
		Role:        rbac.RoleAdmin,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// RequestPasswordReset records a request and tells the admins. Unknown
// emails succeed silently; a request already pending is not duplicated.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	pending, err := s.store.PendingPasswordResetCount(ctx, user.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	if err := s.store.InsertPasswordResetRequest(ctx, store.PasswordResetRequest{
		ID:        s.newID(),
		UserID:    user.ID,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.EmitPasswordReset(ctx, user)
	}
	return nil
}

// SetPassword is the admin side of a reset: it replaces the hash and closes
// the user's pending requests.
func (s *Service) SetPassword(ctx context.Context, userID, newPassword, adminID string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	ok, err := s.store.UpdatePasswordHash(ctx, userID, string(hash), now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set password for %s: %w", userID, store.ErrNotFound)
	}
	if _, err := s.store.ResolvePasswordResetRequests(ctx, userID, adminID, now); err != nil {
		return err
	}
	return nil
}
