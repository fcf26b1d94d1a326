package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"filegate/api/internal/rbac"
)

const userColumns = `id, email, display_name, password_hash, role, team, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var (
		user User
		role string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &role, &user.Team, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Role = rbac.Normalize(role)
	return user, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.DisplayName, user.PasswordHash,
		string(user.Role), user.Team, stamp(user.CreatedAt), stamp(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// ListUsersByRole lists users holding role. An empty team matches every team.
func (s *SQLStore) ListUsersByRole(ctx context.Context, role rbac.Role, team string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ?`
	args := []any{string(role)}
	if team != "" {
		query += ` AND team = ?`
		args = append(args, team)
	}
	query += ` ORDER BY display_name ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, stamp(at), userID)
	if err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update password rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) InsertPasswordResetRequest(ctx context.Context, req PasswordResetRequest) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO password_reset_requests (id, user_id, status, created_at)
		VALUES (?, ?, 'pending', ?)
	`, req.ID, req.UserID, stamp(req.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert password reset request: %w", err)
	}
	return nil
}

// ResolvePasswordResetRequests closes every pending request of a user.
func (s *SQLStore) ResolvePasswordResetRequests(ctx context.Context, userID, resolvedBy string, at time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE password_reset_requests
		SET status = 'resolved', resolved_at = ?, resolved_by = ?
		WHERE user_id = ? AND status = 'pending'
	`, stamp(at), resolvedBy, userID)
	if err != nil {
		return 0, fmt.Errorf("resolve password reset requests: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) PendingPasswordResetCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM password_reset_requests WHERE user_id = ? AND status = 'pending'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count password reset requests: %w", err)
	}
	return n, nil
}
