package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *SQLStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, file_id, actor_id, title, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.RecipientID, n.Type, nullableString(n.FileID), nullableString(n.ActorID), n.Title, n.Message, false, stamp(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, recipient_id, type, file_id, actor_id, title, message, is_read, created_at, read_at
		FROM notifications
		WHERE recipient_id = ?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND is_read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n       Notification
			fileID  sql.NullString
			actorID sql.NullString
			readAt  sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &fileID, &actorID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if fileID.Valid {
			v := fileID.String
			n.FileID = &v
		}
		if actorID.Valid {
			v := actorID.String
			n.ActorID = &v
		}
		if readAt.Valid {
			v := readAt.Time.UTC()
			n.ReadAt = &v
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips the read flag only when recipientID owns the
// notification.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID string, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET is_read = ?, read_at = ?
		WHERE id = ? AND recipient_id = ? AND is_read = ?
	`, true, stamp(at), notificationID, recipientID, false)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	// Already read is still a success for the owner.
	var n int
	err = s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE id = ? AND recipient_id = ?`, notificationID, recipientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check notification owner: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET is_read = ?, read_at = ?
		WHERE recipient_id = ? AND is_read = ?
	`, true, stamp(at), recipientID, false)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = ?`, recipientID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
