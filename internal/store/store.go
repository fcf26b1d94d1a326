package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"filegate/api/internal/dbx"
	"filegate/api/internal/lifecycle"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = sql.ErrNoRows

// SQLStore persists files, comments, users and notifications. The same SQL
// runs on PostgreSQL and SQLite; queries use "?" placeholders and are rebound
// per dialect. Timestamps are always supplied by the caller in UTC.
type SQLStore struct {
	db      *sql.DB
	dialect dbx.Dialect
	q       dbx.DBTX
}

func NewSQLStore(db *sql.DB, dialect dbx.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, q: dbx.Bound(dialect, db)}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() dbx.Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Writer is the set of writes that take part in a status transaction.
type Writer interface {
	CASStatus(ctx context.Context, fileID string, expected, next lifecycle.Status, at time.Time) (bool, error)
	InsertStatusChange(ctx context.Context, change StatusChange) error
	CreateFile(ctx context.Context, file FileRecord) error
}

// InTx runs fn against a store bound to a single transaction. The store passed
// to fn must not be retained after fn returns.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &SQLStore{db: s.db, dialect: s.dialect, q: dbx.Bound(s.dialect, tx)})
	})
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return stamp(*t)
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

const fileColumns = `
	f.id, f.original_name, f.object_key, f.content_type, f.size_bytes, f.description,
	f.status, f.uploader_id, u.display_name, f.team, f.supersedes_file_id, prev.status,
	f.priority, f.due_date, f.created_at, f.updated_at`

const fileFrom = `
	FROM files f
	JOIN users u ON u.id = f.uploader_id
	LEFT JOIN files prev ON prev.id = f.supersedes_file_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (FileRecord, error) {
	var (
		file       FileRecord
		status     string
		supersedes sql.NullString
		prevStatus sql.NullString
		priority   string
		dueDate    sql.NullTime
	)
	err := row.Scan(
		&file.ID, &file.OriginalName, &file.ObjectKey, &file.ContentType, &file.SizeBytes, &file.Description,
		&status, &file.UploaderID, &file.UploaderName, &file.Team, &supersedes, &prevStatus,
		&priority, &dueDate, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return FileRecord{}, err
	}
	file.Status = lifecycle.Status(status)
	file.Priority = Priority(priority)
	if supersedes.Valid {
		id := supersedes.String
		file.SupersedesFileID = &id
	}
	if prevStatus.Valid {
		prev := lifecycle.Status(prevStatus.String)
		file.SupersededStatus = &prev
	}
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		file.DueDate = &due
	}
	file.CreatedAt = file.CreatedAt.UTC()
	file.UpdatedAt = file.UpdatedAt.UTC()
	return file, nil
}

func (s *SQLStore) CreateFile(ctx context.Context, file FileRecord) error {
	if file.Priority == "" {
		file.Priority = PriorityNormal
	}
	if file.ContentType == "" {
		file.ContentType = "application/octet-stream"
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO files (
			id, original_name, object_key, content_type, size_bytes, description,
			status, uploader_id, team, supersedes_file_id, priority, due_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, file.ID, file.OriginalName, file.ObjectKey, file.ContentType, file.SizeBytes, file.Description,
		string(file.Status), file.UploaderID, file.Team, nullableString(file.SupersedesFileID), string(file.Priority),
		nullableTime(file.DueDate), stamp(file.CreatedAt), stamp(file.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *SQLStore) GetFile(ctx context.Context, fileID string) (FileRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+fileColumns+fileFrom+` WHERE f.id = ?`, fileID)
	file, err := scanFile(row)
	if err != nil {
		return FileRecord{}, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return file, nil
}

func (s *SQLStore) GetCurrentStatus(ctx context.Context, fileID string) (lifecycle.Status, error) {
	var status string
	err := s.q.QueryRowContext(ctx, `SELECT status FROM files WHERE id = ?`, fileID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("read file status %s: %w", fileID, err)
	}
	return lifecycle.Status(status), nil
}

// CASStatus moves a file to next only if its stored status still equals
// expected. It reports false when another writer got there first.
func (s *SQLStore) CASStatus(ctx context.Context, fileID string, expected, next lifecycle.Status, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE files SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(next), stamp(at), fileID, string(expected))
	if err != nil {
		return false, fmt.Errorf("compare-and-set file status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare-and-set file status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) InsertStatusChange(ctx context.Context, change StatusChange) error {
	var old any
	if change.OldStatus != nil {
		old = string(*change.OldStatus)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO file_status_history (id, file_id, old_status, new_status, action, actor_id, comment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, change.ID, change.FileID, old, string(change.NewStatus), change.Action, change.ActorID,
		nullableString(change.CommentID), stamp(change.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

func (s *SQLStore) ListStatusHistory(ctx context.Context, fileID string) ([]StatusChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT h.id, h.file_id, h.old_status, h.new_status, h.action, h.actor_id, u.display_name, h.comment_id, h.created_at
		FROM file_status_history h
		JOIN users u ON u.id = h.actor_id
		WHERE h.file_id = ?
		ORDER BY h.created_at ASC, h.id ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var (
			change    StatusChange
			oldStatus sql.NullString
			newStatus string
			commentID sql.NullString
		)
		if err := rows.Scan(&change.ID, &change.FileID, &oldStatus, &newStatus, &change.Action, &change.ActorID,
			&change.ActorName, &commentID, &change.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		change.NewStatus = lifecycle.Status(newStatus)
		if oldStatus.Valid {
			old := lifecycle.Status(oldStatus.String)
			change.OldStatus = &old
		}
		if commentID.Valid {
			id := commentID.String
			change.CommentID = &id
		}
		change.CreatedAt = change.CreatedAt.UTC()
		out = append(out, change)
	}
	return out, rows.Err()
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func (s *SQLStore) ListFiles(ctx context.Context, filter FileFilter) ([]FileRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "f.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Team != "" {
		where = append(where, "f.team = ?")
		args = append(args, filter.Team)
	}
	if filter.UploaderID != "" {
		where = append(where, "f.uploader_id = ?")
		args = append(args, filter.UploaderID)
	}
	if filter.Priority != "" {
		where = append(where, "f.priority = ?")
		args = append(args, string(filter.Priority))
	}
	query := `SELECT ` + fileColumns + fileFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.created_at DESC, f.id ASC"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]FileRecord, error) {
	var out []FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, file)
	}
	return out, rows.Err()
}

// ListOverdue returns files still waiting on a reviewer whose due date has
// passed.
func (s *SQLStore) ListOverdue(ctx context.Context, now time.Time) ([]FileRecord, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+fileColumns+fileFrom+`
		WHERE f.due_date IS NOT NULL AND f.due_date < ? AND f.status IN (?, ?)
		ORDER BY f.due_date ASC
	`, stamp(now), string(lifecycle.StatusPendingTeamLeader), string(lifecycle.StatusPendingAdmin))
	if err != nil {
		return nil, fmt.Errorf("list overdue files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLStore) SetPriority(ctx context.Context, fileID string, priority Priority, at time.Time) (bool, error) {
	if !priority.Valid() {
		return false, fmt.Errorf("invalid priority %q", priority)
	}
	return s.updateFile(ctx, `UPDATE files SET priority = ?, updated_at = ? WHERE id = ?`, string(priority), stamp(at), fileID)
}

func (s *SQLStore) SetDueDate(ctx context.Context, fileID string, due *time.Time, at time.Time) (bool, error) {
	return s.updateFile(ctx, `UPDATE files SET due_date = ?, updated_at = ? WHERE id = ?`, nullableTime(due), stamp(at), fileID)
}

func (s *SQLStore) updateFile(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update file rows: %w", err)
	}
	return affected > 0, nil
}

// IsNotFound reports whether err came from a lookup that matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
