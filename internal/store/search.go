package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CommentHit is a comment matched by text search, with the owning file's
// scope so callers can filter what a reader may see.
type CommentHit struct {
	CommentID  string
	FileID     string
	FileName   string
	Team       string
	UploaderID string
	Body       string
}

// SearchScope narrows results to what a reader may see. Empty fields do not
// filter.
type SearchScope struct {
	Team       string
	UploaderID string
}

func (sc SearchScope) clauses(where []string, args []any) ([]string, []any) {
	if sc.Team != "" {
		where = append(where, "f.team = ?")
		args = append(args, sc.Team)
	}
	if sc.UploaderID != "" {
		where = append(where, "f.uploader_id = ?")
		args = append(args, sc.UploaderID)
	}
	return where, args
}

func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(strings.TrimSpace(query)))
	return "%" + escaped + "%"
}

func searchLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

// SearchFiles matches name, description and team case-insensitively. It is
// the fallback when the search index is unavailable.
func (s *SQLStore) SearchFiles(ctx context.Context, query string, scope SearchScope, limit int) ([]FileRecord, error) {
	pattern := likePattern(query)
	where := []string{`(LOWER(f.original_name) LIKE ? ESCAPE '\' OR LOWER(f.description) LIKE ? ESCAPE '\' OR LOWER(f.team) LIKE ? ESCAPE '\')`}
	args := []any{pattern, pattern, pattern}
	where, args = scope.clauses(where, args)
	args = append(args, searchLimit(limit))

	rows, err := s.q.QueryContext(ctx, `SELECT `+fileColumns+fileFrom+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY f.created_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *SQLStore) SearchComments(ctx context.Context, query string, scope SearchScope, limit int) ([]CommentHit, error) {
	where := []string{`LOWER(c.body) LIKE ? ESCAPE '\'`}
	args := []any{likePattern(query)}
	where, args = scope.clauses(where, args)
	args = append(args, searchLimit(limit))

	rows, err := s.q.QueryContext(ctx, commentHitSelect+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY c.created_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("search comments: %w", err)
	}
	defer rows.Close()
	return collectCommentHits(rows)
}

// IndexableComments returns every top-level comment for a full reindex.
func (s *SQLStore) IndexableComments(ctx context.Context) ([]CommentHit, error) {
	rows, err := s.q.QueryContext(ctx, commentHitSelect+` ORDER BY c.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list indexable comments: %w", err)
	}
	defer rows.Close()
	return collectCommentHits(rows)
}

const commentHitSelect = `
	SELECT c.id, c.file_id, f.original_name, f.team, f.uploader_id, c.body
	FROM comments c
	JOIN files f ON f.id = c.file_id`

func collectCommentHits(rows *sql.Rows) ([]CommentHit, error) {
	var out []CommentHit
	for rows.Next() {
		var hit CommentHit
		if err := rows.Scan(&hit.CommentID, &hit.FileID, &hit.FileName, &hit.Team, &hit.UploaderID, &hit.Body); err != nil {
			return nil, fmt.Errorf("scan comment hit: %w", err)
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}
