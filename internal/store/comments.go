package store

import (
	"context"
	"fmt"
)

func (s *SQLStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO comments (id, file_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, comment.ID, comment.FileID, comment.AuthorID, comment.Body, stamp(comment.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertReply(ctx context.Context, reply CommentReply) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO comment_replies (id, comment_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, reply.ID, reply.CommentID, reply.AuthorID, reply.Body, stamp(reply.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert comment reply: %w", err)
	}
	return nil
}

func (s *SQLStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.q.QueryRowContext(ctx, `
		SELECT c.id, c.file_id, c.author_id, u.display_name, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id = ?
	`, commentID).Scan(&comment.ID, &comment.FileID, &comment.AuthorID, &comment.AuthorName, &comment.Body, &comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("get comment %s: %w", commentID, err)
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	return comment, nil
}

// CommentBelongsTo reports whether commentID is a comment on fileID.
func (s *SQLStore) CommentBelongsTo(ctx context.Context, commentID, fileID string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE id = ? AND file_id = ?`, commentID, fileID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check comment file: %w", err)
	}
	return n > 0, nil
}

// ListComments returns a file's comments with their replies, both oldest
// first.
func (s *SQLStore) ListComments(ctx context.Context, fileID string) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.file_id, c.author_id, u.display_name, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.file_id = ?
		ORDER BY c.created_at ASC, c.id ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	var comments []Comment
	index := map[string]int{}
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.FileID, &comment.AuthorID, &comment.AuthorName, &comment.Body, &comment.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comment.CreatedAt = comment.CreatedAt.UTC()
		index[comment.ID] = len(comments)
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list comments: %w", err)
	}
	rows.Close()
	if len(comments) == 0 {
		return comments, nil
	}

	replyRows, err := s.q.QueryContext(ctx, `
		SELECT r.id, r.comment_id, r.author_id, u.display_name, r.body, r.created_at
		FROM comment_replies r
		JOIN comments c ON c.id = r.comment_id
		JOIN users u ON u.id = r.author_id
		WHERE c.file_id = ?
		ORDER BY r.created_at ASC, r.id ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list comment replies: %w", err)
	}
	defer replyRows.Close()
	for replyRows.Next() {
		var reply CommentReply
		if err := replyRows.Scan(&reply.ID, &reply.CommentID, &reply.AuthorID, &reply.AuthorName, &reply.Body, &reply.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment reply: %w", err)
		}
		reply.CreatedAt = reply.CreatedAt.UTC()
		if i, ok := index[reply.CommentID]; ok {
			comments[i].Replies = append(comments[i].Replies, reply)
		}
	}
	return comments, replyRows.Err()
}
