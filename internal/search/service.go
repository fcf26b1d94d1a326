package search

import (
	"context"
	"log/slog"

	"filegate/api/internal/store"
)

// Index is the search engine side. *Meili satisfies it.
type Index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexFiles(files []FileRecord) error
	IndexComments(comments []CommentRecord) error
}

// Source loads everything searchable for a full reindex.
type Source interface {
	ListFiles(ctx context.Context, filter store.FileFilter) ([]store.FileRecord, error)
	IndexableComments(ctx context.Context) ([]store.CommentHit, error)
}

// Service tries the index first and falls back to SQL.
type Service struct {
	index  Index
	sql    *SQL
	logger *slog.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, sql *SQL, logger *slog.Logger) *Service {
	return &Service{index: index, sql: sql, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			results = visible(results, q)
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "index"}
		}
		s.logger.Warn("search index error, falling back to sql", slog.Any("error", err))
	}

	results, err := s.sql.Search(ctx, q)
	if err != nil {
		s.logger.Error("sql search", slog.Any("error", err))
		return Response{Results: []Result{}, Query: q.Text, Source: "sql"}
	}
	results = visible(results, q)
	return Response{Results: nonNil(results), Total: len(results), Query: q.Text, Source: "sql"}
}

// IndexFile pushes a file to the index in the background.
func (s *Service) IndexFile(file store.FileRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	record := fileRecord(file)
	go func() {
		if err := s.index.IndexFiles([]FileRecord{record}); err != nil {
			s.logger.Warn("index file", slog.String("file_id", record.ID), slog.Any("error", err))
		}
	}()
}

// IndexComment pushes a comment to the index in the background.
func (s *Service) IndexComment(comment store.Comment, file store.FileRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	record := CommentRecord{
		ID: comment.ID, Body: comment.Body, FileID: file.ID, FileName: file.OriginalName,
		Team: file.Team, UploaderID: file.UploaderID,
	}
	go func() {
		if err := s.index.IndexComments([]CommentRecord{record}); err != nil {
			s.logger.Warn("index comment", slog.String("comment_id", record.ID), slog.Any("error", err))
		}
	}()
}

// Reindex loads every file and comment from the store and pushes them to
// the index. Called at startup when the index is reachable.
func (s *Service) Reindex(ctx context.Context, src Source) error {
	if s.index == nil || !s.index.Healthy() {
		return nil
	}
	const page = 500
	for offset := 0; ; offset += page {
		files, err := src.ListFiles(ctx, store.FileFilter{Limit: page, Offset: offset})
		if err != nil {
			return err
		}
		records := make([]FileRecord, 0, len(files))
		for _, f := range files {
			records = append(records, fileRecord(f))
		}
		if err := s.index.IndexFiles(records); err != nil {
			return err
		}
		if len(files) < page {
			break
		}
	}

	hits, err := src.IndexableComments(ctx)
	if err != nil {
		return err
	}
	comments := make([]CommentRecord, 0, len(hits))
	for _, h := range hits {
		comments = append(comments, CommentRecord{
			ID: h.CommentID, Body: h.Body, FileID: h.FileID, FileName: h.FileName, Team: h.Team, UploaderID: h.UploaderID,
		})
	}
	return s.index.IndexComments(comments)
}

func fileRecord(f store.FileRecord) FileRecord {
	return FileRecord{
		ID: f.ID, OriginalName: f.OriginalName, Description: f.Description,
		Team: f.Team, UploaderID: f.UploaderID, Status: string(f.Status),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
