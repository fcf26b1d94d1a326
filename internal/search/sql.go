package search

import (
	"context"

	"filegate/api/internal/store"
)

// Fallback is the store-side search used when the index is down.
type Fallback interface {
	SearchFiles(ctx context.Context, query string, scope store.SearchScope, limit int) ([]store.FileRecord, error)
	SearchComments(ctx context.Context, query string, scope store.SearchScope, limit int) ([]store.CommentHit, error)
}

// SQL runs LIKE queries against the primary database.
type SQL struct {
	store Fallback
}

func NewSQL(s Fallback) *SQL {
	return &SQL{store: s}
}

func (s *SQL) Search(ctx context.Context, q Query) ([]Result, error) {
	scope := store.SearchScope{Team: q.Team, UploaderID: q.UploaderID}
	var results []Result

	if q.FilterType == "" || q.FilterType == ResultFile {
		files, err := s.store.SearchFiles(ctx, q.Text, scope, q.Limit)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			results = append(results, Result{
				Type: ResultFile, ID: f.ID, FileID: f.ID, Title: f.OriginalName, Snippet: f.Description,
				Team: f.Team, Status: string(f.Status), uploaderID: f.UploaderID,
			})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		hits, err := s.store.SearchComments(ctx, q.Text, scope, q.Limit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			results = append(results, Result{
				Type: ResultComment, ID: h.CommentID, FileID: h.FileID, Title: h.FileName, Snippet: h.Body,
				Team: h.Team, uploaderID: h.UploaderID,
			})
		}
	}
	return results, nil
}
