package export

import (
	"context"
	"fmt"
	"time"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/store"
)

// DataStore is the read side the report needs.
type DataStore interface {
	GetFile(ctx context.Context, fileID string) (store.FileRecord, error)
	ListStatusHistory(ctx context.Context, fileID string) ([]store.StatusChange, error)
	ListComments(ctx context.Context, fileID string) ([]store.Comment, error)
}

// Service provides report and listing exports
type Service struct {
	store    DataStore
	def      *lifecycle.Definition
	renderer PDFRenderer
	now      func() time.Time
}

func NewService(store DataStore, def *lifecycle.Definition, renderer PDFRenderer) *Service {
	if def == nil {
		def = lifecycle.Default()
	}
	return &Service{store: store, def: def, renderer: renderer, now: time.Now}
}

// ReportHTML assembles a file's metadata, status history and comments.
func (s *Service) ReportHTML(ctx context.Context, fileID string) (string, store.FileRecord, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return "", store.FileRecord{}, fmt.Errorf("get file: %w", err)
	}
	history, err := s.store.ListStatusHistory(ctx, fileID)
	if err != nil {
		return "", store.FileRecord{}, fmt.Errorf("list history: %w", err)
	}
	comments, err := s.store.ListComments(ctx, fileID)
	if err != nil {
		return "", store.FileRecord{}, fmt.Errorf("list comments: %w", err)
	}

	data := ReportData{
		FileName:    file.OriginalName,
		Label:       s.def.DisplayLabel(file.Status, file.SupersededStatus),
		Uploader:    file.UploaderName,
		Team:        file.Team,
		Priority:    string(file.Priority),
		Description: file.Description,
		DueDate:     file.DueDate,
		CreatedAt:   file.CreatedAt,
		GeneratedAt: s.now(),
	}
	if file.SupersedesFileID != nil {
		data.Supersedes = *file.SupersedesFileID
	}
	for _, h := range history {
		entry := HistoryEntry{To: string(h.NewStatus), Action: h.Action, Actor: h.ActorName, At: h.CreatedAt}
		if h.OldStatus != nil {
			entry.From = string(*h.OldStatus)
		}
		data.History = append(data.History, entry)
	}
	for _, c := range comments {
		rc := ReportComment{Author: c.AuthorName, Body: c.Body, At: c.CreatedAt}
		for _, r := range c.Replies {
			rc.Replies = append(rc.Replies, ReportReply{Author: r.AuthorName, Body: r.Body, At: r.CreatedAt})
		}
		data.Comments = append(data.Comments, rc)
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return "", store.FileRecord{}, fmt.Errorf("render template: %w", err)
	}
	return html, file, nil
}

// Report renders the review report as PDF.
func (s *Service) Report(ctx context.Context, fileID string) (*Result, error) {
	html, file, err := s.ReportHTML(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: no renderer configured", ErrPDFDependencyMissing)
	}
	data, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(file.OriginalName) + "-review.pdf",
		MimeType: "application/pdf",
	}, nil
}

// FileList renders the given files as an XLSX workbook.
func (s *Service) FileList(files []store.FileRecord) (*Result, error) {
	rows := make([]FileRow, 0, len(files))
	for _, f := range files {
		row := FileRow{
			ID:       f.ID,
			Name:     f.OriginalName,
			Label:    s.def.DisplayLabel(f.Status, f.SupersededStatus),
			Team:     f.Team,
			Uploader: f.UploaderName,
			Priority: string(f.Priority),
			Size:     f.SizeBytes,
			Uploaded: f.CreatedAt.UTC().Format(time.RFC3339),
		}
		if f.DueDate != nil {
			row.DueDate = f.DueDate.UTC().Format(time.DateOnly)
		}
		rows = append(rows, row)
	}
	data, err := renderFileList(rows)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: "files-" + s.now().UTC().Format("20060102") + ".xlsx",
		MimeType: xlsxMimeType,
	}, nil
}
