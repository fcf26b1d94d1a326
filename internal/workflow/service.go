// Package workflow applies lifecycle decisions to stored files: it reads the
// current status, asks the state machine, writes the new status with a
// compare-and-set and a history row in one transaction, and only then hands
// the event to the notification emitter.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/rbac"
	"filegate/api/internal/store"
	"filegate/api/internal/util"
)

type Repository interface {
	GetCurrentStatus(ctx context.Context, fileID string) (lifecycle.Status, error)
	GetFile(ctx context.Context, fileID string) (store.FileRecord, error)
	CommentBelongsTo(ctx context.Context, commentID, fileID string) (bool, error)
	InTx(ctx context.Context, fn func(ctx context.Context, w store.Writer) error) error
}

// Emitter receives one event per durable transition. Emit must not block the
// caller on delivery.
type Emitter interface {
	Emit(ctx context.Context, event lifecycle.Event)
}

type Service struct {
	repo    Repository
	machine *lifecycle.Machine
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(repo Repository, machine *lifecycle.Machine, emitter Emitter, logger *slog.Logger, opts ...Option) *Service {
	if machine == nil {
		machine = lifecycle.NewMachine(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:    repo,
		machine: machine,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		newID:   util.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Machine() *lifecycle.Machine {
	return s.machine
}

type Request struct {
	FileID    string
	Action    lifecycle.Action
	ActorID   string
	Role      rbac.Role
	Team      string
	CommentID string
}

// Transition applies an in-place action to a file and returns its new status.
// Resubmission creates a new record and goes through Resubmit instead.
func (s *Service) Transition(ctx context.Context, req Request) (lifecycle.Status, error) {
	status, err := s.transition(ctx, req)
	if err != nil {
		transitionFailuresTotal.WithLabelValues(failureReason(err)).Inc()
	}
	return status, err
}

func (s *Service) transition(ctx context.Context, req Request) (lifecycle.Status, error) {
	file, err := s.repo.GetFile(ctx, req.FileID)
	if err != nil {
		return "", err
	}
	current, err := s.repo.GetCurrentStatus(ctx, req.FileID)
	if err != nil {
		return "", err
	}

	commentID := strings.TrimSpace(req.CommentID)
	decision, err := s.machine.Decide(lifecycle.Input{
		Current:   current,
		Action:    req.Action,
		Role:      req.Role,
		CommentID: commentID,
	})
	if err != nil {
		return "", err
	}
	if decision.SpawnsRecord {
		return "", fmt.Errorf("%w: %s creates a new file record", lifecycle.ErrInvalidTransition, req.Action)
	}
	if err := checkScope(file, req); err != nil {
		return "", err
	}
	if commentID != "" {
		ok, err := s.repo.CommentBelongsTo(ctx, commentID, req.FileID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: comment %s is not on file %s", lifecycle.ErrMissingComment, commentID, req.FileID)
		}
	}

	now := s.now().UTC()
	err = s.repo.InTx(ctx, func(ctx context.Context, w store.Writer) error {
		ok, err := w.CASStatus(ctx, req.FileID, decision.From, decision.To, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: file %s is no longer %s", lifecycle.ErrConflict, req.FileID, decision.From)
		}
		from := decision.From
		return w.InsertStatusChange(ctx, store.StatusChange{
			ID:        s.newID(),
			FileID:    req.FileID,
			OldStatus: &from,
			NewStatus: decision.To,
			Action:    string(decision.Action),
			ActorID:   req.ActorID,
			CommentID: optional(commentID),
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", err
	}

	transitionsTotal.WithLabelValues(string(decision.Action), string(decision.From), string(decision.To)).Inc()
	s.logger.Info("file status changed",
		slog.String("file_id", req.FileID),
		slog.String("action", string(decision.Action)),
		slog.String("from", string(decision.From)),
		slog.String("to", string(decision.To)),
		slog.String("actor_id", req.ActorID),
	)
	s.emit(ctx, decision.Event(req.FileID, req.ActorID, commentID))
	return decision.To, nil
}

// checkScope limits who may act on a particular file beyond the role guard:
// only the uploader submits, and team leaders review only their own team.
func checkScope(file store.FileRecord, req Request) error {
	refuse := func() error {
		return &lifecycle.TransitionError{Kind: lifecycle.ErrUnauthorized, From: file.Status, Action: req.Action, Role: req.Role}
	}
	switch req.Action {
	case lifecycle.ActionSubmit, lifecycle.ActionResubmit:
		if file.UploaderID != req.ActorID && req.Role != rbac.RoleAdmin {
			return refuse()
		}
	case lifecycle.ActionApprove, lifecycle.ActionReject:
		if req.Role == rbac.RoleTeamLeader && file.Team != req.Team {
			return refuse()
		}
	}
	return nil
}

// NewFile describes uploaded contents already written to blob storage.
type NewFile struct {
	ID           string
	OriginalName string
	ObjectKey    string
	ContentType  string
	SizeBytes    int64
	Description  string
	Priority     store.Priority
	DueDate      *time.Time
}

type UploadRequest struct {
	File    NewFile
	ActorID string
	Team    string
}

// Upload records a new file in the initial status.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (store.FileRecord, error) {
	record := s.newRecord(req.File, req.ActorID, req.Team, nil)
	err := s.repo.InTx(ctx, func(ctx context.Context, w store.Writer) error {
		return s.create(ctx, w, record, "upload", req.ActorID)
	})
	if err != nil {
		return store.FileRecord{}, err
	}
	s.logger.Info("file uploaded", slog.String("file_id", record.ID), slog.String("uploader_id", req.ActorID))
	return record, nil
}

type ResubmitRequest struct {
	OldFileID string
	ActorID   string
	Role      rbac.Role
	File      NewFile
}

// Resubmit replaces a rejected or sent-back file with a new record that
// references it. The old record is never modified.
func (s *Service) Resubmit(ctx context.Context, req ResubmitRequest) (store.FileRecord, error) {
	record, err := s.resubmit(ctx, req)
	if err != nil {
		transitionFailuresTotal.WithLabelValues(failureReason(err)).Inc()
	}
	return record, err
}

func (s *Service) resubmit(ctx context.Context, req ResubmitRequest) (store.FileRecord, error) {
	old, err := s.repo.GetFile(ctx, req.OldFileID)
	if err != nil {
		return store.FileRecord{}, err
	}
	decision, err := s.machine.Decide(lifecycle.Input{Current: old.Status, Action: lifecycle.ActionResubmit, Role: req.Role})
	if err != nil {
		return store.FileRecord{}, err
	}
	if !decision.SpawnsRecord {
		return store.FileRecord{}, fmt.Errorf("%w: resubmit must create a new record", lifecycle.ErrInvalidTransition)
	}
	if err := checkScope(old, Request{FileID: old.ID, Action: lifecycle.ActionResubmit, ActorID: req.ActorID, Role: req.Role}); err != nil {
		return store.FileRecord{}, err
	}

	oldID := old.ID
	record := s.newRecord(req.File, old.UploaderID, old.Team, &oldID)
	record.Status = decision.To
	err = s.repo.InTx(ctx, func(ctx context.Context, w store.Writer) error {
		return s.create(ctx, w, record, string(lifecycle.ActionResubmit), req.ActorID)
	})
	if err != nil {
		return store.FileRecord{}, err
	}
	prev := old.Status
	record.SupersededStatus = &prev

	transitionsTotal.WithLabelValues(string(decision.Action), string(decision.From), string(decision.To)).Inc()
	s.logger.Info("file resubmitted",
		slog.String("file_id", record.ID),
		slog.String("supersedes_file_id", old.ID),
		slog.String("actor_id", req.ActorID),
	)
	s.emit(ctx, lifecycle.Event{FileID: record.ID, Old: old.Status, New: record.Status, ActorID: req.ActorID, Action: lifecycle.ActionResubmit})
	return record, nil
}

func (s *Service) newRecord(file NewFile, uploaderID, team string, supersedes *string) store.FileRecord {
	id := file.ID
	if id == "" {
		id = s.newID()
	}
	priority := file.Priority
	if priority == "" {
		priority = store.PriorityNormal
	}
	now := s.now().UTC()
	return store.FileRecord{
		ID:               id,
		OriginalName:     file.OriginalName,
		ObjectKey:        file.ObjectKey,
		ContentType:      file.ContentType,
		SizeBytes:        file.SizeBytes,
		Description:      file.Description,
		Status:           lifecycle.StatusUploaded,
		UploaderID:       uploaderID,
		Team:             team,
		SupersedesFileID: supersedes,
		Priority:         priority,
		DueDate:          file.DueDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Service) create(ctx context.Context, w store.Writer, record store.FileRecord, action, actorID string) error {
	if !record.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", record.Priority)
	}
	if err := w.CreateFile(ctx, record); err != nil {
		return err
	}
	return w.InsertStatusChange(ctx, store.StatusChange{
		ID:        s.newID(),
		FileID:    record.ID,
		NewStatus: record.Status,
		Action:    action,
		ActorID:   actorID,
		CreatedAt: record.CreatedAt,
	})
}

func (s *Service) emit(ctx context.Context, event lifecycle.Event) {
	if s.emitter == nil {
		return
	}
	// Delivery outlives the request; the status write is already durable.
	s.emitter.Emit(context.WithoutCancel(ctx), event)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// IsWorkflowError reports whether err is one of the recoverable lifecycle
// refusals rather than an infrastructure failure.
func IsWorkflowError(err error) bool {
	return errors.Is(err, lifecycle.ErrInvalidTransition) ||
		errors.Is(err, lifecycle.ErrUnauthorized) ||
		errors.Is(err, lifecycle.ErrMissingComment) ||
		errors.Is(err, lifecycle.ErrConflict)
}
