package store

import (
	"time"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/rbac"
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         rbac.Role
	Team         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// FileRecord is one uploaded file. Identity, uploader, team and the
// supersedes link are fixed at creation.
type FileRecord struct {
	ID               string
	OriginalName     string
	ObjectKey        string
	ContentType      string
	SizeBytes        int64
	Description      string
	Status           lifecycle.Status
	UploaderID       string
	UploaderName     string
	Team             string
	SupersedesFileID *string
	// SupersededStatus is read from the superseded record, never stored.
	SupersededStatus *lifecycle.Status
	Priority         Priority
	DueDate          *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type FileFilter struct {
	Status     lifecycle.Status
	Team       string
	UploaderID string
	Priority   Priority
	Limit      int
	Offset     int
}

// StatusChange is one row of a file's status history. OldStatus is nil for
// the creation entry.
type StatusChange struct {
	ID        string
	FileID    string
	OldStatus *lifecycle.Status
	NewStatus lifecycle.Status
	Action    string
	ActorID   string
	ActorName string
	CommentID *string
	CreatedAt time.Time
}

type Comment struct {
	ID         string
	FileID     string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
	Replies    []CommentReply
}

type CommentReply struct {
	ID         string
	CommentID  string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

type Notification struct {
	ID          string
	RecipientID string
	Type        string
	FileID      *string
	ActorID     *string
	Title       string
	Message     string
	IsRead      bool
	CreatedAt   time.Time
	ReadAt      *time.Time
}

type PasswordResetRequest struct {
	ID         string
	UserID     string
	Status     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy *string
}
