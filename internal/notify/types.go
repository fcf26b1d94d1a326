// Package notify turns workflow events into notification records and
// delivers them: persisted first, then pushed over Redis pub/sub to live
// websocket clients and mailed when SMTP is configured.
package notify

import "time"

type Type string

const (
	TypeComment              Type = "comment"
	TypeApproval             Type = "approval"
	TypeRejection            Type = "rejection"
	TypeFinalApproval        Type = "final_approval"
	TypeFinalRejection       Type = "final_rejection"
	TypeAssignment           Type = "assignment"
	TypePasswordResetRequest Type = "password_reset_request"
)

func (t Type) Valid() bool {
	switch t {
	case TypeComment, TypeApproval, TypeRejection, TypeFinalApproval,
		TypeFinalRejection, TypeAssignment, TypePasswordResetRequest:
		return true
	}
	return false
}

// Draft is a notification before it gets an id and a timestamp.
type Draft struct {
	RecipientID string
	Type        Type
	FileID      string
	ActorID     string
	Title       string
	Message     string
}

// Message is the payload pushed to live clients.
type Message struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	FileID    string    `json:"fileId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentEvent is raised when a comment or reply is added to a file.
type CommentEvent struct {
	FileID    string
	CommentID string
	AuthorID  string
	Reply     bool
}
