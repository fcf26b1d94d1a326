package lifecycle

import (
	"strings"

	"filegate/api/internal/rbac"
)

// Input is everything Decide looks at. The same Input always yields the same
// Decision or error.
type Input struct {
	Current   Status
	Action    Action
	Role      rbac.Role
	CommentID string
}

type Decision struct {
	From   Status
	To     Status
	Action Action
	// SpawnsRecord is set for resubmission: To is the status of a new file
	// record and From stays on the old one.
	SpawnsRecord bool
}

// Event is handed to the notification emitter after a transition is durable.
type Event struct {
	FileID    string
	Old       Status
	New       Status
	ActorID   string
	Action    Action
	CommentID string
}

type Machine struct {
	def *Definition
}

func NewMachine(def *Definition) *Machine {
	if def == nil {
		def = Default()
	}
	return &Machine{def: def}
}

func (m *Machine) Definition() *Definition {
	return m.def
}

// Decide validates a requested action and computes the next status.
//
// Checks run in a fixed order: the action must exist for the current status
// (ErrInvalidTransition), the actor's role must match the rule
// (ErrUnauthorized), and rejections must reference a comment
// (ErrMissingComment).
func (m *Machine) Decide(in Input) (Decision, error) {
	if !m.def.Valid(in.Current) {
		return Decision{}, refuse(ErrInvalidTransition, in)
	}
	rule, ok := m.def.Rule(in.Current, in.Action)
	if !ok {
		return Decision{}, refuse(ErrInvalidTransition, in)
	}
	if rule.Role != "" && in.Role != rule.Role {
		return Decision{}, refuse(ErrUnauthorized, in)
	}
	if rule.RequireComment && strings.TrimSpace(in.CommentID) == "" {
		return Decision{}, refuse(ErrMissingComment, in)
	}
	return Decision{
		From:         in.Current,
		To:           rule.To,
		Action:       in.Action,
		SpawnsRecord: rule.SpawnsRecord,
	}, nil
}

// Event builds the notification payload for a decision applied to a file.
func (d Decision) Event(fileID, actorID, commentID string) Event {
	return Event{
		FileID:    fileID,
		Old:       d.From,
		New:       d.To,
		ActorID:   actorID,
		Action:    d.Action,
		CommentID: commentID,
	}
}
