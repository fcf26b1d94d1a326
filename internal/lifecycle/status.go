// Package lifecycle holds the file approval state machine: the closed set of
// file statuses, the actions reviewers take on them and the rules that decide
// the next status. It is pure with respect to persistence; callers perform the
// durable write and notification dispatch.
package lifecycle

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusUploaded             Status = "uploaded"
	StatusPendingTeamLeader    Status = "pending_team_leader"
	StatusPendingAdmin         Status = "pending_admin"
	StatusTeamLeaderApproved   Status = "team_leader_approved"
	StatusFinalApproved        Status = "final_approved"
	StatusApproved             Status = "approved"
	StatusRejectedByTeamLeader Status = "rejected_by_team_leader"
	StatusRejectedByAdmin      Status = "rejected_by_admin"
	StatusRejected             Status = "rejected"
	StatusUnderRevision        Status = "under_revision"
)

type Action string

const (
	ActionSubmit            Action = "submit"
	ActionApprove           Action = "approve"
	ActionReject            Action = "reject"
	ActionResubmit          Action = "resubmit"
	ActionMarkUnderRevision Action = "mark_under_revision"
)

var allActions = []Action{
	ActionSubmit,
	ActionApprove,
	ActionReject,
	ActionResubmit,
	ActionMarkUnderRevision,
}

// ParseStatus accepts the stored form of a status, case-insensitively.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := Default().status(status); !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, value)
	}
	return status, nil
}

// ParseAction accepts both "mark_under_revision" and "mark-under-revision".
func ParseAction(value string) (Action, error) {
	normalized := Action(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, action := range allActions {
		if action == normalized {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, value)
}

func (s Status) String() string { return string(s) }

func (a Action) String() string { return string(a) }
