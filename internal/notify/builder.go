package notify

import (
	"context"
	"fmt"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/store"
)

// Builder maps events to notification drafts. The actor never notifies
// themselves and each recipient gets at most one draft per event.
type Builder struct {
	dir        Directory
	recipients *Recipients
}

func NewBuilder(dir Directory, recipients *Recipients) *Builder {
	return &Builder{dir: dir, recipients: recipients}
}

func (b *Builder) ForTransition(ctx context.Context, event lifecycle.Event) ([]Draft, error) {
	file, err := b.dir.GetFile(ctx, event.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file for notification: %w", err)
	}
	name := file.OriginalName
	uploader := []string{file.UploaderID}

	var drafts []Draft
	add := func(ids []string, typ Type, title, message string) {
		drafts = append(drafts, b.drafts(ids, event.ActorID, typ, file.ID, title, message)...)
	}

	switch event.Action {
	case lifecycle.ActionSubmit:
		leaders, err := b.recipients.TeamLeaders(ctx, file.Team)
		if err != nil {
			return nil, err
		}
		add(userIDs(leaders), TypeAssignment, "File awaiting review", fmt.Sprintf("%s was submitted for team leader review.", name))
	case lifecycle.ActionApprove:
		switch event.Old {
		case lifecycle.StatusPendingTeamLeader:
			add(uploader, TypeApproval, "File approved by team leader", fmt.Sprintf("%s was approved by your team leader.", name))
			if event.New == lifecycle.StatusPendingAdmin {
				admins, err := b.recipients.Admins(ctx)
				if err != nil {
					return nil, err
				}
				add(userIDs(admins), TypeAssignment, "File awaiting final review", fmt.Sprintf("%s is waiting for admin review.", name))
			}
		case lifecycle.StatusPendingAdmin:
			add(uploader, TypeFinalApproval, "File approved", fmt.Sprintf("%s received final approval.", name))
		}
	case lifecycle.ActionReject:
		switch event.Old {
		case lifecycle.StatusPendingTeamLeader:
			add(uploader, TypeRejection, "File rejected by team leader", fmt.Sprintf("%s was rejected by your team leader. See the comments for details.", name))
		case lifecycle.StatusPendingAdmin:
			add(uploader, TypeFinalRejection, "File rejected", fmt.Sprintf("%s was rejected at final review. See the comments for details.", name))
		}
	case lifecycle.ActionMarkUnderRevision:
		add(uploader, TypeAssignment, "Revision requested", fmt.Sprintf("%s was sent back for revision. Upload a new version when ready.", name))
	}
	return drafts, nil
}

func (b *Builder) ForComment(ctx context.Context, event CommentEvent) ([]Draft, error) {
	file, err := b.dir.GetFile(ctx, event.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file for notification: %w", err)
	}
	leaders, err := b.recipients.TeamLeaders(ctx, file.Team)
	if err != nil {
		return nil, err
	}
	title := "New comment"
	if event.Reply {
		title = "New reply"
	}
	ids := append([]string{file.UploaderID}, userIDs(leaders)...)
	return b.drafts(ids, event.AuthorID, TypeComment, file.ID, title, fmt.Sprintf("%s has new discussion.", file.OriginalName)), nil
}

// ForPasswordReset tells every admin that a user asked for a new password.
func (b *Builder) ForPasswordReset(ctx context.Context, user store.User) ([]Draft, error) {
	admins, err := b.recipients.Admins(ctx)
	if err != nil {
		return nil, err
	}
	return b.drafts(userIDs(admins), user.ID, TypePasswordResetRequest, "", "Password reset requested",
		fmt.Sprintf("%s (%s) asked for a password reset.", user.DisplayName, user.Email)), nil
}

// ForReminder nudges whoever currently owes a review on an overdue file.
func (b *Builder) ForReminder(ctx context.Context, file store.FileRecord) ([]Draft, error) {
	var (
		reviewers []store.User
		err       error
	)
	switch file.Status {
	case lifecycle.StatusPendingTeamLeader:
		reviewers, err = b.recipients.TeamLeaders(ctx, file.Team)
	case lifecycle.StatusPendingAdmin:
		reviewers, err = b.recipients.Admins(ctx)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.drafts(userIDs(reviewers), "", TypeAssignment, file.ID, "Review overdue",
		fmt.Sprintf("%s is past its due date and still waiting for review.", file.OriginalName)), nil
}

func (b *Builder) drafts(recipientIDs []string, actorID string, typ Type, fileID, title, message string) []Draft {
	seen := map[string]bool{}
	var out []Draft
	for _, id := range recipientIDs {
		if id == "" || id == actorID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Draft{RecipientID: id, Type: typ, FileID: fileID, ActorID: actorID, Title: title, Message: message})
	}
	return out
}

func userIDs(users []store.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}
