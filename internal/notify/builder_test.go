package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/rbac"
	"filegate/api/internal/store"
)

type fakeDirectory struct {
	mu        sync.Mutex
	files     map[string]store.FileRecord
	users     []store.User
	listCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		files: map[string]store.FileRecord{
			"f1": {ID: "f1", OriginalName: "budget.xlsx", UploaderID: "u1", Team: "alpha", Status: lifecycle.StatusPendingTeamLeader},
		},
		users: []store.User{
			{ID: "u1", Email: "u1@example.test", DisplayName: "Uma", Role: rbac.RoleUser, Team: "alpha"},
			{ID: "tl1", Email: "tl1@example.test", DisplayName: "Theo", Role: rbac.RoleTeamLeader, Team: "alpha"},
			{ID: "tl2", Email: "tl2@example.test", DisplayName: "Tess", Role: rbac.RoleTeamLeader, Team: "alpha"},
			{ID: "tl9", Email: "tl9@example.test", DisplayName: "Tom", Role: rbac.RoleTeamLeader, Team: "beta"},
			{ID: "a1", Email: "a1@example.test", DisplayName: "Ada", Role: rbac.RoleAdmin},
		},
	}
}

func (d *fakeDirectory) GetFile(_ context.Context, fileID string) (store.FileRecord, error) {
	file, ok := d.files[fileID]
	if !ok {
		return store.FileRecord{}, fmt.Errorf("get file %s: %w", fileID, store.ErrNotFound)
	}
	return file, nil
}

func (d *fakeDirectory) GetUserByID(_ context.Context, userID string) (store.User, error) {
	for _, u := range d.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (d *fakeDirectory) ListUsersByRole(_ context.Context, role rbac.Role, team string) ([]store.User, error) {
	d.mu.Lock()
	d.listCalls++
	d.mu.Unlock()
	var out []store.User
	for _, u := range d.users {
		if u.Role == role && (team == "" || u.Team == team) {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestBuilder(dir *fakeDirectory) *Builder {
	return NewBuilder(dir, NewRecipients(dir, 16, time.Minute))
}

type sent struct {
	recipient string
	typ       Type
}

func summarize(drafts []Draft) []sent {
	out := make([]sent, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, sent{recipient: d.RecipientID, typ: d.Type})
	}
	return out
}

func TestForTransitionMapping(t *testing.T) {
	cases := []struct {
		name  string
		event lifecycle.Event
		want  []sent
	}{
		{
			name:  "submit assigns team leaders",
			event: lifecycle.Event{Action: lifecycle.ActionSubmit, Old: lifecycle.StatusUploaded, New: lifecycle.StatusPendingTeamLeader, ActorID: "u1"},
			want:  []sent{{"tl1", TypeAssignment}, {"tl2", TypeAssignment}},
		},
		{
			name:  "team leader approve routed to admin",
			event: lifecycle.Event{Action: lifecycle.ActionApprove, Old: lifecycle.StatusPendingTeamLeader, New: lifecycle.StatusPendingAdmin, ActorID: "tl1"},
			want:  []sent{{"u1", TypeApproval}, {"a1", TypeAssignment}},
		},
		{
			name:  "team leader approve as final stage",
			event: lifecycle.Event{Action: lifecycle.ActionApprove, Old: lifecycle.StatusPendingTeamLeader, New: lifecycle.StatusTeamLeaderApproved, ActorID: "tl1"},
			want:  []sent{{"u1", TypeApproval}},
		},
		{
			name:  "team leader reject",
			event: lifecycle.Event{Action: lifecycle.ActionReject, Old: lifecycle.StatusPendingTeamLeader, New: lifecycle.StatusRejectedByTeamLeader, ActorID: "tl1"},
			want:  []sent{{"u1", TypeRejection}},
		},
		{
			name:  "admin approve",
			event: lifecycle.Event{Action: lifecycle.ActionApprove, Old: lifecycle.StatusPendingAdmin, New: lifecycle.StatusFinalApproved, ActorID: "a1"},
			want:  []sent{{"u1", TypeFinalApproval}},
		},
		{
			name:  "admin reject",
			event: lifecycle.Event{Action: lifecycle.ActionReject, Old: lifecycle.StatusPendingAdmin, New: lifecycle.StatusRejectedByAdmin, ActorID: "a1"},
			want:  []sent{{"u1", TypeFinalRejection}},
		},
		{
			name:  "mark under revision",
			event: lifecycle.Event{Action: lifecycle.ActionMarkUnderRevision, Old: lifecycle.StatusRejected, New: lifecycle.StatusUnderRevision, ActorID: "a1"},
			want:  []sent{{"u1", TypeAssignment}},
		},
		{
			name:  "resubmit is silent",
			event: lifecycle.Event{Action: lifecycle.ActionResubmit, Old: lifecycle.StatusRejected, New: lifecycle.StatusUploaded, ActorID: "u1"},
			want:  []sent{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.event.FileID = "f1"
			drafts, err := newTestBuilder(newFakeDirectory()).ForTransition(context.Background(), tc.event)
			if err != nil {
				t.Fatalf("ForTransition() error = %v", err)
			}
			got := summarize(drafts)
			if len(got) != len(tc.want) {
				t.Fatalf("drafts = %+v, want %+v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("draft %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
			for _, d := range drafts {
				if d.FileID != "f1" || d.Title == "" || d.ActorID != tc.event.ActorID {
					t.Fatalf("incomplete draft %+v", d)
				}
			}
		})
	}
}

func TestForTransitionUnknownFile(t *testing.T) {
	_, err := newTestBuilder(newFakeDirectory()).ForTransition(context.Background(), lifecycle.Event{FileID: "nope", Action: lifecycle.ActionSubmit})
	if err == nil {
		t.Fatal("expected error for unknown file")
	}
}

func TestForCommentExcludesAuthor(t *testing.T) {
	drafts, err := newTestBuilder(newFakeDirectory()).ForComment(context.Background(), CommentEvent{FileID: "f1", CommentID: "c1", AuthorID: "tl1"})
	if err != nil {
		t.Fatal(err)
	}
	got := summarize(drafts)
	want := []sent{{"u1", TypeComment}, {"tl2", TypeComment}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("drafts = %+v, want %+v", got, want)
	}
}

func TestForPasswordResetTargetsAdmins(t *testing.T) {
	dir := newFakeDirectory()
	drafts, err := newTestBuilder(dir).ForPasswordReset(context.Background(), dir.users[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].RecipientID != "a1" || drafts[0].Type != TypePasswordResetRequest || drafts[0].FileID != "" {
		t.Fatalf("drafts = %+v", drafts)
	}
}

func TestForReminder(t *testing.T) {
	b := newTestBuilder(newFakeDirectory())
	drafts, err := b.ForReminder(context.Background(), store.FileRecord{ID: "f1", Team: "beta", Status: lifecycle.StatusPendingTeamLeader})
	if err != nil || len(drafts) != 1 || drafts[0].RecipientID != "tl9" {
		t.Fatalf("team leader reminder = %+v, %v", drafts, err)
	}
	drafts, err = b.ForReminder(context.Background(), store.FileRecord{ID: "f1", Status: lifecycle.StatusPendingAdmin})
	if err != nil || len(drafts) != 1 || drafts[0].RecipientID != "a1" {
		t.Fatalf("admin reminder = %+v, %v", drafts, err)
	}
	drafts, err = b.ForReminder(context.Background(), store.FileRecord{ID: "f1", Status: lifecycle.StatusFinalApproved})
	if err != nil || len(drafts) != 0 {
		t.Fatalf("closed file reminder = %+v, %v", drafts, err)
	}
}

func TestRecipientsAreCached(t *testing.T) {
	dir := newFakeDirectory()
	r := NewRecipients(dir, 8, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := r.TeamLeaders(context.Background(), "alpha"); err != nil {
			t.Fatal(err)
		}
	}
	if dir.listCalls != 1 {
		t.Fatalf("directory queried %d times, want 1", dir.listCalls)
	}
	r.Invalidate()
	if _, err := r.TeamLeaders(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	if dir.listCalls != 2 {
		t.Fatalf("directory queried %d times after invalidate, want 2", dir.listCalls)
	}
}

func TestTypeValid(t *testing.T) {
	if !TypeFinalRejection.Valid() || Type("promotion").Valid() {
		t.Fatal("unexpected validity")
	}
}
