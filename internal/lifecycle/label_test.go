package lifecycle

import "testing"

func TestDisplayLabel(t *testing.T) {
	def := Default()
	rejected := StatusRejectedByAdmin
	revision := StatusUnderRevision
	approved := StatusFinalApproved

	cases := []struct {
		name       string
		status     Status
		superseded *Status
		want       string
	}{
		{name: "plain upload", status: StatusUploaded, want: "UPLOADED"},
		{name: "replaces rejected", status: StatusPendingTeamLeader, superseded: &rejected, want: LabelRevised},
		{name: "replaces under revision", status: StatusUploaded, superseded: &revision, want: LabelRevised},
		{name: "replaces approved", status: StatusPendingAdmin, superseded: &approved, want: "PENDING ADMIN"},
		{name: "unknown status", status: Status("archived"), want: "archived"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := def.DisplayLabel(tc.status, tc.superseded); got != tc.want {
				t.Fatalf("DisplayLabel() = %q, want %q", got, tc.want)
			}
		})
	}
}
