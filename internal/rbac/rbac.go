package rbac

type Role string
type Action string

const (
	RoleUser       Role = "user"
	RoleTeamLeader Role = "team_leader"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead         Action = "read"
	ActionUpload       Action = "upload"
	ActionComment      Action = "comment"
	ActionReviewTeam   Action = "review_team"
	ActionReviewFinal  Action = "review_final"
	ActionSetPriority  Action = "set_priority"
	ActionOverride     Action = "override"
	ActionReadAll      Action = "read_all"
	ActionManageUsers  Action = "manage_users"
	ActionExportReport Action = "export_report"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action != ActionReviewTeam
	case RoleTeamLeader:
		return action == ActionRead || action == ActionUpload || action == ActionComment ||
			action == ActionReviewTeam || action == ActionSetPriority || action == ActionExportReport
	case RoleUser:
		return action == ActionRead || action == ActionUpload || action == ActionComment
	default:
		return false
	}
}

// Rank orders roles by privilege; unknown roles rank below RoleUser.
func Rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleTeamLeader:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleTeamLeader, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

func Valid(role string) bool {
	return Role(role).Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleTeamLeader, RoleAdmin:
		return true
	default:
		return false
	}
}
