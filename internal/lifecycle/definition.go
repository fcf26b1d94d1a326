package lifecycle

import (
	"fmt"
	"sort"

	"filegate/api/internal/rbac"
)

// Version identifies the status set persisted in the file_statuses table.
// Bump it together with a migration whenever a status is added or removed.
const Version = 3

type StatusInfo struct {
	Name      Status
	Label     string
	Terminal  bool
	Rejection bool
	Position  int
}

// Rule is one row of the transition table. An empty Role admits any
// authenticated actor.
type Rule struct {
	From           Status
	Action         Action
	To             Status
	Role           rbac.Role
	RequireComment bool
	SpawnsRecord   bool
}

// RoutingPolicy selects the target of the two approvals whose destination
// depends on how a deployment routes its reviews.
type RoutingPolicy struct {
	TeamLeaderApprove Status
	AdminApprove      Status
}

func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		TeamLeaderApprove: StatusPendingAdmin,
		AdminApprove:      StatusFinalApproved,
	}
}

func (p RoutingPolicy) Validate() error {
	switch p.TeamLeaderApprove {
	case StatusPendingAdmin, StatusTeamLeaderApproved:
	default:
		return fmt.Errorf("team leader approval target must be %s or %s, got %q", StatusPendingAdmin, StatusTeamLeaderApproved, p.TeamLeaderApprove)
	}
	switch p.AdminApprove {
	case StatusFinalApproved, StatusApproved:
	default:
		return fmt.Errorf("admin approval target must be %s or %s, got %q", StatusFinalApproved, StatusApproved, p.AdminApprove)
	}
	return nil
}

type Definition struct {
	Version  int
	statuses map[Status]StatusInfo
	rules    map[ruleKey]Rule
}

type ruleKey struct {
	from   Status
	action Action
}

var statusTable = []StatusInfo{
	{Name: StatusUploaded, Label: "UPLOADED", Position: 1},
	{Name: StatusPendingTeamLeader, Label: "PENDING TEAM LEADER", Position: 2},
	{Name: StatusPendingAdmin, Label: "PENDING ADMIN", Position: 3},
	{Name: StatusTeamLeaderApproved, Label: "TEAM LEADER APPROVED", Terminal: true, Position: 4},
	{Name: StatusFinalApproved, Label: "FINAL APPROVED", Terminal: true, Position: 5},
	{Name: StatusApproved, Label: "APPROVED", Terminal: true, Position: 6},
	{Name: StatusRejectedByTeamLeader, Label: "REJECTED BY TEAM LEADER", Terminal: true, Rejection: true, Position: 7},
	{Name: StatusRejectedByAdmin, Label: "REJECTED BY ADMIN", Terminal: true, Rejection: true, Position: 8},
	{Name: StatusRejected, Label: "REJECTED", Terminal: true, Rejection: true, Position: 9},
	{Name: StatusUnderRevision, Label: "UNDER REVISION", Terminal: true, Position: 10},
}

// NewDefinition builds the transition table for the given routing policy.
func NewDefinition(policy RoutingPolicy) (*Definition, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	def := &Definition{
		Version:  Version,
		statuses: make(map[Status]StatusInfo, len(statusTable)),
		rules:    make(map[ruleKey]Rule),
	}
	for _, info := range statusTable {
		def.statuses[info.Name] = info
	}

	rules := []Rule{
		{From: StatusUploaded, Action: ActionSubmit, To: StatusPendingTeamLeader},
		{From: StatusPendingTeamLeader, Action: ActionApprove, To: policy.TeamLeaderApprove, Role: rbac.RoleTeamLeader},
		{From: StatusPendingTeamLeader, Action: ActionReject, To: StatusRejectedByTeamLeader, Role: rbac.RoleTeamLeader, RequireComment: true},
		{From: StatusPendingAdmin, Action: ActionApprove, To: policy.AdminApprove, Role: rbac.RoleAdmin},
		{From: StatusPendingAdmin, Action: ActionReject, To: StatusRejectedByAdmin, Role: rbac.RoleAdmin, RequireComment: true},
	}
	for _, info := range statusTable {
		if !info.Rejection {
			continue
		}
		rules = append(rules,
			Rule{From: info.Name, Action: ActionResubmit, To: StatusUploaded, SpawnsRecord: true},
			Rule{From: info.Name, Action: ActionMarkUnderRevision, To: StatusUnderRevision, Role: rbac.RoleAdmin},
		)
	}
	// A file sent back for revision is replaced the same way a rejected one is.
	rules = append(rules, Rule{From: StatusUnderRevision, Action: ActionResubmit, To: StatusUploaded, SpawnsRecord: true})

	for _, rule := range rules {
		if _, ok := def.statuses[rule.From]; !ok {
			return nil, fmt.Errorf("rule %s/%s: unknown source status", rule.From, rule.Action)
		}
		if _, ok := def.statuses[rule.To]; !ok {
			return nil, fmt.Errorf("rule %s/%s: unknown target status %q", rule.From, rule.Action, rule.To)
		}
		key := ruleKey{from: rule.From, action: rule.Action}
		if _, dup := def.rules[key]; dup {
			return nil, fmt.Errorf("rule %s/%s declared twice", rule.From, rule.Action)
		}
		def.rules[key] = rule
	}
	return def, nil
}

var defaultDefinition = func() *Definition {
	def, err := NewDefinition(DefaultRoutingPolicy())
	if err != nil {
		panic(err)
	}
	return def
}()

// Default returns the definition built with DefaultRoutingPolicy.
func Default() *Definition {
	return defaultDefinition
}

func (d *Definition) status(s Status) (StatusInfo, bool) {
	info, ok := d.statuses[s]
	return info, ok
}

// Statuses returns the closed status set in workflow order.
func (d *Definition) Statuses() []StatusInfo {
	out := make([]StatusInfo, 0, len(d.statuses))
	for _, info := range d.statuses {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (d *Definition) Valid(s Status) bool {
	_, ok := d.statuses[s]
	return ok
}

func (d *Definition) IsTerminal(s Status) bool {
	return d.statuses[s].Terminal
}

func (d *Definition) IsRejection(s Status) bool {
	return d.statuses[s].Rejection
}

// Rule looks up the transition for an action taken from a status.
func (d *Definition) Rule(from Status, action Action) (Rule, bool) {
	rule, ok := d.rules[ruleKey{from: from, action: action}]
	return rule, ok
}

// AllowedActions lists the actions a given role may take from a status.
func (d *Definition) AllowedActions(from Status, role rbac.Role) []Action {
	var out []Action
	for _, action := range allActions {
		rule, ok := d.Rule(from, action)
		if !ok {
			continue
		}
		if rule.Role != "" && rule.Role != role {
			continue
		}
		out = append(out, action)
	}
	return out
}

// Rules returns every transition, ordered by source status then action.
func (d *Definition) Rules() []Rule {
	out := make([]Rule, 0, len(d.rules))
	for _, rule := range d.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := d.statuses[out[i].From].Position, d.statuses[out[j].From].Position
		if pi != pj {
			return pi < pj
		}
		return out[i].Action < out[j].Action
	})
	return out
}
