package collectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/insight"
	"github.com/entrascope/entrascope/pkg/mapper"
	"github.com/entrascope/entrascope/pkg/output"
	"github.com/entrascope/entrascope/pkg/xref"
)

const rolesFile = "roles.json"

// RoleCollector snapshots activated directory roles and their members,
// enriching each member with activity and MFA state from the users
// snapshot. The users file is a soft dependency: when it is absent the
// members are still listed, just without enrichment.
type RoleCollector struct{}

func (c *RoleCollector) Name() string { return "roles" }

func (c *RoleCollector) Description() string {
	return "Directory roles and members, enriched from the users snapshot"
}

type RoleMember struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	IsInactive        bool   `json:"isInactive"`
	MFARegistered     *bool  `json:"mfaRegistered"`
	Enriched          bool   `json:"enriched"`
}

type RoleRecord struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description,omitempty"`
	MemberCount int          `json:"memberCount"`
	Members     []RoleMember `json:"members"`
}

type RoleSummary struct {
	Roles              int `json:"roles"`
	Assignments        int `json:"assignments"`
	InactivePrivileged int `json:"inactivePrivileged"`
	WithoutMFA         int `json:"withoutMfa"`
	GlobalAdmins       int `json:"globalAdmins"`
}

type RoleReport struct {
	output.Meta
	Summary  RoleSummary       `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Roles    []RoleRecord      `json:"roles"`
}

func emptyRoleReport(env *Env) RoleReport {
	return RoleReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Roles:    []RoleRecord{},
	}
}

func (c *RoleCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	var errs []string

	users, err := xref.Load(env.path(usersFile), "users")
	if err != nil {
		errs = append(errs, fmt.Sprintf("users snapshot unavailable, members not enriched: %v", err))
	}

	items, err := env.Graph.GetAll(ctx, "/v1.0/directoryRoles", graph.PageOptions{})
	if err != nil {
		return failWith(env, rolesFile, emptyRoleReport(env), err)
	}

	records := make([]RoleRecord, 0, len(items))
	for _, item := range items {
		rec := RoleRecord{
			ID:          mapper.String(item, "id", "Id"),
			DisplayName: mapper.String(item, "displayName", "DisplayName"),
			Description: mapper.String(item, "description", "Description"),
			Members:     []RoleMember{},
		}

		members, err := env.Graph.GetAll(ctx,
			fmt.Sprintf("/v1.0/directoryRoles/%s/members?$select=id,displayName,userPrincipalName", rec.ID),
			graph.PageOptions{})
		if err != nil {
			errs = append(errs, fmt.Sprintf("member lookup failed for role %q: %v", rec.DisplayName, err))
		}
		for _, m := range members {
			rec.Members = append(rec.Members, enrichMember(m, users))
		}
		rec.MemberCount = len(rec.Members)

		sort.Slice(rec.Members, func(i, j int) bool {
			return rec.Members[i].DisplayName < rec.Members[j].DisplayName
		})
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})

	summary := summarizeRoles(records)
	insights := roleInsights(summary)
	insight.SortBySeverity(insights)

	report := RoleReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Roles:    records,
	}
	if err := output.WriteJSON(env.path(rolesFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), errs)
}

// enrichMember joins activity and MFA state from the users snapshot onto a
// role member. Unmatched members keep the documented defaults:
// isInactive=false, mfaRegistered=null, enriched=false.
func enrichMember(m map[string]any, users *xref.Lookup) RoleMember {
	member := RoleMember{
		ID:                mapper.String(m, "id", "Id"),
		DisplayName:       mapper.String(m, "displayName", "DisplayName"),
		UserPrincipalName: mapper.String(m, "userPrincipalName", "UserPrincipalName"),
	}
	if users == nil {
		return member
	}

	rec, ok := users.Get(member.ID)
	if !ok {
		return member
	}
	member.Enriched = true
	member.IsInactive = mapper.Bool(rec, "isInactive", "IsInactive")
	if v := mapper.First(rec, "mfaRegistered", "MFARegistered"); v != nil {
		if b, ok := v.(bool); ok {
			member.MFARegistered = &b
		}
	}
	return member
}

func summarizeRoles(records []RoleRecord) RoleSummary {
	var s RoleSummary
	s.Roles = len(records)
	for _, role := range records {
		s.Assignments += role.MemberCount
		if role.DisplayName == "Global Administrator" {
			s.GlobalAdmins = role.MemberCount
		}
		for _, m := range role.Members {
			if m.IsInactive {
				s.InactivePrivileged++
			}
			if m.Enriched && m.MFARegistered != nil && !*m.MFARegistered {
				s.WithoutMFA++
			}
		}
	}
	return s
}

func roleInsights(s RoleSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "roles-inactive-privileged",
			Severity: insight.SeverityCritical,
			When:     func() (int, bool) { return s.InactivePrivileged, s.InactivePrivileged > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d privileged role assignments belong to inactive accounts", n)
			},
			Recommendation: "Remove role assignments from accounts that no longer sign in",
		},
		{
			ID:       "roles-no-mfa",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.WithoutMFA, s.WithoutMFA > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d privileged role assignments have no MFA registered", n)
			},
			Recommendation: "Require MFA registration for every privileged account",
		},
		{
			ID:       "roles-global-admins",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.GlobalAdmins, s.GlobalAdmins > 5 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d accounts hold Global Administrator", n)
			},
			Recommendation: "Keep Global Administrator membership under five and use scoped roles instead",
		},
	}
	return insight.Evaluate(rules)
}
