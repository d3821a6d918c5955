package collectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/insight"
	"github.com/entrascope/entrascope/pkg/mapper"
	"github.com/entrascope/entrascope/pkg/output"
)

const groupsFile = "groups.json"

// GroupCollector snapshots directory groups, bucketing them by type and
// flagging the owner-less ones. The per-group owner lookup is best-effort:
// one group failing never aborts the enumeration.
type GroupCollector struct{}

func (c *GroupCollector) Name() string { return "groups" }

func (c *GroupCollector) Description() string {
	return "Directory groups with type buckets and ownerless detection"
}

const (
	GroupTypeM365         = "Microsoft 365"
	GroupTypeSecurity     = "Security"
	GroupTypeMailSecurity = "Mail-enabled Security"
	GroupTypeDistribution = "Distribution"
)

type GroupRecord struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Description     string `json:"description,omitempty"`
	GroupType       string `json:"groupType"`
	Dynamic         bool   `json:"dynamic"`
	MembershipRule  string `json:"membershipRule,omitempty"`
	Visibility      string `json:"visibility,omitempty"`
	CreatedDateTime string `json:"createdDateTime,omitempty"`
	OwnerCount      *int   `json:"ownerCount"`
	OwnerLess       bool   `json:"ownerless"`
}

type GroupSummary struct {
	Total        int `json:"total"`
	M365         int `json:"m365"`
	Security     int `json:"security"`
	MailSecurity int `json:"mailEnabledSecurity"`
	Distribution int `json:"distribution"`
	Dynamic      int `json:"dynamic"`
	OwnerLess    int `json:"ownerless"`
}

type GroupReport struct {
	output.Meta
	Summary  GroupSummary      `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Groups   []GroupRecord     `json:"groups"`
}

func emptyGroupReport(env *Env) GroupReport {
	return GroupReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Groups:   []GroupRecord{},
	}
}

func (c *GroupCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	var errs []string

	items, err := env.Graph.GetAll(ctx,
		"/v1.0/groups?$select=id,displayName,description,mailEnabled,securityEnabled,groupTypes,membershipRule,visibility,createdDateTime&$top=999",
		graph.PageOptions{})
	if err != nil {
		return failWith(env, groupsFile, emptyGroupReport(env), err)
	}

	records := make([]GroupRecord, 0, len(items))
	for _, item := range items {
		groupTypes := mapper.StringSlice(item, "groupTypes", "GroupTypes")

		rec := GroupRecord{
			ID:              mapper.String(item, "id", "Id"),
			DisplayName:     mapper.String(item, "displayName", "DisplayName"),
			Description:     mapper.String(item, "description", "Description"),
			GroupType:       classifyGroupType(groupTypes, mapper.Bool(item, "mailEnabled", "MailEnabled"), mapper.Bool(item, "securityEnabled", "SecurityEnabled")),
			Dynamic:         containsString(groupTypes, "DynamicMembership"),
			MembershipRule:  mapper.String(item, "membershipRule", "MembershipRule"),
			Visibility:      mapper.String(item, "visibility", "Visibility"),
			CreatedDateTime: mapper.String(item, "createdDateTime", "CreatedDateTime"),
		}

		owners, err := env.Graph.GetAll(ctx,
			fmt.Sprintf("/v1.0/groups/%s/owners?$select=id", rec.ID),
			graph.PageOptions{})
		if err != nil {
			errs = append(errs, fmt.Sprintf("owner lookup failed for group %s: %v", rec.ID, err))
		} else {
			count := len(owners)
			rec.OwnerCount = &count
			rec.OwnerLess = count == 0
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})

	summary := summarizeGroups(records)
	insights := groupInsights(summary)
	insight.SortBySeverity(insights)

	report := GroupReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Groups:   records,
	}
	if err := output.WriteJSON(env.path(groupsFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), errs)
}

func classifyGroupType(groupTypes []string, mailEnabled, securityEnabled bool) string {
	switch {
	case containsString(groupTypes, "Unified"):
		return GroupTypeM365
	case securityEnabled && mailEnabled:
		return GroupTypeMailSecurity
	case securityEnabled:
		return GroupTypeSecurity
	default:
		return GroupTypeDistribution
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func summarizeGroups(records []GroupRecord) GroupSummary {
	var s GroupSummary
	s.Total = len(records)
	for _, rec := range records {
		switch rec.GroupType {
		case GroupTypeM365:
			s.M365++
		case GroupTypeSecurity:
			s.Security++
		case GroupTypeMailSecurity:
			s.MailSecurity++
		case GroupTypeDistribution:
			s.Distribution++
		}
		if rec.Dynamic {
			s.Dynamic++
		}
		if rec.OwnerLess {
			s.OwnerLess++
		}
	}
	return s
}

func groupInsights(s GroupSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "groups-ownerless",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.OwnerLess, s.OwnerLess > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d groups have no owner", n)
			},
			Recommendation: "Assign at least one owner to every group so membership stays curated",
		},
	}
	return insight.Evaluate(rules)
}
