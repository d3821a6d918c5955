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

const caPoliciesFile = "ca_policies.json"

// ConditionalAccessCollector snapshots conditional access policies and
// checks the tenant's MFA and legacy-auth coverage.
type ConditionalAccessCollector struct{}

func (c *ConditionalAccessCollector) Name() string { return "capolicies" }

func (c *ConditionalAccessCollector) Description() string {
	return "Conditional access policies with MFA and legacy auth coverage"
}

type CAPolicyRecord struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"displayName"`
	State             string   `json:"state"`
	CreatedDateTime   string   `json:"createdDateTime,omitempty"`
	ModifiedDateTime  string   `json:"modifiedDateTime,omitempty"`
	ClientAppTypes    []string `json:"clientAppTypes,omitempty"`
	GrantControls     []string `json:"grantControls,omitempty"`
	RequiresMFA       bool     `json:"requiresMfa"`
	TargetsLegacyAuth bool     `json:"targetsLegacyAuth"`
	BlocksAccess      bool     `json:"blocksAccess"`
}

type CAPolicySummary struct {
	Total             int `json:"total"`
	Enabled           int `json:"enabled"`
	ReportOnly        int `json:"reportOnly"`
	Disabled          int `json:"disabled"`
	RequireMFA        int `json:"requireMfa"`
	LegacyAuthBlocked int `json:"legacyAuthBlocked"`
}

type CAPolicyReport struct {
	output.Meta
	Summary  CAPolicySummary   `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Policies []CAPolicyRecord  `json:"policies"`
}

func emptyCAPolicyReport(env *Env) CAPolicyReport {
	return CAPolicyReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Policies: []CAPolicyRecord{},
	}
}

func (c *ConditionalAccessCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	items, err := env.Graph.GetAll(ctx, "/v1.0/identity/conditionalAccess/policies", graph.PageOptions{})
	if err != nil {
		return failWith(env, caPoliciesFile, emptyCAPolicyReport(env), err)
	}

	records := make([]CAPolicyRecord, 0, len(items))
	for _, item := range items {
		conditions := mapper.Map(item, "conditions", "Conditions")
		grant := mapper.Map(item, "grantControls", "GrantControls")
		grantControls := mapper.StringSlice(grant, "builtInControls", "BuiltInControls")
		clientAppTypes := mapper.StringSlice(conditions, "clientAppTypes", "ClientAppTypes")

		rec := CAPolicyRecord{
			ID:               mapper.String(item, "id", "Id"),
			DisplayName:      mapper.String(item, "displayName", "DisplayName"),
			State:            mapper.String(item, "state", "State"),
			CreatedDateTime:  mapper.String(item, "createdDateTime", "CreatedDateTime"),
			ModifiedDateTime: mapper.String(item, "modifiedDateTime", "ModifiedDateTime"),
			ClientAppTypes:   clientAppTypes,
			GrantControls:    grantControls,
			RequiresMFA:      containsString(grantControls, "mfa"),
			BlocksAccess:     containsString(grantControls, "block"),
		}
		rec.TargetsLegacyAuth = containsString(clientAppTypes, "exchangeActiveSync") ||
			containsString(clientAppTypes, "other")
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})

	summary := summarizeCAPolicies(records)
	insights := caPolicyInsights(summary)
	insight.SortBySeverity(insights)

	report := CAPolicyReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Policies: records,
	}
	if err := output.WriteJSON(env.path(caPoliciesFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func summarizeCAPolicies(records []CAPolicyRecord) CAPolicySummary {
	var s CAPolicySummary
	s.Total = len(records)
	for _, rec := range records {
		switch rec.State {
		case "enabled":
			s.Enabled++
		case "enabledForReportingButNotEnforced":
			s.ReportOnly++
		default:
			s.Disabled++
		}
		if rec.State == "enabled" && rec.RequiresMFA {
			s.RequireMFA++
		}
		if rec.State == "enabled" && rec.TargetsLegacyAuth && rec.BlocksAccess {
			s.LegacyAuthBlocked++
		}
	}
	return s
}

func caPolicyInsights(s CAPolicySummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "ca-none-enabled",
			Severity: insight.SeverityCritical,
			When:     func() (int, bool) { return s.Total, s.Enabled == 0 },
			Describe: func(int) string {
				return "no conditional access policy is enforced"
			},
			Recommendation: "Enable at least a baseline MFA policy for all users",
		},
		{
			ID:       "ca-legacy-auth-open",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.Enabled, s.Enabled > 0 && s.LegacyAuthBlocked == 0 },
			Describe: func(int) string {
				return "no enforced policy blocks legacy authentication"
			},
			Recommendation: "Add a policy that blocks exchangeActiveSync and other legacy clients",
		},
		{
			ID:       "ca-report-only",
			Severity: insight.SeverityLow,
			When:     func() (int, bool) { return s.ReportOnly, s.ReportOnly > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d policies sit in report-only mode", n)
			},
			Recommendation: "Promote report-only policies after reviewing their sign-in impact",
		},
	}
	return insight.Evaluate(rules)
}
