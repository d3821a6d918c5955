package collectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/entrascope/entrascope/pkg/derive"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/insight"
	"github.com/entrascope/entrascope/pkg/mapper"
	"github.com/entrascope/entrascope/pkg/output"
)

const credentialsFile = "app_credentials.json"

// CredentialCollector snapshots application secrets and certificates and
// buckets them by expiry urgency. One row per credential, most urgent
// first.
type CredentialCollector struct{}

func (c *CredentialCollector) Name() string { return "credentials" }

func (c *CredentialCollector) Description() string {
	return "App registration secrets and certificates by expiry urgency"
}

type CredentialRecord struct {
	AppID           string `json:"appId"`
	AppObjectID     string `json:"appObjectId"`
	AppDisplayName  string `json:"appDisplayName"`
	KeyID           string `json:"keyId"`
	CredentialType  string `json:"credentialType"`
	DisplayName     string `json:"displayName,omitempty"`
	EndDateTime     string `json:"endDateTime,omitempty"`
	DaysUntilExpiry *int   `json:"daysUntilExpiry"`
	Urgency         string `json:"urgency"`
}

type CredentialSummary struct {
	TotalApps        int `json:"totalApps"`
	TotalCredentials int `json:"totalCredentials"`
	Expired          int `json:"expired"`
	Critical         int `json:"critical"`
	High             int `json:"high"`
	Medium           int `json:"medium"`
}

type CredentialReport struct {
	output.Meta
	Summary     CredentialSummary  `json:"summary"`
	Insights    []insight.Insight  `json:"insights"`
	Credentials []CredentialRecord `json:"credentials"`
}

func emptyCredentialReport(env *Env) CredentialReport {
	return CredentialReport{
		Meta:        env.meta(),
		Insights:    []insight.Insight{},
		Credentials: []CredentialRecord{},
	}
}

func (c *CredentialCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	now := env.now()

	items, err := env.Graph.GetAll(ctx,
		"/v1.0/applications?$select=id,appId,displayName,passwordCredentials,keyCredentials&$top=999",
		graph.PageOptions{})
	if err != nil {
		return failWith(env, credentialsFile, emptyCredentialReport(env), err)
	}

	steps := derive.UrgencySteps{
		Critical: env.Cfg.CredentialCriticalDays,
		High:     env.Cfg.CredentialHighDays,
		Medium:   env.Cfg.CredentialMediumDays,
	}

	records := make([]CredentialRecord, 0)
	for _, app := range items {
		appRecord := func(cred map[string]any, credType string) CredentialRecord {
			end := mapper.Time(cred, "endDateTime", "EndDateTime", "endDate")
			daysLeft := derive.DaysUntil(end, now)
			return CredentialRecord{
				AppID:           mapper.String(app, "appId", "AppId"),
				AppObjectID:     mapper.String(app, "id", "Id"),
				AppDisplayName:  mapper.String(app, "displayName", "DisplayName"),
				KeyID:           mapper.String(cred, "keyId", "KeyId"),
				CredentialType:  credType,
				DisplayName:     mapper.String(cred, "displayName", "DisplayName"),
				EndDateTime:     mapper.String(cred, "endDateTime", "EndDateTime", "endDate"),
				DaysUntilExpiry: daysLeft,
				Urgency:         derive.ClassifyUrgency(daysLeft, steps),
			}
		}
		for _, cred := range mapper.Maps(app, "passwordCredentials", "PasswordCredentials") {
			records = append(records, appRecord(cred, "password"))
		}
		for _, cred := range mapper.Maps(app, "keyCredentials", "KeyCredentials") {
			records = append(records, appRecord(cred, "certificate"))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		ri, rj := derive.UrgencyRank(records[i].Urgency), derive.UrgencyRank(records[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		di, dj := records[i].DaysUntilExpiry, records[j].DaysUntilExpiry
		if di != nil && dj != nil && *di != *dj {
			return *di < *dj
		}
		return records[i].AppDisplayName < records[j].AppDisplayName
	})

	summary := summarizeCredentials(len(items), records)
	insights := credentialInsights(summary)
	insight.SortBySeverity(insights)

	report := CredentialReport{
		Meta:        env.meta(),
		Summary:     summary,
		Insights:    insights,
		Credentials: records,
	}
	if err := output.WriteJSON(env.path(credentialsFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func summarizeCredentials(appCount int, records []CredentialRecord) CredentialSummary {
	s := CredentialSummary{TotalApps: appCount, TotalCredentials: len(records)}
	for _, rec := range records {
		switch rec.Urgency {
		case derive.UrgencyExpired:
			s.Expired++
		case derive.UrgencyCritical:
			s.Critical++
		case derive.UrgencyHigh:
			s.High++
		case derive.UrgencyMedium:
			s.Medium++
		}
	}
	return s
}

func credentialInsights(s CredentialSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "credentials-expiring",
			Severity: insight.SeverityCritical,
			When:     func() (int, bool) { return s.Critical, s.Critical > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d app credentials expire within the critical window", n)
			},
			Recommendation: "Rotate the expiring credentials before dependent services break",
		},
		{
			ID:       "credentials-expired",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.Expired, s.Expired > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d app credentials have already expired", n)
			},
			Recommendation: "Delete expired credentials to keep the app registrations tidy",
		},
	}
	return insight.Evaluate(rules)
}
