package collectors

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/entrascope/entrascope/pkg/derive"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/insight"
	"github.com/entrascope/entrascope/pkg/mapper"
	"github.com/entrascope/entrascope/pkg/output"
)

const guestsFile = "guests.json"

// GuestCollector snapshots external guest accounts and classifies the
// stale and never-redeemed ones.
type GuestCollector struct{}

func (c *GuestCollector) Name() string { return "guests" }

func (c *GuestCollector) Description() string {
	return "Guest accounts with invitation state and staleness classification"
}

type GuestRecord struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
	CreatedDateTime   string `json:"createdDateTime,omitempty"`
	ExternalUserState string `json:"externalUserState,omitempty"`
	DaysSinceCreated  *int   `json:"daysSinceCreated"`
	DaysSinceSignIn   *int   `json:"daysSinceSignIn"`
	IsStale           bool   `json:"isStale"`
	PendingAcceptance bool   `json:"pendingAcceptance"`
	NeverSignedIn     bool   `json:"neverSignedIn"`
}

type GuestSummary struct {
	Total             int `json:"total"`
	Stale             int `json:"stale"`
	PendingAcceptance int `json:"pendingAcceptance"`
	NeverSignedIn     int `json:"neverSignedIn"`
	Disabled          int `json:"disabled"`
}

type GuestReport struct {
	output.Meta
	Summary  GuestSummary      `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Guests   []GuestRecord     `json:"guests"`
}

func emptyGuestReport(env *Env) GuestReport {
	return GuestReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Guests:   []GuestRecord{},
	}
}

func (c *GuestCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	now := env.now()

	query := "/v1.0/users?$filter=" + url.QueryEscape("userType eq 'Guest'") +
		"&$select=id,displayName,mail,userPrincipalName,accountEnabled,createdDateTime,externalUserState,signInActivity&$top=999"
	items, err := env.Graph.GetAll(ctx, query, graph.PageOptions{})
	if err != nil {
		return failWith(env, guestsFile, emptyGuestReport(env), err)
	}

	records := make([]GuestRecord, 0, len(items))
	for _, item := range items {
		signIn := mapper.Map(item, "signInActivity", "SignInActivity")
		lastSignIn := mapper.Time(signIn, "lastSignInDateTime", "LastSignInDateTime")
		created := mapper.Time(item, "createdDateTime", "CreatedDateTime")
		daysSinceSignIn := derive.DaysSince(lastSignIn, now)

		// Staleness falls back to invite age when the guest never signed in.
		activityDays := daysSinceSignIn
		if activityDays == nil {
			activityDays = derive.DaysSince(created, now)
		}

		rec := GuestRecord{
			ID:                mapper.String(item, "id", "Id"),
			DisplayName:       mapper.String(item, "displayName", "DisplayName"),
			Mail:              mapper.String(item, "mail", "Mail"),
			UserPrincipalName: mapper.String(item, "userPrincipalName", "UserPrincipalName"),
			AccountEnabled:    mapper.Bool(item, "accountEnabled", "AccountEnabled"),
			CreatedDateTime:   mapper.String(item, "createdDateTime", "CreatedDateTime"),
			ExternalUserState: mapper.String(item, "externalUserState", "ExternalUserState"),
			DaysSinceCreated:  derive.DaysSince(created, now),
			DaysSinceSignIn:   daysSinceSignIn,
			IsStale:           derive.IsInactive(activityDays, env.Cfg.StaleGuestDays),
			PendingAcceptance: mapper.String(item, "externalUserState", "ExternalUserState") == "PendingAcceptance",
			NeverSignedIn:     lastSignIn == nil,
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DisplayName < records[j].DisplayName
	})

	summary := summarizeGuests(records)
	insights := guestInsights(summary)
	insight.SortBySeverity(insights)

	report := GuestReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Guests:   records,
	}
	if err := output.WriteJSON(env.path(guestsFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func summarizeGuests(records []GuestRecord) GuestSummary {
	var s GuestSummary
	s.Total = len(records)
	for _, rec := range records {
		if rec.IsStale {
			s.Stale++
		}
		if rec.PendingAcceptance {
			s.PendingAcceptance++
		}
		if rec.NeverSignedIn {
			s.NeverSignedIn++
		}
		if !rec.AccountEnabled {
			s.Disabled++
		}
	}
	return s
}

func guestInsights(s GuestSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "guests-stale",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.Stale, s.Stale > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d guest accounts are stale", n)
			},
			Recommendation: "Run an access review and remove guests that no longer collaborate",
		},
		{
			ID:       "guests-pending",
			Severity: insight.SeverityLow,
			When:     func() (int, bool) { return s.PendingAcceptance, s.PendingAcceptance > 5 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d guest invitations were never redeemed", n)
			},
			Recommendation: "Withdraw invitations that have sat unaccepted",
		},
	}
	return insight.Evaluate(rules)
}
