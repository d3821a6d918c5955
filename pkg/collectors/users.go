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

const usersFile = "users.json"

// UserCollector snapshots every user account with activity and MFA
// registration state. Its output is the enrichment source for the role
// collector, so it runs first.
type UserCollector struct{}

func (c *UserCollector) Name() string { return "users" }

func (c *UserCollector) Description() string {
	return "User accounts with sign-in activity, licensing and MFA registration"
}

type UserRecord struct {
	ID                 string `json:"id"`
	UserPrincipalName  string `json:"userPrincipalName"`
	DisplayName        string `json:"displayName"`
	Mail               string `json:"mail"`
	UserType           string `json:"userType"`
	AccountEnabled     bool   `json:"accountEnabled"`
	CreatedDateTime    string `json:"createdDateTime,omitempty"`
	LastSignInDateTime string `json:"lastSignInDateTime,omitempty"`
	DaysSinceSignIn    *int   `json:"daysSinceSignIn"`
	IsInactive         bool   `json:"isInactive"`
	Licensed           bool   `json:"licensed"`
	MFARegistered      *bool  `json:"mfaRegistered"`
}

type UserSummary struct {
	Total         int     `json:"total"`
	Enabled       int     `json:"enabled"`
	Disabled      int     `json:"disabled"`
	Guests        int     `json:"guests"`
	Inactive      int     `json:"inactive"`
	Unlicensed    int     `json:"unlicensed"`
	MFARegistered int     `json:"mfaRegistered"`
	InactiveRate  float64 `json:"inactiveRate"`
}

type UserReport struct {
	output.Meta
	Summary  UserSummary       `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Users    []UserRecord      `json:"users"`
}

func emptyUserReport(env *Env) UserReport {
	return UserReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Users:    []UserRecord{},
	}
}

func (c *UserCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	now := env.now()
	var errs []string

	items, err := env.Graph.GetAll(ctx,
		"/v1.0/users?$select=id,userPrincipalName,displayName,mail,userType,accountEnabled,createdDateTime,signInActivity,assignedLicenses&$top=999",
		graph.PageOptions{})
	if err != nil {
		return failWith(env, usersFile, emptyUserReport(env), err)
	}

	mfa := loadMFARegistrations(ctx, env, &errs)

	records := make([]UserRecord, 0, len(items))
	for _, item := range items {
		signIn := mapper.Map(item, "signInActivity", "SignInActivity")
		lastSignIn := mapper.Time(signIn, "lastSignInDateTime", "LastSignInDateTime", "lastSignInDate")
		daysSince := derive.DaysSince(lastSignIn, now)

		rec := UserRecord{
			ID:                mapper.String(item, "id", "Id"),
			UserPrincipalName: mapper.String(item, "userPrincipalName", "UserPrincipalName"),
			DisplayName:       mapper.String(item, "displayName", "DisplayName"),
			Mail:              mapper.String(item, "mail", "Mail"),
			UserType:          mapper.String(item, "userType", "UserType"),
			AccountEnabled:    mapper.Bool(item, "accountEnabled", "AccountEnabled"),
			CreatedDateTime:   mapper.String(item, "createdDateTime", "CreatedDateTime"),
			DaysSinceSignIn:   daysSince,
			IsInactive:        derive.IsInactive(daysSince, env.Cfg.InactiveDays),
			Licensed:          len(mapper.Maps(item, "assignedLicenses", "AssignedLicenses")) > 0,
		}
		if lastSignIn != nil {
			rec.LastSignInDateTime = mapper.String(signIn, "lastSignInDateTime", "LastSignInDateTime", "lastSignInDate")
		}
		if registered, ok := mfa[rec.ID]; ok {
			v := registered
			rec.MFARegistered = &v
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UserPrincipalName < records[j].UserPrincipalName
	})

	summary := summarizeUsers(records)
	insights := userInsights(summary)
	insight.SortBySeverity(insights)

	report := UserReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Users:    records,
	}
	if err := output.WriteJSON(env.path(usersFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), errs)
}

// loadMFARegistrations pulls the MFA registration report. The endpoint
// needs a premium license, so a failure here degrades to "unknown" for
// every user instead of failing the run.
func loadMFARegistrations(ctx context.Context, env *Env, errs *[]string) map[string]bool {
	items, err := env.Graph.GetAll(ctx,
		"/v1.0/reports/authenticationMethods/userRegistrationDetails?$top=999",
		graph.PageOptions{})
	if err != nil {
		msg := fmt.Sprintf("MFA registration report unavailable: %v", err)
		if hint := graph.PermissionHint(err); hint != "" {
			msg += " (" + hint + ")"
		}
		*errs = append(*errs, msg)
		return nil
	}

	registered := make(map[string]bool, len(items))
	for _, item := range items {
		id := mapper.String(item, "id", "Id", "userId")
		if id == "" {
			continue
		}
		registered[id] = mapper.Bool(item, "isMfaRegistered", "IsMfaRegistered", "isMfaCapable")
	}
	return registered
}

func summarizeUsers(records []UserRecord) UserSummary {
	var s UserSummary
	s.Total = len(records)
	for _, rec := range records {
		if rec.AccountEnabled {
			s.Enabled++
		} else {
			s.Disabled++
		}
		if rec.UserType == "Guest" {
			s.Guests++
		}
		if rec.IsInactive {
			s.Inactive++
		}
		if !rec.Licensed {
			s.Unlicensed++
		}
		if rec.MFARegistered != nil && *rec.MFARegistered {
			s.MFARegistered++
		}
	}
	if s.Total > 0 {
		s.InactiveRate = float64(s.Inactive) / float64(s.Total)
	}
	return s
}

func userInsights(s UserSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "users-inactive-share",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.Inactive, s.Total > 0 && s.InactiveRate > 0.10 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d user accounts have been inactive past the configured threshold", n)
			},
			Recommendation: "Review inactive accounts and disable or remove the ones no longer needed",
		},
		{
			ID:       "users-unlicensed",
			Severity: insight.SeverityInfo,
			When:     func() (int, bool) { return s.Unlicensed, s.Unlicensed > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d member accounts carry no license assignments", n)
			},
			Recommendation: "Confirm unlicensed accounts are service or shared accounts on purpose",
		},
	}
	return insight.Evaluate(rules)
}
