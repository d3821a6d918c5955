package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readUserReport(t *testing.T, env *Env) UserReport {
	t.Helper()
	raw, err := os.ReadFile(env.path(usersFile))
	require.NoError(t, err)
	var report UserReport
	require.NoError(t, json.Unmarshal(raw, &report))
	return report
}

func TestUserCollectorEmptyTenant(t *testing.T) {
	env := fakeEnv(t, map[string]string{
		"/v1.0/users": `{"value": []}`,
		"/v1.0/reports/authenticationMethods/userRegistrationDetails": `{"value": []}`,
	})

	result := (&UserCollector{}).Collect(context.Background(), env)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.Errors)

	// An empty tenant still produces a complete, parseable document.
	report := readUserReport(t, env)
	assert.Equal(t, "2025-06-15T12:00:00Z", report.CollectionDate)
	assert.Equal(t, 0, report.Summary.Total)
	assert.Equal(t, float64(0), report.Summary.InactiveRate)
	require.NotNil(t, report.Users)
	assert.Len(t, report.Users, 0)
	require.NotNil(t, report.Insights)
	assert.Len(t, report.Insights, 0)
}

func TestUserCollector(t *testing.T) {
	env := fakeEnv(t, map[string]string{
		"/v1.0/users": `{"value": [
			{
				"id": "u-recent", "userPrincipalName": "recent@contoso.com",
				"displayName": "Recent", "userType": "Member", "accountEnabled": true,
				"assignedLicenses": [{"skuId": "sku-1"}],
				"signInActivity": {"lastSignInDateTime": "2025-06-10T08:00:00Z"}
			},
			{
				"id": "u-stale", "userPrincipalName": "stale@contoso.com",
				"displayName": "Stale", "userType": "Member", "accountEnabled": true,
				"assignedLicenses": [],
				"signInActivity": {"lastSignInDateTime": "2024-01-01T00:00:00Z"}
			},
			{
				"id": "u-never", "userPrincipalName": "never@contoso.com",
				"displayName": "Never", "userType": "Guest", "accountEnabled": false
			}
		]}`,
		"/v1.0/reports/authenticationMethods/userRegistrationDetails": `{"value": [
			{"id": "u-recent", "isMfaRegistered": true},
			{"id": "u-stale", "isMfaRegistered": false}
		]}`,
	})

	result := (&UserCollector{}).Collect(context.Background(), env)
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Count)

	report := readUserReport(t, env)
	require.Len(t, report.Users, 3)

	// Sorted by UPN.
	assert.Equal(t, "never@contoso.com", report.Users[0].UserPrincipalName)
	assert.Equal(t, "recent@contoso.com", report.Users[1].UserPrincipalName)
	assert.Equal(t, "stale@contoso.com", report.Users[2].UserPrincipalName)

	never, recent, stale := report.Users[0], report.Users[1], report.Users[2]

	require.NotNil(t, recent.DaysSinceSignIn)
	assert.Equal(t, 5, *recent.DaysSinceSignIn)
	assert.False(t, recent.IsInactive)
	assert.True(t, recent.Licensed)
	require.NotNil(t, recent.MFARegistered)
	assert.True(t, *recent.MFARegistered)

	assert.True(t, stale.IsInactive)
	assert.False(t, stale.Licensed)
	require.NotNil(t, stale.MFARegistered)
	assert.False(t, *stale.MFARegistered)

	// No recorded sign-in: unknown days, treated as inactive, MFA unknown.
	assert.Nil(t, never.DaysSinceSignIn)
	assert.True(t, never.IsInactive)
	assert.Nil(t, never.MFARegistered)

	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 2, report.Summary.Enabled)
	assert.Equal(t, 1, report.Summary.Guests)
	assert.Equal(t, 2, report.Summary.Inactive)
	assert.Equal(t, 1, report.Summary.MFARegistered)
	assert.InDelta(t, 2.0/3.0, report.Summary.InactiveRate, 0.001)

	// Two thirds inactive fires the share rule.
	require.NotEmpty(t, report.Insights)
	assert.Equal(t, "users-inactive-share", report.Insights[0].ID)
	assert.Equal(t, 2, report.Insights[0].AffectedCount)
}

func TestUserCollectorMFAReportUnavailable(t *testing.T) {
	// The MFA report needs a premium license; its absence degrades to
	// unknown registration state, not a failed run.
	env := fakeEnv(t, map[string]string{
		"/v1.0/users": `{"value": [
			{"id": "u1", "userPrincipalName": "a@contoso.com", "accountEnabled": true}
		]}`,
	})

	result := (&UserCollector{}).Collect(context.Background(), env)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "MFA registration report unavailable")

	report := readUserReport(t, env)
	require.Len(t, report.Users, 1)
	assert.Nil(t, report.Users[0].MFARegistered)
}

func TestUserCollectorThrottledRunMatchesCleanRun(t *testing.T) {
	usersBody := `{"value": [
		{"id": "u1", "userPrincipalName": "a@contoso.com", "displayName": "A", "accountEnabled": true}
	]}`
	mfaBody := `{"value": []}`

	clean := fakeEnv(t, map[string]string{
		"/v1.0/users": usersBody,
		"/v1.0/reports/authenticationMethods/userRegistrationDetails": mfaBody,
	})
	result := (&UserCollector{}).Collect(context.Background(), clean)
	require.True(t, result.Success)

	// Same tenant, but the first users request gets throttled once.
	throttledOnce := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1.0/users" && !throttledOnce {
			throttledOnce = true
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Path == "/v1.0/users" {
			w.Write([]byte(usersBody))
			return
		}
		w.Write([]byte(mfaBody))
	}))
	defer server.Close()

	retry := &graph.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Strategy: graph.Linear}
	throttled := &Env{
		Graph:      graph.NewClient(nil, graph.Options{BaseURL: server.URL, Retry: retry}),
		Cfg:        clean.Cfg,
		OutputDir:  t.TempDir(),
		TenantID:   clean.TenantID,
		TenantName: clean.TenantName,
		RunID:      clean.RunID,
		Now:        clean.Now,
	}
	result = (&UserCollector{}).Collect(context.Background(), throttled)
	require.True(t, result.Success)
	assert.True(t, throttledOnce)

	cleanRaw, err := os.ReadFile(clean.path(usersFile))
	require.NoError(t, err)
	throttledRaw, err := os.ReadFile(throttled.path(usersFile))
	require.NoError(t, err)
	assert.Equal(t, cleanRaw, throttledRaw)
}

func TestUserCollectorWritesEmptyDocOnFailure(t *testing.T) {
	env := fakeEnv(t, map[string]string{})

	result := (&UserCollector{}).Collect(context.Background(), env)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Count)
	assert.NotEmpty(t, result.Errors)

	// Downstream consumers still get a valid document.
	report := readUserReport(t, env)
	assert.Equal(t, "tenant-1", report.TenantID)
	require.NotNil(t, report.Users)
	assert.Len(t, report.Users, 0)
}
