package collectors

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestCollector(t *testing.T) {
	env := fakeEnv(t, map[string]string{
		"/v1.0/users": `{"value": [
			{
				"id": "g-active", "displayName": "Active Guest", "mail": "active@partner.com",
				"accountEnabled": true, "externalUserState": "Accepted",
				"createdDateTime": "2024-01-01T00:00:00Z",
				"signInActivity": {"lastSignInDateTime": "2025-06-01T00:00:00Z"}
			},
			{
				"id": "g-never", "displayName": "Never Redeemed", "mail": "never@partner.com",
				"accountEnabled": true, "externalUserState": "PendingAcceptance",
				"createdDateTime": "2025-01-01T00:00:00Z"
			},
			{
				"id": "g-fresh", "displayName": "Fresh Invite", "mail": "fresh@partner.com",
				"accountEnabled": true, "externalUserState": "PendingAcceptance",
				"createdDateTime": "2025-06-10T00:00:00Z"
			}
		]}`,
	})

	result := (&GuestCollector{}).Collect(context.Background(), env)
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Count)

	raw, err := os.ReadFile(env.path(guestsFile))
	require.NoError(t, err)
	var report GuestReport
	require.NoError(t, json.Unmarshal(raw, &report))

	require.Len(t, report.Guests, 3)
	byID := map[string]GuestRecord{}
	for _, g := range report.Guests {
		byID[g.ID] = g
	}

	active := byID["g-active"]
	assert.False(t, active.IsStale)
	assert.False(t, active.NeverSignedIn)
	assert.False(t, active.PendingAcceptance)

	// Never signed in: staleness falls back to the invitation age.
	never := byID["g-never"]
	assert.Nil(t, never.DaysSinceSignIn)
	assert.True(t, never.NeverSignedIn)
	assert.True(t, never.IsStale)
	assert.True(t, never.PendingAcceptance)

	// A fresh unredeemed invite is pending but not yet stale.
	fresh := byID["g-fresh"]
	assert.True(t, fresh.PendingAcceptance)
	assert.False(t, fresh.IsStale)

	assert.Equal(t, 1, report.Summary.Stale)
	assert.Equal(t, 2, report.Summary.PendingAcceptance)
	assert.Equal(t, 2, report.Summary.NeverSignedIn)

	require.NotEmpty(t, report.Insights)
	assert.Equal(t, "guests-stale", report.Insights[0].ID)
}
