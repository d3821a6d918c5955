package collectors

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDefenderReport(t *testing.T, env *Env) DefenderReport {
	t.Helper()
	raw, err := os.ReadFile(env.path(defenderFile))
	require.NoError(t, err)
	var report DefenderReport
	require.NoError(t, json.Unmarshal(raw, &report))
	return report
}

func TestDefenderDeviceCollector(t *testing.T) {
	env := fakeEnv(t, map[string]string{
		"/api/machines": `{"value": [
			{
				"id": "m-healthy", "computerDnsName": "ws-healthy.contoso.com",
				"osPlatform": "Windows11", "healthStatus": "Active", "riskScore": "Low",
				"lastSeen": "2025-06-14T00:00:00Z",
				"avSignatureUpdateTime": "2025-06-13T00:00:00Z"
			},
			{
				"id": "m-risky", "computerDnsName": "ws-risky.contoso.com",
				"osPlatform": "Windows10", "healthStatus": "Active", "riskScore": "High",
				"lastSeen": "2025-06-14T00:00:00Z",
				"avSignatureUpdateTime": "2025-05-01T00:00:00Z"
			},
			{
				"id": "m-gone", "computerDnsName": "ws-gone.contoso.com",
				"healthStatus": "Inactive", "riskScore": "Medium",
				"lastSeen": "2025-01-01T00:00:00Z"
			}
		]}`,
	})

	result := (&DefenderDeviceCollector{}).Collect(context.Background(), env)
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Count)

	report := readDefenderReport(t, env)
	require.Len(t, report.Devices, 3)

	// Highest risk score first.
	assert.Equal(t, "m-risky", report.Devices[0].ID)
	assert.True(t, report.Devices[0].SignatureStale)

	byID := map[string]DefenderDeviceRecord{}
	for _, d := range report.Devices {
		byID[d.ID] = d
	}

	assert.False(t, byID["m-healthy"].SignatureStale)
	assert.False(t, byID["m-healthy"].IsStale)

	// Missing signature timestamp never counts as stale.
	gone := byID["m-gone"]
	assert.Nil(t, gone.DaysSinceSignature)
	assert.False(t, gone.SignatureStale)
	assert.True(t, gone.IsStale)

	assert.Equal(t, 2, report.Summary.Active)
	assert.Equal(t, 1, report.Summary.Inactive)
	assert.Equal(t, 1, report.Summary.HighRisk)
	assert.Equal(t, 1, report.Summary.SignatureStale)
	assert.Equal(t, 1, report.Summary.Stale)

	// All three rules fire, high severity first.
	require.Len(t, report.Insights, 3)
	assert.Equal(t, "defender-high-risk", report.Insights[0].ID)
}

func TestDefenderDeviceCollectorWithoutClient(t *testing.T) {
	env := fakeEnv(t, nil)
	env.Defender = nil

	result := (&DefenderDeviceCollector{}).Collect(context.Background(), env)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "not configured")

	report := readDefenderReport(t, env)
	require.NotNil(t, report.Devices)
	assert.Len(t, report.Devices, 0)
}
