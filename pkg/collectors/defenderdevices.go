package collectors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/entrascope/entrascope/pkg/derive"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/insight"
	"github.com/entrascope/entrascope/pkg/mapper"
	"github.com/entrascope/entrascope/pkg/output"
)

const defenderFile = "defender_devices.json"

// DefenderDeviceCollector snapshots onboarded machines from the Defender
// for Endpoint API. The API lives on a different host with its own token
// audience, so it gets its own client. Signature staleness only fires on a
// known signature age: the machines endpoint frequently omits it.
type DefenderDeviceCollector struct{}

func (c *DefenderDeviceCollector) Name() string { return "defenderdevices" }

func (c *DefenderDeviceCollector) Description() string {
	return "Defender for Endpoint machines with health, risk and signature age"
}

type DefenderDeviceRecord struct {
	ID                  string `json:"id"`
	ComputerDNSName     string `json:"computerDnsName"`
	OSPlatform          string `json:"osPlatform,omitempty"`
	HealthStatus        string `json:"healthStatus"`
	RiskScore           string `json:"riskScore"`
	ExposureLevel       string `json:"exposureLevel,omitempty"`
	OnboardingStatus    string `json:"onboardingStatus,omitempty"`
	LastSeen            string `json:"lastSeen,omitempty"`
	DaysSinceSeen       *int   `json:"daysSinceSeen"`
	IsStale             bool   `json:"isStale"`
	SignatureUpdateTime string `json:"signatureUpdateTime,omitempty"`
	DaysSinceSignature  *int   `json:"daysSinceSignature"`
	SignatureStale      bool   `json:"signatureStale"`
}

type DefenderSummary struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	Inactive       int `json:"inactive"`
	HighRisk       int `json:"highRisk"`
	Stale          int `json:"stale"`
	SignatureStale int `json:"signatureStale"`
}

type DefenderReport struct {
	output.Meta
	Summary  DefenderSummary        `json:"summary"`
	Insights []insight.Insight      `json:"insights"`
	Devices  []DefenderDeviceRecord `json:"devices"`
}

func emptyDefenderReport(env *Env) DefenderReport {
	return DefenderReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Devices:  []DefenderDeviceRecord{},
	}
}

func (c *DefenderDeviceCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	now := env.now()

	if env.Defender == nil {
		return failWith(env, defenderFile, emptyDefenderReport(env),
			fmt.Errorf("defender API client not configured"))
	}

	items, err := env.Defender.GetAll(ctx, "/api/machines", graph.PageOptions{})
	if err != nil {
		return failWith(env, defenderFile, emptyDefenderReport(env), err)
	}

	records := make([]DefenderDeviceRecord, 0, len(items))
	for _, item := range items {
		lastSeen := mapper.Time(item, "lastSeen", "LastSeen")
		daysSinceSeen := derive.DaysSince(lastSeen, now)
		sigTime := mapper.Time(item, "avSignatureUpdateTime", "AvSignatureUpdateTime", "signatureUpdateTime")
		daysSinceSig := derive.DaysSince(sigTime, now)

		rec := DefenderDeviceRecord{
			ID:                  mapper.String(item, "id", "Id"),
			ComputerDNSName:     mapper.String(item, "computerDnsName", "ComputerDnsName"),
			OSPlatform:          mapper.String(item, "osPlatform", "OsPlatform"),
			HealthStatus:        mapper.String(item, "healthStatus", "HealthStatus"),
			RiskScore:           mapper.String(item, "riskScore", "RiskScore"),
			ExposureLevel:       mapper.String(item, "exposureLevel", "ExposureLevel"),
			OnboardingStatus:    mapper.String(item, "onboardingStatus", "OnboardingStatus"),
			LastSeen:            mapper.String(item, "lastSeen", "LastSeen"),
			DaysSinceSeen:       daysSinceSeen,
			IsStale:             derive.IsInactive(daysSinceSeen, env.Cfg.StaleDeviceDays),
			SignatureUpdateTime: mapper.String(item, "avSignatureUpdateTime", "AvSignatureUpdateTime", "signatureUpdateTime"),
			DaysSinceSignature:  daysSinceSig,
			SignatureStale:      derive.SignatureStale(daysSinceSig, env.Cfg.SignatureAgeDays),
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		ri, rj := riskRank(strings.ToLower(records[i].RiskScore)), riskRank(strings.ToLower(records[j].RiskScore))
		if ri != rj {
			return ri < rj
		}
		return records[i].ComputerDNSName < records[j].ComputerDNSName
	})

	summary := summarizeDefender(records)
	insights := defenderInsights(summary)
	insight.SortBySeverity(insights)

	report := DefenderReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Devices:  records,
	}
	if err := output.WriteJSON(env.path(defenderFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func summarizeDefender(records []DefenderDeviceRecord) DefenderSummary {
	var s DefenderSummary
	s.Total = len(records)
	for _, rec := range records {
		switch strings.ToLower(rec.HealthStatus) {
		case "active":
			s.Active++
		case "inactive":
			s.Inactive++
		}
		if strings.EqualFold(rec.RiskScore, "high") {
			s.HighRisk++
		}
		if rec.IsStale {
			s.Stale++
		}
		if rec.SignatureStale {
			s.SignatureStale++
		}
	}
	return s
}

func defenderInsights(s DefenderSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "defender-high-risk",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.HighRisk, s.HighRisk > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d machines carry a high Defender risk score", n)
			},
			Recommendation: "Work the active alerts on high risk machines first",
		},
		{
			ID:       "defender-stale-signatures",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.SignatureStale, s.SignatureStale > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d machines run outdated AV signatures", n)
			},
			Recommendation: "Check update connectivity for machines with old signatures",
		},
		{
			ID:       "defender-inactive-sensors",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.Inactive, s.Inactive > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d sensors report inactive", n)
			},
			Recommendation: "Re-onboard or retire machines whose sensors stopped reporting",
		},
	}
	return insight.Evaluate(rules)
}
