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

const licensesFile = "licenses.json"

// LicenseCollector snapshots subscribed SKUs with seat utilization.
// consumedUnits and the prepaidUnits counters documented by Graph default
// to zero when absent; everything else keeps the null-when-missing policy.
type LicenseCollector struct{}

func (c *LicenseCollector) Name() string { return "licenses" }

func (c *LicenseCollector) Description() string {
	return "Subscribed license SKUs with seat utilization buckets"
}

const (
	SeatStatusExhausted = "exhausted"
	SeatStatusUnderused = "underused"
	SeatStatusHealthy   = "healthy"
)

type LicenseRecord struct {
	SkuID            string  `json:"skuId"`
	SkuPartNumber    string  `json:"skuPartNumber"`
	CapabilityStatus string  `json:"capabilityStatus,omitempty"`
	EnabledUnits     int     `json:"enabledUnits"`
	SuspendedUnits   int     `json:"suspendedUnits"`
	WarningUnits     int     `json:"warningUnits"`
	ConsumedUnits    int     `json:"consumedUnits"`
	AvailableUnits   int     `json:"availableUnits"`
	Utilization      float64 `json:"utilization"`
	SeatStatus       string  `json:"seatStatus"`
}

type LicenseSummary struct {
	TotalSkus     int `json:"totalSkus"`
	TotalSeats    int `json:"totalSeats"`
	AssignedSeats int `json:"assignedSeats"`
	Exhausted     int `json:"exhausted"`
	Underused     int `json:"underused"`
}

type LicenseReport struct {
	output.Meta
	Summary  LicenseSummary    `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Licenses []LicenseRecord   `json:"licenses"`
}

func emptyLicenseReport(env *Env) LicenseReport {
	return LicenseReport{
		Meta:     env.meta(),
		Insights: []insight.Insight{},
		Licenses: []LicenseRecord{},
	}
}

func (c *LicenseCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	items, err := env.Graph.GetAll(ctx, "/v1.0/subscribedSkus", graph.PageOptions{})
	if err != nil {
		return failWith(env, licensesFile, emptyLicenseReport(env), err)
	}

	records := make([]LicenseRecord, 0, len(items))
	for _, item := range items {
		prepaid := mapper.Map(item, "prepaidUnits", "PrepaidUnits")

		rec := LicenseRecord{
			SkuID:            mapper.String(item, "skuId", "SkuId"),
			SkuPartNumber:    mapper.String(item, "skuPartNumber", "SkuPartNumber"),
			CapabilityStatus: mapper.String(item, "capabilityStatus", "CapabilityStatus"),
			EnabledUnits:     mapper.IntOr(prepaid, 0, "enabled", "Enabled"),
			SuspendedUnits:   mapper.IntOr(prepaid, 0, "suspended", "Suspended"),
			WarningUnits:     mapper.IntOr(prepaid, 0, "warning", "Warning"),
			ConsumedUnits:    mapper.IntOr(item, 0, "consumedUnits", "ConsumedUnits"),
		}
		rec.AvailableUnits = rec.EnabledUnits - rec.ConsumedUnits
		if rec.EnabledUnits > 0 {
			rec.Utilization = float64(rec.ConsumedUnits) / float64(rec.EnabledUnits)
		}
		rec.SeatStatus = classifySeats(rec)
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SkuPartNumber < records[j].SkuPartNumber
	})

	summary := summarizeLicenses(records)
	insights := licenseInsights(summary)
	insight.SortBySeverity(insights)

	report := LicenseReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Licenses: records,
	}
	if err := output.WriteJSON(env.path(licensesFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func classifySeats(rec LicenseRecord) string {
	switch {
	case rec.EnabledUnits > 0 && rec.ConsumedUnits >= rec.EnabledUnits:
		return SeatStatusExhausted
	case rec.EnabledUnits > 0 && rec.Utilization < 0.5:
		return SeatStatusUnderused
	default:
		return SeatStatusHealthy
	}
}

func summarizeLicenses(records []LicenseRecord) LicenseSummary {
	var s LicenseSummary
	s.TotalSkus = len(records)
	for _, rec := range records {
		s.TotalSeats += rec.EnabledUnits
		s.AssignedSeats += rec.ConsumedUnits
		switch rec.SeatStatus {
		case SeatStatusExhausted:
			s.Exhausted++
		case SeatStatusUnderused:
			s.Underused++
		}
	}
	return s
}

func licenseInsights(s LicenseSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "licenses-exhausted",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.Exhausted, s.Exhausted > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d license SKUs have no seats left", n)
			},
			Recommendation: "Buy seats or reclaim assignments before onboarding is blocked",
		},
		{
			ID:       "licenses-underused",
			Severity: insight.SeverityInfo,
			When:     func() (int, bool) { return s.Underused, s.Underused > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d license SKUs sit below half utilization", n)
			},
			Recommendation: "Review underused SKUs for cost savings",
		},
	}
	return insight.Evaluate(rules)
}
