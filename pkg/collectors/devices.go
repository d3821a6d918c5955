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

const devicesFile = "devices.json"

// DeviceCollector snapshots Intune managed devices with compliance and
// staleness classification.
type DeviceCollector struct{}

func (c *DeviceCollector) Name() string { return "devices" }

func (c *DeviceCollector) Description() string {
	return "Intune managed devices with compliance buckets and staleness"
}

type DeviceRecord struct {
	ID                string `json:"id"`
	DeviceName        string `json:"deviceName"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	OperatingSystem   string `json:"operatingSystem"`
	OSVersion         string `json:"osVersion,omitempty"`
	Manufacturer      string `json:"manufacturer,omitempty"`
	Model             string `json:"model,omitempty"`
	Ownership         string `json:"ownership,omitempty"`
	ComplianceState   string `json:"complianceState"`
	LastSyncDateTime  string `json:"lastSyncDateTime,omitempty"`
	DaysSinceSync     *int   `json:"daysSinceSync"`
	IsStale           bool   `json:"isStale"`
	Encrypted         bool   `json:"encrypted"`
}

type DeviceSummary struct {
	Total        int            `json:"total"`
	Compliant    int            `json:"compliant"`
	NonCompliant int            `json:"nonCompliant"`
	GracePeriod  int            `json:"inGracePeriod"`
	Unknown      int            `json:"unknown"`
	Stale        int            `json:"stale"`
	Unencrypted  int            `json:"unencrypted"`
	ByOS         map[string]int `json:"byOperatingSystem"`
}

type DeviceReport struct {
	output.Meta
	Summary  DeviceSummary     `json:"summary"`
	Insights []insight.Insight `json:"insights"`
	Devices  []DeviceRecord    `json:"devices"`
}

func emptyDeviceReport(env *Env) DeviceReport {
	return DeviceReport{
		Meta:     env.meta(),
		Summary:  DeviceSummary{ByOS: map[string]int{}},
		Insights: []insight.Insight{},
		Devices:  []DeviceRecord{},
	}
}

func (c *DeviceCollector) Collect(ctx context.Context, env *Env) output.CollectorResult {
	now := env.now()

	items, err := env.Graph.GetAll(ctx,
		"/v1.0/deviceManagement/managedDevices?$select=id,deviceName,userPrincipalName,operatingSystem,osVersion,manufacturer,model,managedDeviceOwnerType,complianceState,lastSyncDateTime,isEncrypted&$top=999",
		graph.PageOptions{})
	if err != nil {
		return failWith(env, devicesFile, emptyDeviceReport(env), err)
	}

	records := make([]DeviceRecord, 0, len(items))
	for _, item := range items {
		lastSync := mapper.Time(item, "lastSyncDateTime", "LastSyncDateTime")
		daysSinceSync := derive.DaysSince(lastSync, now)

		rec := DeviceRecord{
			ID:                mapper.String(item, "id", "Id"),
			DeviceName:        mapper.String(item, "deviceName", "DeviceName"),
			UserPrincipalName: mapper.String(item, "userPrincipalName", "UserPrincipalName"),
			OperatingSystem:   mapper.String(item, "operatingSystem", "OperatingSystem"),
			OSVersion:         mapper.String(item, "osVersion", "OSVersion", "osVersionString"),
			Manufacturer:      mapper.String(item, "manufacturer", "Manufacturer"),
			Model:             mapper.String(item, "model", "Model"),
			Ownership:         mapper.String(item, "managedDeviceOwnerType", "ManagedDeviceOwnerType", "ownerType"),
			ComplianceState:   normalizeCompliance(mapper.String(item, "complianceState", "ComplianceState")),
			LastSyncDateTime:  mapper.String(item, "lastSyncDateTime", "LastSyncDateTime"),
			DaysSinceSync:     daysSinceSync,
			IsStale:           derive.IsInactive(daysSinceSync, env.Cfg.StaleDeviceDays),
			Encrypted:         mapper.Bool(item, "isEncrypted", "IsEncrypted", "encrypted"),
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DeviceName < records[j].DeviceName
	})

	summary := summarizeDevices(records)
	insights := deviceInsights(summary)
	insight.SortBySeverity(insights)

	report := DeviceReport{
		Meta:     env.meta(),
		Summary:  summary,
		Insights: insights,
		Devices:  records,
	}
	if err := output.WriteJSON(env.path(devicesFile), report); err != nil {
		return output.Failed(err)
	}
	return output.Ok(len(records), nil)
}

func normalizeCompliance(state string) string {
	switch strings.ToLower(state) {
	case "compliant":
		return "compliant"
	case "noncompliant":
		return "noncompliant"
	case "ingraceperiod":
		return "inGracePeriod"
	case "":
		return "unknown"
	default:
		return strings.ToLower(state)
	}
}

func summarizeDevices(records []DeviceRecord) DeviceSummary {
	s := DeviceSummary{ByOS: map[string]int{}}
	s.Total = len(records)
	for _, rec := range records {
		switch rec.ComplianceState {
		case "compliant":
			s.Compliant++
		case "noncompliant":
			s.NonCompliant++
		case "inGracePeriod":
			s.GracePeriod++
		default:
			s.Unknown++
		}
		if rec.IsStale {
			s.Stale++
		}
		if !rec.Encrypted {
			s.Unencrypted++
		}
		os := rec.OperatingSystem
		if os == "" {
			os = "unknown"
		}
		s.ByOS[os]++
	}
	return s
}

func deviceInsights(s DeviceSummary) []insight.Insight {
	rules := []insight.Rule{
		{
			ID:       "devices-noncompliant",
			Severity: insight.SeverityHigh,
			When: func() (int, bool) {
				return s.NonCompliant, s.Total > 0 && float64(s.NonCompliant)/float64(s.Total) > 0.10
			},
			Describe: func(n int) string {
				return fmt.Sprintf("%d managed devices are non-compliant", n)
			},
			Recommendation: "Investigate failing compliance policies and remediate the affected devices",
		},
		{
			ID:       "devices-unencrypted",
			Severity: insight.SeverityHigh,
			When:     func() (int, bool) { return s.Unencrypted, s.Unencrypted > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d managed devices report no disk encryption", n)
			},
			Recommendation: "Enforce BitLocker/FileVault via compliance policy",
		},
		{
			ID:       "devices-stale",
			Severity: insight.SeverityMedium,
			When:     func() (int, bool) { return s.Stale, s.Stale > 0 },
			Describe: func(n int) string {
				return fmt.Sprintf("%d devices have not checked in past the stale threshold", n)
			},
			Recommendation: "Retire or re-enroll devices that stopped syncing",
		},
	}
	return insight.Evaluate(rules)
}
