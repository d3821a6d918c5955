// Package insight evaluates threshold rules over an already-computed
// summary and emits finding records for the downstream dashboard.
package insight

import "sort"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Insight is one rule-derived finding.
type Insight struct {
	ID             string   `json:"id"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	AffectedCount  int      `json:"affectedCount"`
	Recommendation string   `json:"recommendation"`
}

// Rule is a pure predicate over already-computed data. When returns the
// affected count and whether the rule fires; it must not re-fetch or
// mutate source data.
type Rule struct {
	ID             string
	Severity       Severity
	When           func() (count int, fired bool)
	Describe       func(count int) string
	Recommendation string
}

// Evaluate runs the rules in insertion order. Every rule that fires
// contributes one insight; no rule suppresses another.
func Evaluate(rules []Rule) []Insight {
	insights := make([]Insight, 0)
	for _, rule := range rules {
		count, fired := rule.When()
		if !fired {
			continue
		}
		insights = append(insights, Insight{
			ID:             rule.ID,
			Severity:       rule.Severity,
			Description:    rule.Describe(count),
			AffectedCount:  count,
			Recommendation: rule.Recommendation,
		})
	}
	return insights
}

// Rank orders severities most severe first.
func Rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// SortBySeverity orders insights most severe first, stable within a level
// so insertion order is preserved.
func SortBySeverity(insights []Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		return Rank(insights[i].Severity) < Rank(insights[j].Severity)
	})
}
