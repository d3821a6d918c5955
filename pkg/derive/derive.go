// Package derive holds the pure calculators that turn raw timestamps and
// status strings into day counts, urgency buckets and staleness flags.
// Every function is deterministic for a given input; the reference time is
// always passed in.
package derive

import (
	"math"
	"strings"
	"time"
)

const (
	UrgencyExpired  = "expired"
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyMedium   = "medium"
	UrgencyNormal   = "normal"
	UrgencyUnknown  = "unknown"
)

// ParseGraphTime parses the timestamp formats Graph and the Defender API
// emit: RFC 3339 with or without fractional seconds, and bare dates.
// Returns nil for empty or unparsable input.
func ParseGraphTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// DaysSince returns the whole days elapsed since t, clamped to zero for
// future timestamps. Nil input yields nil.
func DaysSince(t *time.Time, now time.Time) *int {
	if t == nil {
		return nil
	}
	days := int(math.Floor(now.Sub(*t).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return &days
}

// DaysUntil returns the signed day distance to t: positive for any future
// timestamp, negative for any past one. Nil input yields nil.
func DaysUntil(t *time.Time, now time.Time) *int {
	if t == nil {
		return nil
	}
	hours := t.Sub(now).Hours() / 24
	var days int
	if hours >= 0 {
		days = int(math.Ceil(hours))
	} else {
		days = int(math.Floor(hours))
	}
	return &days
}

// UrgencySteps are the inclusive upper bounds of the urgency buckets.
type UrgencySteps struct {
	Critical int
	High     int
	Medium   int
}

func DefaultUrgencySteps() UrgencySteps {
	return UrgencySteps{Critical: 3, High: 7, Medium: 14}
}

// ClassifyUrgency buckets a remaining-days count. Boundaries are inclusive
// on the lower value: daysLeft <= Critical is critical, and so on. A
// negative count means the deadline already passed.
func ClassifyUrgency(daysLeft *int, steps UrgencySteps) string {
	if daysLeft == nil {
		return UrgencyUnknown
	}
	switch d := *daysLeft; {
	case d < 0:
		return UrgencyExpired
	case d <= steps.Critical:
		return UrgencyCritical
	case d <= steps.High:
		return UrgencyHigh
	case d <= steps.Medium:
		return UrgencyMedium
	default:
		return UrgencyNormal
	}
}

// UrgencyRank orders urgency buckets most pressing first, for sorting
// records before write.
func UrgencyRank(urgency string) int {
	switch urgency {
	case UrgencyExpired:
		return 0
	case UrgencyCritical:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 3
	case UrgencyNormal:
		return 4
	default:
		return 5
	}
}

// IsInactive reports whether an account or device counts as inactive.
// Absence of any recorded activity is treated as inactive, not unknown.
func IsInactive(daysSinceActivity *int, inactiveThreshold int) bool {
	if daysSinceActivity == nil {
		return true
	}
	return *daysSinceActivity >= inactiveThreshold
}

// SignatureStale reports whether an AV signature is older than the
// threshold. Unlike IsInactive, an unknown signature age is not stale:
// the Defender API frequently omits it for healthy sensors.
func SignatureStale(daysSinceUpdate *int, maxAgeDays int) bool {
	if daysSinceUpdate == nil {
		return false
	}
	return *daysSinceUpdate >= maxAgeDays
}
