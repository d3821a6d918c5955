package insight

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(id string, sev Severity, count int, fired bool) Rule {
	return Rule{
		ID:       id,
		Severity: sev,
		When:     func() (int, bool) { return count, fired },
		Describe: func(c int) string { return fmt.Sprintf("%s affects %d", id, c) },
	}
}

func TestEvaluatePreservesInsertionOrder(t *testing.T) {
	insights := Evaluate([]Rule{
		rule("first", SeverityLow, 1, true),
		rule("skipped", SeverityCritical, 0, false),
		rule("second", SeverityHigh, 2, true),
	})

	require.Len(t, insights, 2)
	assert.Equal(t, "first", insights[0].ID)
	assert.Equal(t, "second", insights[1].ID)
	assert.Equal(t, "second affects 2", insights[1].Description)
}

func TestEvaluateNoSuppression(t *testing.T) {
	// A critical finding does not swallow lower-severity ones.
	insights := Evaluate([]Rule{
		rule("critical-a", SeverityCritical, 5, true),
		rule("info-b", SeverityInfo, 3, true),
	})
	assert.Len(t, insights, 2)
}

func TestEvaluateEmpty(t *testing.T) {
	insights := Evaluate(nil)
	require.NotNil(t, insights)
	assert.Len(t, insights, 0)
}

func TestSortBySeverityIsStable(t *testing.T) {
	insights := Evaluate([]Rule{
		rule("low-1", SeverityLow, 1, true),
		rule("high-1", SeverityHigh, 1, true),
		rule("high-2", SeverityHigh, 1, true),
		rule("critical-1", SeverityCritical, 1, true),
	})

	SortBySeverity(insights)

	ids := make([]string, len(insights))
	for i, in := range insights {
		ids[i] = in.ID
	}
	assert.Equal(t, []string{"critical-1", "high-1", "high-2", "low-1"}, ids)
}

func TestRank(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
	for i := 1; i < len(order); i++ {
		assert.Less(t, Rank(order[i-1]), Rank(order[i]))
	}
	assert.Equal(t, Rank(SeverityInfo), Rank(Severity("unknown")))
}
