package collectors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/output"
)

// Collector is one independent data-gathering unit producing one snapshot
// file. Collect never lets an error escape past its boundary; the uniform
// result triple is the whole contract.
type Collector interface {
	Name() string
	Description() string
	Collect(ctx context.Context, env *Env) output.CollectorResult
}

// Registry returns all collectors in run order. Users run first so later
// collectors can enrich from the users snapshot.
func Registry() []Collector {
	return []Collector{
		&UserCollector{},
		&GuestCollector{},
		&GroupCollector{},
		&DeviceCollector{},
		&RoleCollector{},
		&LicenseCollector{},
		&RiskDetectionCollector{},
		&ConditionalAccessCollector{},
		&DefenderDeviceCollector{},
		&CredentialCollector{},
	}
}

// Select resolves collector names against the registry, preserving
// registry order. An empty name list selects everything.
func Select(names []string) ([]Collector, error) {
	all := Registry()
	if len(names) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []Collector
	for _, c := range all {
		if wanted[c.Name()] {
			selected = append(selected, c)
			delete(wanted, c.Name())
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
	return selected, nil
}

// RunReport pairs a collector with its result for the caller's summary.
type RunReport struct {
	Name   string
	Result output.CollectorResult
}

// Run executes the selected collectors sequentially. A failing collector
// never stops its siblings.
func Run(ctx context.Context, env *Env, names []string) ([]RunReport, error) {
	selected, err := Select(names)
	if err != nil {
		return nil, err
	}

	reports := make([]RunReport, 0, len(selected))
	for _, collector := range selected {
		message.Section("%s", collector.Name())
		slog.Debug("running collector", "name", collector.Name())

		result := safeCollect(ctx, collector, env)
		if result.Success {
			message.Success("%s: collected %d records", collector.Name(), result.Count)
		} else {
			message.Error("%s failed: %v", collector.Name(), result.Errors)
		}
		for _, warn := range result.Errors {
			if result.Success {
				message.Warning("%s: %s", collector.Name(), warn)
			}
		}

		reports = append(reports, RunReport{Name: collector.Name(), Result: result})
	}
	return reports, nil
}

func safeCollect(ctx context.Context, c Collector, env *Env) (result output.CollectorResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("collector panicked", "name", c.Name(), "panic", r)
			result = output.Failed(fmt.Errorf("collector %s panicked: %v", c.Name(), r))
		}
	}()
	return c.Collect(ctx, env)
}

// failWith writes a safe empty document so downstream consumers never see
// a missing file, then builds the failure result. Permission failures get
// a user-facing hint appended.
func failWith(env *Env, filename string, emptyDoc any, err error) output.CollectorResult {
	result := output.Failed(err)
	if hint := graph.PermissionHint(err); hint != "" {
		result.Errors = append(result.Errors, hint)
	}
	if werr := output.WriteJSON(env.path(filename), emptyDoc); werr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to write empty %s: %v", filename, werr))
	}
	return result
}
