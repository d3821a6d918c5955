package collectors

import (
	"path/filepath"
	"time"

	"github.com/entrascope/entrascope/pkg/config"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/output"
)

// Env carries everything a collector needs for one run: the API clients,
// the configured thresholds and where to write. There is no shared mutable
// state between runs.
type Env struct {
	Graph      *graph.Client
	Defender   *graph.Client
	Cfg        *config.Thresholds
	OutputDir  string
	TenantID   string
	TenantName string
	RunID      string

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) path(filename string) string {
	return filepath.Join(e.OutputDir, filename)
}

func (e *Env) meta() output.Meta {
	return output.NewMeta(e.now(), e.TenantID, e.TenantName, e.RunID)
}
