// Package output writes snapshot documents and defines the uniform result
// every collector returns to its caller.
package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// CollectorResult is the uniform triple a collector always returns,
// regardless of internal failure mode.
type CollectorResult struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Errors  []string `json:"errors"`
}

// Ok builds a success result. Partial sub-resource failures ride along in
// errs without flipping the success flag.
func Ok(count int, errs []string) CollectorResult {
	if errs == nil {
		errs = []string{}
	}
	return CollectorResult{Success: true, Count: count, Errors: errs}
}

// Failed builds a failure result carrying the terminal error.
func Failed(err error) CollectorResult {
	return CollectorResult{Success: false, Count: 0, Errors: []string{err.Error()}}
}

// Meta is the envelope header stamped into every snapshot document.
type Meta struct {
	CollectionDate string `json:"collectionDate"`
	TenantID       string `json:"tenantId,omitempty"`
	TenantName     string `json:"tenantName,omitempty"`
	RunID          string `json:"runId,omitempty"`
}

func NewMeta(now time.Time, tenantID, tenantName, runID string) Meta {
	return Meta{
		CollectionDate: now.UTC().Format(time.RFC3339),
		TenantID:       tenantID,
		TenantName:     tenantName,
		RunID:          runID,
	}
}

// WriteJSON serializes v to path with two-space indentation, creating
// parent directories as needed. Key order follows the struct definition,
// so identical input produces byte-identical output.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
