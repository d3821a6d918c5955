// Package xref loads a previously written sibling snapshot so collectors
// can enrich their records by shared identifier. The dependency is soft: a
// missing sibling file means reduced enrichment, never a failed run.
package xref

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/entrascope/entrascope/pkg/mapper"
)

// Lookup is an ephemeral ID -> record index built once per collector run.
type Lookup struct {
	records map[string]map[string]any
}

var defaultRecordKeys = []string{"records", "users", "guests", "groups", "devices", "value"}

// Load reads a sibling snapshot (bare array or envelope) and indexes its
// records by ID. A missing file yields an empty lookup and no error.
func Load(path string, recordKeys ...string) (*Lookup, error) {
	lookup := &Lookup{records: make(map[string]map[string]any)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lookup, nil
		}
		return lookup, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return lookup, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if len(recordKeys) == 0 {
		recordKeys = defaultRecordKeys
	}
	for _, rec := range extractRecords(doc, recordKeys) {
		if id := mapper.String(rec, "id", "Id", "ID"); id != "" {
			lookup.records[id] = rec
		}
	}
	return lookup, nil
}

func extractRecords(doc any, recordKeys []string) []map[string]any {
	switch v := doc.(type) {
	case []any:
		return toRecords(v)
	case map[string]any:
		for _, key := range recordKeys {
			if arr, ok := v[key].([]any); ok {
				return toRecords(arr)
			}
		}
	}
	return nil
}

func toRecords(arr []any) []map[string]any {
	records := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}

func (l *Lookup) Len() int {
	return len(l.records)
}

// Get returns the raw record for an ID.
func (l *Lookup) Get(id string) (map[string]any, bool) {
	rec, ok := l.records[id]
	return rec, ok
}

// Bool reads a flag off the record for an ID, false when the ID or the
// field is absent.
func (l *Lookup) Bool(id string, names ...string) bool {
	rec, ok := l.records[id]
	if !ok {
		return false
	}
	return mapper.Bool(rec, names...)
}

// String reads a string field off the record for an ID, "" when absent.
func (l *Lookup) String(id string, names ...string) string {
	rec, ok := l.records[id]
	if !ok {
		return ""
	}
	return mapper.String(rec, names...)
}
