package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Meta
	Records []map[string]any `json:"records"`
	Total   int              `json:"total"`
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	doc := testDoc{
		Meta:    NewMeta(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), "tenant-1", "Contoso", "run-1"),
		Records: []map[string]any{{"id": "a"}},
		Total:   1,
	}

	require.NoError(t, WriteJSON(path, doc))

	var got testDoc
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2025-06-15T12:00:00Z", got.CollectionDate)
	assert.Equal(t, "Contoso", got.TenantName)
	assert.Equal(t, 1, got.Total)
}

func TestWriteJSONIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	doc := testDoc{
		Meta:    NewMeta(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), "tenant-1", "Contoso", "run-1"),
		Records: []map[string]any{{"id": "a"}},
		Total:   1,
	}

	pathA := filepath.Join(dir, "a.json")
	pathB := filepath.Join(dir, "b.json")
	require.NoError(t, WriteJSON(pathA, doc))
	require.NoError(t, WriteJSON(pathB, doc))

	rawA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	rawB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB)
}

func TestWriteJSONCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "doc.json")
	require.NoError(t, WriteJSON(path, map[string]any{"ok": true}))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestNewMetaNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	meta := NewMeta(time.Date(2025, 6, 15, 14, 0, 0, 0, loc), "", "", "")
	assert.Equal(t, "2025-06-15T12:00:00Z", meta.CollectionDate)
	assert.Empty(t, meta.TenantID)
}

func TestResults(t *testing.T) {
	ok := Ok(12, nil)
	assert.True(t, ok.Success)
	assert.Equal(t, 12, ok.Count)
	require.NotNil(t, ok.Errors)
	assert.Len(t, ok.Errors, 0)

	partial := Ok(3, []string{"owners for g1: 403"})
	assert.True(t, partial.Success)
	assert.Len(t, partial.Errors, 1)

	failed := Failed(assert.AnError)
	assert.False(t, failed.Success)
	assert.Equal(t, 0, failed.Count)
	assert.Len(t, failed.Errors, 1)
}
