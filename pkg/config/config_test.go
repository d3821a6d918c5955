package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	thresholds, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), thresholds)
}

func TestFromViperOverlaysPartialConfig(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
thresholds:
  inactiveDays: 30
  riskMaxPages: 10
`)))

	thresholds, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 30, thresholds.InactiveDays)
	assert.Equal(t, 10, thresholds.RiskMaxPages)

	// Fields the file omits keep their defaults.
	assert.Equal(t, 90, thresholds.StaleGuestDays)
	assert.Equal(t, 4, thresholds.MaxRetries)
	assert.Equal(t, float64(4), thresholds.RequestsPerSecond)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", ".entrascope.yaml")
	require.NoError(t, WriteDefault(path, false))

	// The written file parses back to the defaults.
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	thresholds, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), thresholds)
	assert.Equal(t, "entrascope-output", v.GetString("output"))
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".entrascope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: custom\n"), 0644))

	err := WriteDefault(path, false)
	assert.Error(t, err)

	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "output: custom\n", string(raw))

	require.NoError(t, WriteDefault(path, true))
}
