// Package config holds the named day thresholds and client limits the
// collectors run with. Every field has a hard-coded default used when the
// config file omits it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Thresholds are plain integers; see Defaults for the values used when a
// field is absent from the config file.
type Thresholds struct {
	InactiveDays           int     `mapstructure:"inactiveDays" yaml:"inactiveDays"`
	StaleGuestDays         int     `mapstructure:"staleGuestDays" yaml:"staleGuestDays"`
	StaleDeviceDays        int     `mapstructure:"staleDeviceDays" yaml:"staleDeviceDays"`
	RiskDetectionDays      int     `mapstructure:"riskDetectionDays" yaml:"riskDetectionDays"`
	RiskMaxPages           int     `mapstructure:"riskMaxPages" yaml:"riskMaxPages"`
	SignatureAgeDays       int     `mapstructure:"signatureAgeDays" yaml:"signatureAgeDays"`
	CredentialCriticalDays int     `mapstructure:"credentialCriticalDays" yaml:"credentialCriticalDays"`
	CredentialHighDays     int     `mapstructure:"credentialHighDays" yaml:"credentialHighDays"`
	CredentialMediumDays   int     `mapstructure:"credentialMediumDays" yaml:"credentialMediumDays"`
	MaxRetries             int     `mapstructure:"maxRetries" yaml:"maxRetries"`
	RetryBaseSeconds       int     `mapstructure:"retryBaseSeconds" yaml:"retryBaseSeconds"`
	RequestsPerSecond      float64 `mapstructure:"requestsPerSecond" yaml:"requestsPerSecond"`
}

func Defaults() *Thresholds {
	return &Thresholds{
		InactiveDays:           90,
		StaleGuestDays:         90,
		StaleDeviceDays:        90,
		RiskDetectionDays:      30,
		RiskMaxPages:           4,
		SignatureAgeDays:       7,
		CredentialCriticalDays: 3,
		CredentialHighDays:     7,
		CredentialMediumDays:   14,
		MaxRetries:             4,
		RetryBaseSeconds:       2,
		RequestsPerSecond:      4,
	}
}

// FromViper overlays the "thresholds" section of the loaded config onto
// the defaults.
func FromViper(v *viper.Viper) (*Thresholds, error) {
	thresholds := Defaults()
	if err := v.UnmarshalKey("thresholds", thresholds); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds config: %w", err)
	}
	return thresholds, nil
}

type fileConfig struct {
	Output     string      `yaml:"output"`
	Thresholds *Thresholds `yaml:"thresholds"`
}

// WriteDefault writes a config file populated with the default thresholds.
// Refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	buf, err := yaml.Marshal(fileConfig{
		Output:     "entrascope-output",
		Thresholds: Defaults(),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}
