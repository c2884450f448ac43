package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 190, cfg.MaxHeartRate)
	assert.True(t, cfg.ControlPointKick)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			expected: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			expected: logrus.ErrorLevel,
		},
		{
			name:     "unknown level falls back to info",
			logLevel: "loud",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoadFile(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "hrmon.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
scan_timeout: 5s
connect_timeout: 1m
output_format: json
max_heart_rate: 185
control_point_kick: false
`)

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
		assert.Equal(t, time.Minute, cfg.ConnectTimeout)
		assert.Equal(t, "json", cfg.OutputFormat)
		assert.Equal(t, 185, cfg.MaxHeartRate)
		assert.False(t, cfg.ControlPointKick)
	})

	t.Run("keeps defaults for omitted fields", func(t *testing.T) {
		path := writeConfig(t, `log_level: warn`)

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
		assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, "table", cfg.OutputFormat)
		assert.Equal(t, 190, cfg.MaxHeartRate)
		assert.True(t, cfg.ControlPointKick)
	})

	t.Run("rejects bad duration", func(t *testing.T) {
		path := writeConfig(t, `scan_timeout: soon`)

		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("rejects bad log level", func(t *testing.T) {
		path := writeConfig(t, `log_level: loud`)

		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name         string
		outputFormat string
		valid        bool
	}{
		{
			name:         "table format is valid",
			outputFormat: "table",
			valid:        true,
		},
		{
			name:         "json format is valid",
			outputFormat: "json",
			valid:        true,
		},
		{
			name:         "csv format is valid",
			outputFormat: "csv",
			valid:        true,
		},
		{
			name:         "unknown format",
			outputFormat: "xml",
			valid:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				OutputFormat: tt.outputFormat,
			}

			// Test that we can identify valid formats
			validFormats := []string{"table", "json", "csv"}
			isValid := false
			for _, format := range validFormats {
				if cfg.OutputFormat == format {
					isValid = true
					break
				}
			}

			assert.Equal(t, tt.valid, isValid)
		})
	}
}

func TestConfig_ZeroValues(t *testing.T) {
	cfg := &Config{}

	// Test that zero values don't cause panics
	logger := cfg.NewLogger()
	assert.NotNil(t, logger)

	// An empty log level falls back to info
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	// Zero timeout values
	assert.Equal(t, time.Duration(0), cfg.ScanTimeout)
	assert.Equal(t, time.Duration(0), cfg.ConnectTimeout)

	// Empty output format
	assert.Equal(t, "", cfg.OutputFormat)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkConfig_NewLogger(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.NewLogger()
	}
}
