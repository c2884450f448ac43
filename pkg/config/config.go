// Package config holds the application configuration: logging, timeouts,
// output format, and monitoring behavior defaults. Values come from struct
// defaults, optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" default:"info"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OutputFormat     string        `yaml:"output_format" default:"table"` // table, json, csv
	MaxHeartRate     int           `yaml:"max_heart_rate" default:"190"`
	ControlPointKick bool          `yaml:"control_point_kick" default:"true"`
}

// DefaultConfig returns configuration populated from the struct defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// UnmarshalYAML decodes a Config, accepting durations in time.ParseDuration
// form ("10s", "1m30s"), which yaml.v3 does not handle natively.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		LogLevel         *string `yaml:"log_level"`
		ScanTimeout      *string `yaml:"scan_timeout"`
		ConnectTimeout   *string `yaml:"connect_timeout"`
		OutputFormat     *string `yaml:"output_format"`
		MaxHeartRate     *int    `yaml:"max_heart_rate"`
		ControlPointKick *bool   `yaml:"control_point_kick"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.LogLevel != nil {
		c.LogLevel = *raw.LogLevel
	}
	if raw.ScanTimeout != nil {
		d, err := time.ParseDuration(*raw.ScanTimeout)
		if err != nil {
			return fmt.Errorf("invalid scan_timeout: %w", err)
		}
		c.ScanTimeout = d
	}
	if raw.ConnectTimeout != nil {
		d, err := time.ParseDuration(*raw.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("invalid connect_timeout: %w", err)
		}
		c.ConnectTimeout = d
	}
	if raw.OutputFormat != nil {
		c.OutputFormat = *raw.OutputFormat
	}
	if raw.MaxHeartRate != nil {
		c.MaxHeartRate = *raw.MaxHeartRate
	}
	if raw.ControlPointKick != nil {
		c.ControlPointKick = *raw.ControlPointKick
	}
	return nil
}

// LoadFile reads a YAML configuration file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q in %s", cfg.LogLevel, path)
	}

	return cfg, nil
}

// Level returns the configured log level; unknown values fall back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
