// Package config handles converter configuration loading and management.
package config

import "errors"

// Argument validation errors.
var (
	ErrMissingInput  = errors.New("missing input raster path")
	ErrMissingOutput = errors.New("missing output mesh path")
)

// Config holds all converter settings.
type Config struct {
	Input   string        `yaml:"input"`
	Output  string        `yaml:"output"`
	Mesh    MeshConfig    `yaml:"mesh"`
	Logging LoggingConfig `yaml:"logging"`
}

// MeshConfig holds the coordinate transform settings.
type MeshConfig struct {
	Scale        float64 `yaml:"scale"`
	Exaggeration float64 `yaml:"exaggeration"`
	WGS84        bool    `yaml:"wgs84"`  // x,y in degrees, elevation in meters
	Jitter       bool    `yaml:"jitter"` // quarter-pixel random x,y offsets
	Seed         uint64  `yaml:"seed"`   // 0 = random seed per run
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Mesh: MeshConfig{
			Scale:        1.0,
			Exaggeration: 1.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks that the required paths are present.
func (c *Config) Validate() error {
	if c.Input == "" {
		return ErrMissingInput
	}
	if c.Output == "" {
		return ErrMissingOutput
	}
	return nil
}
