// Package config provides configuration loading and management for petpal.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"petpal/pkg/imaging"
	"petpal/pkg/table"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Table output parameters
	Table struct {
		// Separators maps a file extension such as ".csv" to its field
		// separator. Extensions are matched case-sensitively. When set, it
		// replaces the default table instead of extending it.
		Separators map[string]string `yaml:"separators"`
	} `yaml:"table"`

	// Brain mask workflow parameters
	BrainMask struct {
		// MotionTarget is mean_image, max_image, sum_image or a path to a 3D image
		MotionTarget string `yaml:"motionTarget"`

		// Transform is the registration type: SyN, Affine or Rigid
		Transform string `yaml:"transform"`

		// AtlasPath is the default template image
		AtlasPath string `yaml:"atlasPath"`

		// AtlasMaskPath is the default brain mask in template space
		AtlasMaskPath string `yaml:"atlasMaskPath"`
	} `yaml:"brainMask"`

	// ANTs command line tools
	ANTs struct {
		// BinDir holds antsRegistrationSyNQuick.sh and antsApplyTransforms; empty uses PATH
		BinDir string `yaml:"binDir"`

		// Threads is the number of registration threads
		Threads int `yaml:"threads"`

		// WorkDir is where intermediate transforms are kept; empty uses the system temp dir
		WorkDir string `yaml:"workDir"`
	} `yaml:"ants"`

	// Output parameters
	Output struct {
		// Verbose switches the log level to debug
		Verbose bool `yaml:"verbose"`

		// LogLevel is debug, info, warn or error
		LogLevel string `yaml:"logLevel"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// QCDir receives central slice snapshots when set
		QCDir string `yaml:"qcDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Table.Separators = map[string]string(table.DefaultSeparators())

	cfg.BrainMask.MotionTarget = "mean_image"
	cfg.BrainMask.Transform = string(imaging.TransformSyN)

	cfg.ANTs.Threads = runtime.NumCPU()

	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// yaml.v3 merges into an existing map, so the file's table must start empty
	cfg.Table.Separators = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Table.Separators) == 0 {
		cfg.Table.Separators = map[string]string(table.DefaultSeparators())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be corrected at use time
func (c *Config) Validate() error {
	var errs []error
	for ext, sep := range c.Table.Separators {
		if len(ext) < 2 || ext[0] != '.' {
			errs = append(errs, fmt.Errorf("table extension %q must start with a dot", ext))
		}
		if sep == "" {
			errs = append(errs, fmt.Errorf("table extension %q has an empty separator", ext))
		}
	}
	switch imaging.TransformKind(c.BrainMask.Transform) {
	case imaging.TransformSyN, imaging.TransformAffine, imaging.TransformRigid:
	default:
		errs = append(errs, fmt.Errorf("unknown transform %q", c.BrainMask.Transform))
	}
	if c.ANTs.Threads < 0 {
		errs = append(errs, fmt.Errorf("ants threads must be non-negative, got %d", c.ANTs.Threads))
	}
	return errors.Join(errs...)
}

// TableSeparators returns the separator table for table.WithSeparators
func (c *Config) TableSeparators() table.Separators {
	if len(c.Table.Separators) == 0 {
		return table.DefaultSeparators()
	}
	return table.Separators(c.Table.Separators)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
