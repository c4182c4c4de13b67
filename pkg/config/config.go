// Package config provides configuration loading and management for segwizard.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Surface construction parameters
	Surface struct {
		// MinPoints is the number of landmarks below which no surface is built
		MinPoints int `yaml:"minPoints" validate:"gte=3"`

		// Subdivisions is the number of butterfly smoothing passes
		Subdivisions int `yaml:"subdivisions" validate:"gte=0,lte=6"`

		// DuplicateTolerance is the distance in mm under which landmarks are merged
		DuplicateTolerance float64 `yaml:"duplicateTolerance" validate:"gte=0"`
	} `yaml:"surface"`

	// Clipping parameters
	Clip struct {
		// ClipOutside keeps the inside of the surface and fills the outside
		ClipOutside bool `yaml:"clipOutside"`

		// FillValue overrides the default fill of one below the volume minimum
		FillValue *float64 `yaml:"fillValue,omitempty"`
	} `yaml:"clip"`

	// Display defaults for new clipping surfaces
	Display struct {
		// SurfaceColor is the RGB color of the surface, each channel in [0, 1]
		SurfaceColor []float64 `yaml:"surfaceColor" validate:"len=3,dive,gte=0,lte=1"`

		// SurfaceOpacity is the surface opacity in [0, 1]
		SurfaceOpacity float64 `yaml:"surfaceOpacity" validate:"gte=0,lte=1"`
	} `yaml:"display"`

	// Output parameters
	Output struct {
		// SaveSTL writes the clipping surface as binary STL next to the output
		SaveSTL bool `yaml:"saveSTL"`

		// SaveLabelSTL writes the boundary of the ROI label as binary STL
		SaveLabelSTL bool `yaml:"saveLabelSTL"`

		// SaveSlices writes JPEG review slices of the cropped volume
		SaveSlices bool `yaml:"saveSlices"`

		// SliceAxis is the axis review slices are cut across
		SliceAxis string `yaml:"sliceAxis" validate:"oneof=axial coronal sagittal"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" validate:"oneof=debug info warn error"`

		// File is an optional log file path, rotated by size
		File string `yaml:"file"`

		// MaxSizeMB is the size at which the log file is rotated
		MaxSizeMB int `yaml:"maxSizeMB" validate:"gte=1"`

		// MaxBackups is the number of rotated files kept
		MaxBackups int `yaml:"maxBackups" validate:"gte=0"`

		// MaxAgeDays is the number of days rotated files are kept
		MaxAgeDays int `yaml:"maxAgeDays" validate:"gte=0"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default surface parameters
	cfg.Surface.MinPoints = 3
	cfg.Surface.Subdivisions = 3
	cfg.Surface.DuplicateTolerance = 1e-3

	// Set default clipping parameters
	cfg.Clip.ClipOutside = true

	// Set default display parameters
	cfg.Display.SurfaceColor = []float64{0, 0, 1}
	cfg.Display.SurfaceOpacity = 0.3

	// Set default output parameters
	cfg.Output.SaveSTL = false
	cfg.Output.SaveLabelSTL = false
	cfg.Output.SaveSlices = false
	cfg.Output.SliceAxis = "axial"

	// Set default logging parameters
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 20
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 14

	return cfg
}

// Validate checks the configuration values against their constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
