// Package config provides configuration loading and management for
// resector3d. It handles loading configuration from YAML files and provides
// default values matching the EPISURG augmentation recipe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"resector3d/pkg/sampling"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Resection parameters
	Resection struct {
		// Volumes is an explicit catalog of cavity volumes in mm^3,
		// mutually exclusive with VolumesRange
		Volumes []float64 `yaml:"volumes"`

		// VolumesRange is a (min,max) interval for uniform cavity-volume
		// sampling, mutually exclusive with Volumes
		VolumesRange []float64 `yaml:"volumesRange"`

		// SigmasRange bounds the per-axis Gaussian blur stddevs in mm
		SigmasRange []float64 `yaml:"sigmasRange"`

		// RadiiRatioRange bounds the ellipsoid semi-axis ratio
		RadiiRatioRange []float64 `yaml:"radiiRatioRange"`

		// AnglesRange bounds the ellipsoid rotation angles in degrees
		AnglesRange []float64 `yaml:"anglesRange"`
	} `yaml:"resection"`

	// Processing parameters
	Processing struct {
		// Seed initializes the random source; 0 seeds from the clock
		Seed uint64 `yaml:"seed"`

		// Count is how many augmented samples to generate per input
		Count int `yaml:"count"`

		// NumWorkers caps concurrent sample generation
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// DeleteKeys drops the consumed mask/noise inputs from samples
		// once the transform has run
		DeleteKeys bool `yaml:"deleteKeys"`

		// Verbose enables per-stage timing diagnostics
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default resection parameters (EPISURG recipe)
	cfg.Resection.VolumesRange = []float64{50, 5000}
	cfg.Resection.SigmasRange = []float64{0.5, 1}
	cfg.Resection.RadiiRatioRange = []float64{0.5, 1.5}
	cfg.Resection.AnglesRange = []float64{0, 180}

	// Set default processing parameters
	cfg.Processing.Count = 1
	cfg.Processing.NumWorkers = runtime.NumCPU()

	// Set default output parameters
	cfg.Output.DeleteKeys = true
	cfg.Output.Verbose = false

	return cfg
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

	// Parse YAML. A file that sets a volume catalog must not inherit the
	// default volumes range, so the range is cleared unless the file also
	// sets it (which Validate then rejects).
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Resection.Volumes) > 0 && !rangeInFile(data) {
		cfg.Resection.VolumesRange = nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rangeInFile reports whether the YAML document itself sets volumesRange.
func rangeInFile(data []byte) bool {
	var doc struct {
		Resection struct {
			VolumesRange []float64 `yaml:"volumesRange"`
		} `yaml:"resection"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	return doc.Resection.VolumesRange != nil
}

// Validate checks range shapes and the volumes/volumesRange mutual
// exclusivity before any sampling happens.
func (cfg *Config) Validate() error {
	hasCatalog := len(cfg.Resection.Volumes) > 0
	hasRange := len(cfg.Resection.VolumesRange) > 0
	if hasCatalog == hasRange {
		return sampling.ErrVolumesConfig
	}
	ranges := map[string][]float64{
		"sigmasRange":     cfg.Resection.SigmasRange,
		"radiiRatioRange": cfg.Resection.RadiiRatioRange,
		"anglesRange":     cfg.Resection.AnglesRange,
	}
	if hasRange {
		ranges["volumesRange"] = cfg.Resection.VolumesRange
	}
	for name, r := range ranges {
		if len(r) != 2 {
			return fmt.Errorf("%s must have exactly 2 elements, got %d", name, len(r))
		}
		if r[0] > r[1] {
			return fmt.Errorf("%s bounds are out of order: %v", name, r)
		}
	}
	if cfg.Processing.Count < 1 {
		return fmt.Errorf("processing count must be at least 1, got %d", cfg.Processing.Count)
	}
	if cfg.Processing.NumWorkers < 1 {
		return fmt.Errorf("numWorkers must be at least 1, got %d", cfg.Processing.NumWorkers)
	}
	return nil
}

// SamplerOptions converts the validated configuration into sampler options.
func (cfg *Config) SamplerOptions() sampling.Options {
	opts := sampling.Options{Volumes: cfg.Resection.Volumes}
	if len(cfg.Resection.VolumesRange) == 2 {
		r := sampling.Range{cfg.Resection.VolumesRange[0], cfg.Resection.VolumesRange[1]}
		opts.VolumesRange = &r
	}
	if len(cfg.Resection.SigmasRange) == 2 {
		r := sampling.Range{cfg.Resection.SigmasRange[0], cfg.Resection.SigmasRange[1]}
		opts.SigmasRange = &r
	}
	if len(cfg.Resection.RadiiRatioRange) == 2 {
		r := sampling.Range{cfg.Resection.RadiiRatioRange[0], cfg.Resection.RadiiRatioRange[1]}
		opts.RadiiRatioRange = &r
	}
	if len(cfg.Resection.AnglesRange) == 2 {
		r := sampling.Range{cfg.Resection.AnglesRange[0], cfg.Resection.AnglesRange[1]}
		opts.AnglesRange = &r
	}
	return opts
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
