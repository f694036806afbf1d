// Package config loads simagg settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"simagg/adapters/simfile"
	"simagg/internal/errors"
	"simagg/internal/resample"
)

// DefaultConfigFile is read when SIMAGG_CONFIG is unset and the file exists
const DefaultConfigFile = "simagg.yaml"

// Config represents the complete application configuration
type Config struct {
	Data        DataConfig        `yaml:"data"`
	Grid        GridConfig        `yaml:"grid"`
	Convergence ConvergenceConfig `yaml:"convergence"`
	Cache       CacheConfig       `yaml:"cache"`
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Export      ExportConfig      `yaml:"export"`
	Workers     int               `yaml:"workers"`
}

// DataConfig locates the run files and names their special columns
type DataConfig struct {
	Dir          string   `yaml:"dir"`
	Experiments  []string `yaml:"experiments"`
	HeaderFormat string   `yaml:"header_format"`
	TimeColumn   string   `yaml:"time_column"`
	SeedVars     []string `yaml:"seed_vars"`
}

// GridConfig describes the common time axis. Nil bounds are inferred.
type GridConfig struct {
	Samples     int      `yaml:"samples"`
	MinTime     *float64 `yaml:"min_time"`
	MaxTime     *float64 `yaml:"max_time"`
	Logarithmic bool     `yaml:"logarithmic"`
}

// ConvergenceConfig holds the default convergence query
type ConvergenceConfig struct {
	Metric    string   `yaml:"metric"`
	Threshold float64  `yaml:"threshold"`
	GroupBy   []string `yaml:"group_by"`
}

// CacheConfig holds aggregate cache settings
type CacheConfig struct {
	Dir        string `yaml:"dir"`
	SkipMarker string `yaml:"skip_marker"`
}

// DatabaseConfig holds the results store connection
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `yaml:"port"`
}

// ExportConfig holds output locations
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir:          "data",
			Experiments:  []string{"simulation"},
			HeaderFormat: string(simfile.CommentHeader),
			TimeColumn:   "time",
			SeedVars:     []string{"seed"},
		},
		Grid: GridConfig{
			Samples: 400,
		},
		Convergence: ConvergenceConfig{
			Metric:    "state[mean]",
			Threshold: 1.0,
		},
		Cache: CacheConfig{
			Dir:        ".simagg-cache",
			SkipMarker: ".skip_data_process",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "simagg.db",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Export: ExportConfig{
			Dir: "exports",
		},
		Workers: runtime.GOMAXPROCS(0),
	}
}

// Load builds the configuration: defaults, the YAML file named by
// SIMAGG_CONFIG (or simagg.yaml if present), then environment variables.
func Load() (*Config, error) {
	config := Default()

	path := os.Getenv("SIMAGG_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(config, path, explicit); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration file")
	}

	applyEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// LoadFile reads a YAML file over the defaults without consulting the environment
func LoadFile(path string) (*Config, error) {
	config := Default()
	if err := loadFile(config, path, true); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(config *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return errors.ConfigInvalid(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("invalid YAML in %s: %v", path, err))
	}
	return nil
}

func applyEnv(config *Config) {
	config.Data.Dir = getEnvOrDefault("SIMAGG_DATA_DIR", config.Data.Dir)
	config.Data.Experiments = getEnvListOrDefault("SIMAGG_EXPERIMENTS", config.Data.Experiments)
	config.Data.HeaderFormat = getEnvOrDefault("SIMAGG_HEADER_FORMAT", config.Data.HeaderFormat)
	config.Data.TimeColumn = getEnvOrDefault("SIMAGG_TIME_COLUMN", config.Data.TimeColumn)
	config.Data.SeedVars = getEnvListOrDefault("SIMAGG_SEED_VARS", config.Data.SeedVars)

	config.Grid.Samples = getEnvIntOrDefault("SIMAGG_TIME_SAMPLES", config.Grid.Samples)
	config.Grid.MinTime = getEnvBoundOrDefault("SIMAGG_MIN_TIME", config.Grid.MinTime)
	config.Grid.MaxTime = getEnvBoundOrDefault("SIMAGG_MAX_TIME", config.Grid.MaxTime)
	config.Grid.Logarithmic = getEnvBoolOrDefault("SIMAGG_LOG_TIME", config.Grid.Logarithmic)

	config.Convergence.Metric = getEnvOrDefault("SIMAGG_CONVERGENCE_METRIC", config.Convergence.Metric)
	config.Convergence.Threshold = getEnvFloatOrDefault("SIMAGG_CONVERGENCE_THRESHOLD", config.Convergence.Threshold)
	config.Convergence.GroupBy = getEnvListOrDefault("SIMAGG_GROUP_BY", config.Convergence.GroupBy)

	config.Cache.Dir = getEnvOrDefault("SIMAGG_CACHE_DIR", config.Cache.Dir)
	config.Cache.SkipMarker = getEnvOrDefault("SIMAGG_SKIP_MARKER", config.Cache.SkipMarker)

	config.Database.Driver = getEnvOrDefault("DATABASE_DRIVER", config.Database.Driver)
	config.Database.URL = getEnvOrDefault("DATABASE_URL", config.Database.URL)

	config.Server.Port = getEnvOrDefault("PORT", config.Server.Port)
	config.Export.Dir = getEnvOrDefault("SIMAGG_EXPORT_DIR", config.Export.Dir)
	config.Workers = getEnvIntOrDefault("SIMAGG_WORKERS", config.Workers)
}

// Variant returns the parsed header format
func (c *Config) Variant() simfile.HeaderVariant {
	v, err := simfile.ParseVariant(c.Data.HeaderFormat)
	if err != nil {
		return simfile.CommentHeader
	}
	return v
}

// TimeGrid converts the grid settings for the resampler
func (c *Config) TimeGrid() resample.GridConfig {
	spacing := resample.SpacingLinear
	if c.Grid.Logarithmic {
		spacing = resample.SpacingLogarithmic
	}
	return resample.GridConfig{
		Samples: c.Grid.Samples,
		Min:     c.Grid.MinTime,
		Max:     c.Grid.MaxTime,
		Spacing: spacing,
	}
}

func validateConfig(config *Config) error {
	if config.Data.Dir == "" {
		return errors.ConfigInvalid("data directory is required")
	}
	if len(config.Data.Experiments) == 0 {
		return errors.ConfigInvalid("at least one experiment prefix is required")
	}
	if _, err := simfile.ParseVariant(config.Data.HeaderFormat); err != nil {
		return err
	}
	if config.Data.TimeColumn == "" {
		return errors.ConfigInvalid("time column is required")
	}
	if config.Grid.Samples <= 0 {
		return errors.ConfigInvalid("time samples must be positive")
	}
	if config.Grid.MinTime != nil && config.Grid.MaxTime != nil && *config.Grid.MaxTime < *config.Grid.MinTime {
		return errors.ConfigInvalid("max time is below min time")
	}
	switch config.Database.Driver {
	case "sqlite", "postgres":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", config.Database.Driver))
	}
	if config.Workers <= 0 {
		return errors.ConfigInvalid("workers must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBoundOrDefault accepts a number, or "auto" to infer the bound
func getEnvBoundOrDefault(key string, defaultValue *float64) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if strings.EqualFold(value, "auto") {
		return nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return &f
	}
	return defaultValue
}
