package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the pyreport configuration file
const ConfigFileName = "config.yaml"

// ConfigDirName is the name of the pyreport configuration directory
const ConfigDirName = ".pyreport"

// Config holds all pyreport configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Parse    ParseConfig    `yaml:"parse"`
	Serve    ServeConfig    `yaml:"serve"`
}

// DatabaseConfig holds configuration for the coverage database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ParseConfig holds configuration for pyreport parsing
type ParseConfig struct {
	// MaxLineMB caps the length of a single chunks-file line, in megabytes.
	MaxLineMB int `yaml:"max_line_mb"`
}

// ServeConfig holds configuration for the MCP server
type ServeConfig struct {
	Tools []string `yaml:"tools"`
}

// ErrConfigNotFound is returned when no config file can be found
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from .pyreport/config.yaml, falling back to defaults.
// It searches for the config directory starting from workDir and walking up
// the directory tree. If no config is found, returns defaults.
func Load(workDir string) (*Config, error) {
	configDir, err := FindConfigDir(workDir)
	if err != nil {
		// No config dir found, return defaults
		return DefaultConfig(), nil
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	return LoadFromPath(configPath)
}

// LoadFromPath reads config from a specific path.
// Merges loaded config with defaults and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())

	if err := Validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// FindConfigDir locates the .pyreport directory by walking up from startDir.
// Returns the path to the .pyreport directory if found.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, config not found
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// Validate checks that config values are valid.
// Returns an error if validation fails.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("%w: database path must not be empty", ErrInvalidConfig)
	}

	if cfg.Parse.MaxLineMB <= 0 {
		return fmt.Errorf("%w: max_line_mb must be positive, got %d",
			ErrInvalidConfig, cfg.Parse.MaxLineMB)
	}

	for _, tool := range cfg.Serve.Tools {
		if !IsValidTool(tool) {
			return fmt.Errorf("%w: serve tool must be one of %v, got %q",
				ErrInvalidConfig, ValidTools, tool)
		}
	}

	return nil
}
