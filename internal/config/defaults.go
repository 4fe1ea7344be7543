package config

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "coverage.db",
		},
		Parse: ParseConfig{
			MaxLineMB: 16,
		},
		Serve: ServeConfig{
			Tools: ValidTools,
		},
	}
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}

	result.Database = mergeDatabaseConfig(loaded.Database, defaults.Database)
	result.Parse = mergeParseConfig(loaded.Parse, defaults.Parse)
	result.Serve = mergeServeConfig(loaded.Serve, defaults.Serve)

	return result
}

func mergeDatabaseConfig(loaded, defaults DatabaseConfig) DatabaseConfig {
	result := DatabaseConfig{}

	// Path: use loaded if non-empty
	if loaded.Path != "" {
		result.Path = loaded.Path
	} else {
		result.Path = defaults.Path
	}

	return result
}

func mergeParseConfig(loaded, defaults ParseConfig) ParseConfig {
	result := ParseConfig{}

	// MaxLineMB: use loaded if non-zero
	if loaded.MaxLineMB != 0 {
		result.MaxLineMB = loaded.MaxLineMB
	} else {
		result.MaxLineMB = defaults.MaxLineMB
	}

	return result
}

func mergeServeConfig(loaded, defaults ServeConfig) ServeConfig {
	result := ServeConfig{}

	// Use loaded tool list if provided, otherwise defaults
	if len(loaded.Tools) > 0 {
		result.Tools = loaded.Tools
	} else {
		result.Tools = defaults.Tools
	}

	return result
}

// ValidTools lists the MCP tools the serve command can expose
var ValidTools = []string{"report_totals", "report_files", "report_sessions", "report_samples"}

// IsValidTool checks if the given tool name is valid
func IsValidTool(tool string) bool {
	for _, valid := range ValidTools {
		if tool == valid {
			return true
		}
	}
	return false
}
