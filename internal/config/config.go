// ABOUTME: Configuration loading and parsing for the localsync engine
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Remote      RemoteConfig      `yaml:"remote"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig holds local database configuration.
type DatabaseConfig struct {
	// Name is the logical database name; tenant-scoped names are derived
	// from it when MultiTenant is set.
	Name        string `yaml:"name"`
	DataDir     string `yaml:"data_dir"`
	MultiTenant bool   `yaml:"multi_tenant"`
}

// StorageConfig holds the fallback persistence backends.
type StorageConfig struct {
	FileAreaDir   string `yaml:"file_area_dir"`
	FileAreaQuota int64  `yaml:"file_area_quota"`
	BadgerDir     string `yaml:"badger_dir"`
	BadgerQuota   int64  `yaml:"badger_quota"`
	LevelDir      string `yaml:"level_dir"`
	LevelQuota    int64  `yaml:"level_quota"`
}

// PersistenceConfig holds save-path timing configuration.
type PersistenceConfig struct {
	SaveInterval   time.Duration `yaml:"-"`
	IdleBudget     time.Duration `yaml:"-"`
	ThrottleWindow time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SaveIntervalRaw   string `yaml:"save_interval"`
	IdleBudgetRaw     string `yaml:"idle_budget"`
	ThrottleWindowRaw string `yaml:"throttle_window"`

	// Reparse enables the extra parse-back check on every exported blob.
	Reparse bool `yaml:"reparse"`
}

// RemoteConfig holds remote system-of-record configuration.
type RemoteConfig struct {
	PageYield time.Duration `yaml:"-"`

	BaseURL      string `yaml:"base_url"`
	Token        string `yaml:"token"`
	TenantID     string `yaml:"tenant_id"`
	PageSize     int    `yaml:"page_size"`
	PageYieldRaw string `yaml:"page_yield"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration suitable for programmatic embedding,
// rooted at the given data directory.
func Default(dataDir string) *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:    "localsync",
			DataDir: dataDir,
		},
		Persistence: PersistenceConfig{
			SaveInterval:   30 * time.Second,
			IdleBudget:     5 * time.Second,
			ThrottleWindow: time.Minute,
		},
		Remote: RemoteConfig{
			PageSize:  500,
			PageYield: 10 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}

	if c.Database.MultiTenant && c.Remote.TenantID == "" {
		return fmt.Errorf("remote.tenant_id is required when database.multi_tenant is enabled")
	}

	// The remote section is optional, but when a base URL is set a
	// token must come with it.
	if c.Remote.BaseURL != "" && c.Remote.Token == "" {
		return fmt.Errorf("remote.token is required when remote.base_url is set")
	}

	if c.Remote.PageSize < 0 {
		return fmt.Errorf("remote.page_size must not be negative")
	}
	for name, quota := range map[string]int64{
		"storage.file_area_quota": c.Storage.FileAreaQuota,
		"storage.badger_quota":    c.Storage.BadgerQuota,
		"storage.level_quota":     c.Storage.LevelQuota,
	} {
		if quota < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Persistence.SaveIntervalRaw != "" {
		cfg.Persistence.SaveInterval, err = time.ParseDuration(cfg.Persistence.SaveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing save_interval %q: %w", cfg.Persistence.SaveIntervalRaw, err)
		}
	}

	if cfg.Persistence.IdleBudgetRaw != "" {
		cfg.Persistence.IdleBudget, err = time.ParseDuration(cfg.Persistence.IdleBudgetRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_budget %q: %w", cfg.Persistence.IdleBudgetRaw, err)
		}
	}

	if cfg.Persistence.ThrottleWindowRaw != "" {
		cfg.Persistence.ThrottleWindow, err = time.ParseDuration(cfg.Persistence.ThrottleWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing throttle_window %q: %w", cfg.Persistence.ThrottleWindowRaw, err)
		}
	}

	if cfg.Remote.PageYieldRaw != "" {
		cfg.Remote.PageYield, err = time.ParseDuration(cfg.Remote.PageYieldRaw)
		if err != nil {
			return fmt.Errorf("parsing page_yield %q: %w", cfg.Remote.PageYieldRaw, err)
		}
	}

	return nil
}
