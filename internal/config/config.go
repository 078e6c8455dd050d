package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("inbox-sweeper")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/inbox-sweeper/")
	v.AddConfigPath("$HOME/.inbox-sweeper")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("INBOX_SWEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromFile creates a configuration instance from an explicit config file
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("INBOX_SWEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// dataDir returns the per-user data directory used for default paths.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".inbox-sweeper")
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	dir := dataDir()

	// Gmail client defaults
	v.SetDefault("gmail.credentials_path", filepath.Join(dir, "credentials.json"))
	v.SetDefault("gmail.token_path", filepath.Join(dir, "token.json"))
	v.SetDefault("gmail.page_size", 500)
	v.SetDefault("gmail.fetch_batch_size", 50)
	v.SetDefault("gmail.trash_batch_size", 1000)
	v.SetDefault("gmail.fetch_workers", 8)
	v.SetDefault("gmail.requests_per_second", 10.0)
	v.SetDefault("gmail.burst", 5)
	v.SetDefault("gmail.retry.max_attempts", 5)
	v.SetDefault("gmail.retry.initial_backoff", "1s")
	v.SetDefault("gmail.retry.max_backoff", "60s")

	// Scoring defaults
	v.SetDefault("scoring.weights.list_unsubscribe", 0.40)
	v.SetDefault("scoring.weights.sender_pattern", 0.20)
	v.SetDefault("scoring.weights.precedence_bulk", 0.15)
	v.SetDefault("scoring.weights.high_volume", 0.15)
	v.SetDefault("scoring.weights.promotions", 0.10)
	v.SetDefault("scoring.automated_patterns", []string{
		"noreply", "no-reply", "donotreply", "do-not-reply",
		"newsletter", "notification", "notifications",
	})
	v.SetDefault("scoring.high_volume_threshold", 10)
	v.SetDefault("scoring.thresholds.newsletter", 0.7)
	v.SetDefault("scoring.thresholds.likely_newsletter", 0.5)
	v.SetDefault("scoring.thresholds.uncertain", 0.3)

	// Scan defaults
	v.SetDefault("scan.query", "")
	v.SetDefault("scan.max_messages", 1000)
	v.SetDefault("scan.sample_subjects", 5)

	// Cache defaults
	v.SetDefault("cache.type", "sqlite")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.sqlite_path", filepath.Join(dir, "cache.db"))
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/inbox_sweeper")

	// Audit defaults
	v.SetDefault("audit.path", filepath.Join(dir, "trash_log.jsonl"))

	// Clean defaults
	v.SetDefault("clean.min_score", 0.5)
	v.SetDefault("clean.confirmation_token", "TRASH")
	v.SetDefault("clean.protected_domains", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
