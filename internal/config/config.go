// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Source        SourceConfig       `mapstructure:"source"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SourceConfig contains upstream source connection configuration
type SourceConfig struct {
	APIBaseURL      string        `mapstructure:"api_base_url"`
	RawBaseURL      string        `mapstructure:"raw_base_url"`
	CoreRepo        string        `mapstructure:"core_repo"`
	ComponentsPath  string        `mapstructure:"components_path"`
	Branch          string        `mapstructure:"branch"`
	BrandsRepo      string        `mapstructure:"brands_repo"`
	BrandsBaseURL   string        `mapstructure:"brands_base_url"`
	Token           string        `mapstructure:"token"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	AnonymousDelay  time.Duration `mapstructure:"anonymous_delay"`
	RateLimitMargin time.Duration `mapstructure:"rate_limit_margin"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// SyncConfig contains reconciliation engine configuration
type SyncConfig struct {
	DefaultType         string        `mapstructure:"default_type"`
	ScheduleInterval    time.Duration `mapstructure:"schedule_interval"`
	FallbackIcon        string        `mapstructure:"fallback_icon"`
	FallbackDescription string        `mapstructure:"fallback_description"`
}

// NotificationConfig contains completion webhook configuration
type NotificationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("CATALOG_SYNC")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if token := os.Getenv("SOURCE_TOKEN"); token != "" {
		config.Source.Token = token
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "catalog-sync")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Source defaults
	viper.SetDefault("source.api_base_url", "https://api.github.com")
	viper.SetDefault("source.raw_base_url", "https://raw.githubusercontent.com")
	viper.SetDefault("source.core_repo", "home-assistant/core")
	viper.SetDefault("source.components_path", "homeassistant/components")
	viper.SetDefault("source.branch", "dev")
	viper.SetDefault("source.brands_repo", "home-assistant/brands")
	viper.SetDefault("source.brands_base_url", "https://brands.home-assistant.io")
	viper.SetDefault("source.request_timeout", "30s")
	viper.SetDefault("source.retry_attempts", 3)
	viper.SetDefault("source.retry_delay", "2s")
	viper.SetDefault("source.request_delay", "100ms")
	viper.SetDefault("source.anonymous_delay", "1s")
	viper.SetDefault("source.rate_limit_margin", "5s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/catalog.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Sync defaults
	viper.SetDefault("sync.default_type", "incremental")
	viper.SetDefault("sync.schedule_interval", "0")
	viper.SetDefault("sync.fallback_icon", "mdi:puzzle")
	viper.SetDefault("sync.fallback_description", "No description available")

	// Notification defaults
	viper.SetDefault("notifications.enabled", false)
	viper.SetDefault("notifications.timeout", "10s")
	viper.SetDefault("notifications.retry_attempts", 3)
	viper.SetDefault("notifications.retry_delay", "5s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Source.APIBaseURL == "" {
		return fmt.Errorf("source API base URL is required")
	}
	if c.Source.CoreRepo == "" {
		return fmt.Errorf("source core repository is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Source.RetryAttempts <= 0 {
		return fmt.Errorf("source retry attempts must be positive")
	}
	switch c.Sync.DefaultType {
	case "full", "incremental", "manual":
	default:
		return fmt.Errorf("sync default type must be full, incremental or manual")
	}
	return nil
}
