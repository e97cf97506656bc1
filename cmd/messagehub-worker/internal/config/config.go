// Package config provides configuration management for the message hub worker.
// Settings come from the environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the worker.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database DatabaseConfig
	AWS      AWSConfig
	Hub      HubConfig
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"mysql" validate:"oneof=mysql postgres sqlite3"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306" validate:"min=1,max=65535"`
	User     string `envconfig:"DB_USER" default:"messagehub"`
	Password string `envconfig:"DB_PASSWORD"`
	Database string `envconfig:"DB_NAME" default:"messagehub" validate:"required"`
	Prefix   string `envconfig:"DB_PREFIX" default:"messagehub_"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"false"`
}

// AWSConfig holds the SQS connection settings.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-1" validate:"required"`
	// Endpoint overrides the SQS endpoint, e.g. for a local emulator.
	Endpoint string `envconfig:"SQS_ENDPOINT" validate:"omitempty,url"`
	// QueueURLs maps queue names to URLs, as name:url pairs separated by commas.
	QueueURLs map[string]string `envconfig:"SQS_QUEUE_URLS"`
}

// HubConfig holds message hub tuning.
type HubConfig struct {
	ReplyTimeout        time.Duration `envconfig:"HUB_REPLY_TIMEOUT" default:"30s" validate:"gt=0"`
	MaxBundleWeight     int64         `envconfig:"HUB_MAX_BUNDLE_WEIGHT" default:"50" validate:"gt=0"`
	MaxItemsPerDrawer   int           `envconfig:"HUB_MAX_ITEMS_PER_DRAWER" default:"10000" validate:"gt=0"`
	CleanupInterval     time.Duration `envconfig:"HUB_CLEANUP_INTERVAL" default:"5m" validate:"gt=0"`
	CleanupRetention    time.Duration `envconfig:"HUB_CLEANUP_RETENTION" default:"168h" validate:"gt=0"`
	CleanupBatchSize    int           `envconfig:"HUB_CLEANUP_BATCH_SIZE" default:"100" validate:"gt=0"`
	EnableNotifications bool          `envconfig:"HUB_ENABLE_NOTIFICATIONS" default:"true"`
}

// ErrorType categorizes configuration loading failures.
type ErrorType string

const (
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load.
type ConfigError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first if present; it never overrides variables
// that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load()
}

func load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if cfg.Database.Driver != "sqlite3" && cfg.Database.Password == "" {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "DB_PASSWORD environment variable is required",
		}
	}

	return &cfg, nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}
