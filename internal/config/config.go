package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"mltrack/internal/errors"

	"github.com/joho/godotenv"
)

// DefaultTrackingURI is used when MLFLOW_TRACKING_URI is unset
const DefaultTrackingURI = "sqlite:///mlruns/mlflow.db"

// Config represents the complete application configuration
type Config struct {
	Tracking TrackingConfig
	Server   ServerConfig
	LogLevel string
}

// TrackingConfig holds tracking service connection settings
type TrackingConfig struct {
	URI          string
	ArtifactRoot string
	Username     string
	Password     string
	Token        string
	MaxRetries   int
	Timeout      time.Duration
	BackoffBase  time.Duration
	InsecureTLS  bool

	// uriFromEnv is set when MLFLOW_TRACKING_URI came from the environment or .env
	uriFromEnv bool
}

// PreferURI switches to uri (typically from a pipeline config file) unless
// MLFLOW_TRACKING_URI was set explicitly
func (c *TrackingConfig) PreferURI(uri string) {
	if uri != "" && !c.uriFromEnv {
		c.URI = uri
	}
}

// ServerConfig holds tracking server settings
type ServerConfig struct {
	Port string
	Host string
}

// Load reads an optional .env file, then configuration from environment
// variables, and validates it
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only
func FromEnv() (*Config, error) {
	config := &Config{
		Tracking: *loadTrackingConfig(),
		Server:   *loadServerConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		URI:          getEnvOrDefault("MLFLOW_TRACKING_URI", DefaultTrackingURI),
		ArtifactRoot: getEnvOrDefault("MLFLOW_ARTIFACT_ROOT", "./mlruns/artifacts"),
		Username:     os.Getenv("MLFLOW_TRACKING_USERNAME"),
		Password:     os.Getenv("MLFLOW_TRACKING_PASSWORD"),
		Token:        os.Getenv("MLFLOW_TRACKING_TOKEN"),
		MaxRetries:   getEnvIntOrDefault("MLFLOW_HTTP_REQUEST_MAX_RETRIES", 5),
		Timeout:      getEnvDurationOrDefault("MLFLOW_HTTP_REQUEST_TIMEOUT", 120*time.Second),
		BackoffBase:  getEnvDurationOrDefault("MLFLOW_HTTP_REQUEST_BACKOFF", 500*time.Millisecond),
		InsecureTLS:  getEnvBoolOrDefault("MLFLOW_TRACKING_INSECURE_TLS", false),
		uriFromEnv:   os.Getenv("MLFLOW_TRACKING_URI") != "",
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: getEnvOrDefault("PORT", "5000"),
		Host: getEnvOrDefault("HOST", "127.0.0.1"),
	}
}

func validateConfig(config *Config) error {
	uri := strings.TrimSpace(config.Tracking.URI)
	if uri == "" {
		return errors.ConfigInvalid("tracking URI is required")
	}
	if config.Tracking.MaxRetries < 0 {
		return errors.ConfigInvalid("MLFLOW_HTTP_REQUEST_MAX_RETRIES must not be negative")
	}
	if config.Tracking.Timeout <= 0 {
		return errors.ConfigInvalid("MLFLOW_HTTP_REQUEST_TIMEOUT must be positive")
	}
	if config.Tracking.Token != "" && config.Tracking.Username != "" {
		return errors.ConfigInvalid("set either MLFLOW_TRACKING_TOKEN or MLFLOW_TRACKING_USERNAME, not both")
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// Durations accept either Go syntax ("90s") or a bare number of seconds,
// which is how MLflow clients spell their timeouts.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}
