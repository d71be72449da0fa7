package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the complete server configuration.
type Config struct {
	// ServerPort is the port the HTTP server listens on.
	ServerPort string

	// Database configuration for the MongoDB document store.
	Database DatabaseConfig

	// ObjectStore configuration for the S3-compatible blob store.
	ObjectStore ObjectStoreConfig

	// ScriptConfigPath is the path to the pipeline script JSON file.
	ScriptConfigPath string

	// ReconcileSchedule is the cron expression for the pending-status
	// reconciliation sweep.
	ReconcileSchedule string

	// AllowedOrigins are the origins permitted by the CORS middleware.
	AllowedOrigins []string
}

// DatabaseConfig contains MongoDB connection configuration.
type DatabaseConfig struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the primary database holding sync state and upload records.
	Database string

	// AnalyticsDatabase holds the pipeline status log. Production keeps it
	// in a separate analytics database.
	AnalyticsDatabase string
}

// ObjectStoreConfig contains S3 configuration for the pipeline buckets.
type ObjectStoreConfig struct {
	// Region is the AWS region for all buckets.
	Region string

	// AccessKeyID / SecretAccessKey are static credentials. They are also
	// exported into the environment of the quality-check scripts.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	// When set, path-style addressing is used.
	Endpoint string

	// UploadBucket receives raw CSV uploads.
	UploadBucket string

	// QualityInputBucket holds the per-category JSONL files consumed by the
	// quality-check scripts.
	QualityInputBucket string

	// QualityOutputBucket receives the quality-check script output.
	QualityOutputBucket string

	// ProcessedBucket holds the pipeline's processed output; reconciliation
	// watches it for new objects, and error logs are read from it.
	ProcessedBucket string
}

// LoadFromEnv loads configuration from environment variables.
// This follows the 12-factor app methodology for configuration.
func LoadFromEnv() (*Config, error) {
	config := &Config{
		ServerPort: getEnvOrDefault("SERVER_PORT", "8080"),
		Database: DatabaseConfig{
			URI:               getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:          getEnvOrDefault("MONGO_DATABASE", "nudgesync"),
			AnalyticsDatabase: getEnvOrDefault("ANALYTICS_DB_NAME", "analytics"),
		},
		ObjectStore: ObjectStoreConfig{
			Region:              getEnvOrDefault("AWS_REGION", "ap-south-1"),
			AccessKeyID:         os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:            os.Getenv("S3_ENDPOINT"),
			UploadBucket:        getEnvOrDefault("S3_UPLOAD_BUCKET", "nudgesync-uploads"),
			QualityInputBucket:  getEnvOrDefault("S3_QUALITY_INPUT_BUCKET", "nudgesync-extracted"),
			QualityOutputBucket: getEnvOrDefault("S3_QUALITY_OUTPUT_BUCKET", "nudgesync-quality"),
			ProcessedBucket:     getEnvOrDefault("S3_PROCESSED_BUCKET", "nudgesync-processed"),
		},
		ScriptConfigPath:  getEnvOrDefault("SCRIPT_CONFIG_PATH", "config/scripts.json"),
		ReconcileSchedule: getEnvOrDefault("RECONCILE_SCHEDULE", "@every 1m"),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, trimmed)
			}
		}
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("MONGO_DATABASE is required")
	}
	if c.ObjectStore.Region == "" {
		return fmt.Errorf("AWS_REGION is required")
	}
	if c.ObjectStore.AccessKeyID == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID is required")
	}
	if c.ObjectStore.SecretAccessKey == "" {
		return fmt.Errorf("AWS_SECRET_ACCESS_KEY is required")
	}
	if c.ObjectStore.UploadBucket == "" {
		return fmt.Errorf("S3_UPLOAD_BUCKET is required")
	}
	if c.ObjectStore.ProcessedBucket == "" {
		return fmt.Errorf("S3_PROCESSED_BUCKET is required")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer or a default if not set.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
