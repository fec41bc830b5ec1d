package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tracking service
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	StatsRateLimit      *int     `yaml:"stats_rate_limit"` // requests per minute per IP, 0 disables
}

const defaultStatsRateLimit = 60

// StatsLimit returns the /stats rate limit. Unset means the default of 60,
// an explicit 0 turns the limiter off.
func (c ServerConfig) StatsLimit() int {
	if c.StatsRateLimit == nil {
		return defaultStatsRateLimit
	}
	return *c.StatsRateLimit
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReadTimeout returns the configured read timeout as a duration
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the configured write timeout as a duration
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the configured idle timeout as a duration
func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// StorageConfig selects and configures the tracking document store
type StorageConfig struct {
	Type             string `yaml:"type"` // memory, postgres, dynamodb, redis, mongo
	DatabaseURL      string `yaml:"database_url"`
	AutoMigrate      bool   `yaml:"auto_migrate"`
	DynamoDBTable    string `yaml:"dynamodb_table"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"` // DynamoDB Local, empty for AWS
	AWSRegion        string `yaml:"aws_region"`
	AWSProfile       string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisDB          int    `yaml:"redis_db"`
	MongoURI         string `yaml:"mongo_uri"`
	MongoDatabase    string `yaml:"mongo_database"`
	MongoCollection  string `yaml:"mongo_collection"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// QueueConfig enables asynchronous recording through SQS
type QueueConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	WaitSeconds int    `yaml:"wait_seconds"`
	MaxMessages int    `yaml:"max_messages"`
}

// ArchiveConfig holds the S3 destination for document exports
type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email masking is on. Defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 5
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 10
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 120
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.StatsRateLimit == nil {
		limit := defaultStatsRateLimit
		cfg.Server.StatsRateLimit = &limit
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "pixel-tracking"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = "localhost:6379"
	}
	if cfg.Storage.MongoDatabase == "" {
		cfg.Storage.MongoDatabase = "tracking"
	}
	if cfg.Storage.MongoCollection == "" {
		cfg.Storage.MongoCollection = "analytics"
	}
	if cfg.Queue.WaitSeconds == 0 {
		cfg.Queue.WaitSeconds = 20
	}
	if cfg.Queue.MaxMessages == 0 {
		cfg.Queue.MaxMessages = 10
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "tracking-exports"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. An empty
// path skips the YAML file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Storage.DynamoDBEndpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Storage.MongoURI = v
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.Queue.SQSQueueURL = v
		cfg.Queue.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
