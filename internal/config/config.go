package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AWS      AWSConfig      `yaml:"aws"`
	Receive  ReceiveConfig  `yaml:"receive"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Verify   VerifyConfig   `yaml:"verify"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for distributed locking
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// AWSConfig holds AWS credentials and region for SES and S3
type AWSConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c AWSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether AWS credentials are present. Resources can
// still be created without them; rule configuration surfaces a warning
// instead of failing the whole request.
func (c AWSConfig) Configured() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// ReceiveConfig holds the SES receipt pipeline settings: the shared rule
// set, the S3 bucket raw mail is stored in, and the Lambda forwarder that
// posts processed events back to us.
type ReceiveConfig struct {
	RuleSetName string `yaml:"rule_set_name"`
	S3Bucket    string `yaml:"s3_bucket"`
	LambdaArn   string `yaml:"lambda_arn"`
	MailFrom    string `yaml:"mail_from"` // sender for forwards/notifications, e.g. "relay"
}

// IngestConfig holds the inbound webhook boundary settings
type IngestConfig struct {
	ServiceAPIKey string `yaml:"service_api_key"`
}

// DeliveryConfig holds webhook delivery defaults
type DeliveryConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	DefaultRetryAttempts  int `yaml:"default_retry_attempts"`
	MaxTimeoutSeconds     int `yaml:"max_timeout_seconds"`
}

// DefaultTimeout returns the default per-attempt webhook timeout
func (c DeliveryConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// VerifyConfig holds domain verification polling settings
type VerifyConfig struct {
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	FallbackResolvers   []string `yaml:"fallback_resolvers"`
}

// PollInterval returns the verification polling interval as a duration
func (c VerifyConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Resolvers returns the MX fallback resolver chain. DNS propagation lag is
// the main real-world verification failure, so two independent public
// resolvers are consulted before reporting a record missing.
func (c VerifyConfig) Resolvers() []string {
	if len(c.FallbackResolvers) > 0 {
		return c.FallbackResolvers
	}
	return []string{"8.8.8.8:53", "1.1.1.1:53"}
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

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.TimeoutSeconds == 0 {
		cfg.AWS.TimeoutSeconds = 30
	}
	if cfg.Receive.RuleSetName == "" {
		cfg.Receive.RuleSetName = "inbound-gateway-rules"
	}
	if cfg.Receive.MailFrom == "" {
		cfg.Receive.MailFrom = "relay"
	}
	if cfg.Delivery.DefaultTimeoutSeconds == 0 {
		cfg.Delivery.DefaultTimeoutSeconds = 10
	}
	if cfg.Delivery.DefaultRetryAttempts == 0 {
		cfg.Delivery.DefaultRetryAttempts = 3
	}
	if cfg.Delivery.MaxTimeoutSeconds == 0 {
		cfg.Delivery.MaxTimeoutSeconds = 30
	}
	if cfg.Verify.PollIntervalSeconds == 0 {
		cfg.Verify.PollIntervalSeconds = 300
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.AWS.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.AWS.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.AWS.Region = region
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if key := os.Getenv("SERVICE_API_KEY"); key != "" {
		cfg.Ingest.ServiceAPIKey = key
	}
	if bucket := os.Getenv("SES_S3_BUCKET"); bucket != "" {
		cfg.Receive.S3Bucket = bucket
	}
	if arn := os.Getenv("SES_LAMBDA_ARN"); arn != "" {
		cfg.Receive.LambdaArn = arn
	}
	if name := os.Getenv("SES_RULE_SET_NAME"); name != "" {
		cfg.Receive.RuleSetName = name
	}

	return cfg, nil
}
