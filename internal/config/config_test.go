package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://gw:gw@localhost/gateway?sslmode=disable"
  max_open_conns: 10

redis:
  addr: "localhost:6379"
  enabled: true

aws:
  region: "eu-west-1"
  timeout_seconds: 45

receive:
  rule_set_name: "custom-rules"
  s3_bucket: "mail-bucket"
  lambda_arn: "arn:aws:lambda:eu-west-1:123:function:fwd"

ingest:
  service_api_key: "test-key"

delivery:
  default_timeout_seconds: 15
  default_retry_attempts: 2

verify:
  poll_interval_seconds: 60
  fallback_resolvers: ["9.9.9.9:53"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "postgres://gw:gw@localhost/gateway?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns) // default

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, 45*time.Second, cfg.AWS.Timeout())
	assert.False(t, cfg.AWS.Configured())

	assert.Equal(t, "custom-rules", cfg.Receive.RuleSetName)
	assert.Equal(t, "mail-bucket", cfg.Receive.S3Bucket)
	assert.Equal(t, "relay", cfg.Receive.MailFrom) // default

	assert.Equal(t, "test-key", cfg.Ingest.ServiceAPIKey)

	assert.Equal(t, 15*time.Second, cfg.Delivery.DefaultTimeout())
	assert.Equal(t, 2, cfg.Delivery.DefaultRetryAttempts)
	assert.Equal(t, 30, cfg.Delivery.MaxTimeoutSeconds) // default

	assert.Equal(t, time.Minute, cfg.Verify.PollInterval())
	assert.Equal(t, []string{"9.9.9.9:53"}, cfg.Verify.Resolvers())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "inbound-gateway-rules", cfg.Receive.RuleSetName)
	assert.Equal(t, 10, cfg.Delivery.DefaultTimeoutSeconds)
	assert.Equal(t, 3, cfg.Delivery.DefaultRetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Verify.PollInterval())
	assert.Equal(t, []string{"8.8.8.8:53", "1.1.1.1:53"}, cfg.Verify.Resolvers())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("aws:\n  region: us-east-1\n"), 0644))

	t.Setenv("AWS_SES_ACCESS_KEY", "AKIA-TEST")
	t.Setenv("AWS_SES_SECRET_KEY", "secret")
	t.Setenv("AWS_SES_REGION", "us-west-2")
	t.Setenv("SERVICE_API_KEY", "svc-key")
	t.Setenv("SES_S3_BUCKET", "bucket-from-env")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.AWS.Configured())
	assert.Equal(t, "us-west-2", cfg.AWS.Region)
	assert.Equal(t, "svc-key", cfg.Ingest.ServiceAPIKey)
	assert.Equal(t, "bucket-from-env", cfg.Receive.S3Bucket)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
