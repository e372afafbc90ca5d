package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	DB    DBConfig    `yaml:"db" envconfig:"DB"`
	Kafka KafkaConfig `yaml:"kafka" envconfig:"KAFKA"`
}

const baseYAML = `
db:
  host: localhost
  port: 5432
  user: app
  password: ${DB_PASSWORD}
  name: notifications
kafka:
  brokers: ["localhost:9092"]
  topic: notifications
  group_id: notification-service-group
  num_partitions: 1
  replication_factor: 1
  poll_timeout: 1s
  topic_retry_delay: 3s
  retry_backoff: 1s
  max_retry_backoff: 30s
  process_timeout: 30s
  admin_timeout: 10s
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoad_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)

	var cfg testConfig
	require.NoError(t, Load("local", dir, &cfg))

	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Kafka.PollTimeout)
	assert.Equal(t, 3*time.Second, cfg.Kafka.TopicRetryDelay)
}

func TestLoad_EnvFileOverridesBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	writeFile(t, dir, "production.yaml", "db:\n  host: db.internal\nkafka:\n  topic: prod-notifications\n")

	var cfg testConfig
	require.NoError(t, Load("production", dir, &cfg))

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port, "nested keys not in the env file are kept")
	assert.Equal(t, "prod-notifications", cfg.Kafka.Topic)
}

func TestLoad_SecretsSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	writeFile(t, dir, "secrets.env", "# comment\nDB_PASSWORD=\"s3cret\"\n")

	var cfg testConfig
	require.NoError(t, Load("local", dir, &cfg))

	assert.Equal(t, "s3cret", cfg.DB.Password)
}

func TestLoad_SystemEnvWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_POLL_TIMEOUT", "250ms")

	var cfg testConfig
	require.NoError(t, Load("local", dir, &cfg))

	assert.Equal(t, "env-host", cfg.DB.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.PollTimeout)
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	writeFile(t, dir, "local.yaml", "kafka:\n  topic: \"\"\n")

	var cfg testConfig
	err := Load("local", dir, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_MissingBase(t *testing.T) {
	var cfg testConfig
	err := Load("local", t.TempDir(), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base.yaml")
}

func TestMergeMaps_Recursive(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1, "y": 2},
		"b": "keep",
	}
	src := map[string]interface{}{
		"a": map[string]interface{}{"y": 3},
		"c": true,
	}

	got := mergeMaps(dst, src)

	assert.Equal(t, map[string]interface{}{"x": 1, "y": 3}, got["a"])
	assert.Equal(t, "keep", got["b"])
	assert.Equal(t, true, got["c"])
	assert.Equal(t, 2, dst["a"].(map[string]interface{})["y"], "dst is not mutated")
}

func TestSubstituteEnvVars_Lists(t *testing.T) {
	in := map[string]interface{}{
		"brokers": []interface{}{"${HOST}:9092", 7},
	}
	got := substituteEnvVars(in, map[string]string{"HOST": "kafka"})
	assert.Equal(t, []interface{}{"kafka:9092", 7}, got["brokers"])
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CONFIG_ENV", "")
	assert.Equal(t, "local", GetConfigEnv())
	t.Setenv("CONFIG_ENV", "production")
	assert.Equal(t, "production", GetConfigEnv())
}
