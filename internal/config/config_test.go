package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omnirouter.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "1M", cfg.Server.BodyLimit)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Router.Workers)
	assert.Equal(t, 60*time.Second, cfg.Router.DelegateTimeout)
	assert.Equal(t, 3, cfg.AssistAI.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.AssistAI.Retry.RetryDelay)
	assert.Equal(t, []int{408, 429, 500, 502, 503, 504}, cfg.AssistAI.Retry.RetryableStatuses)
	assert.Equal(t, 5, cfg.JobQueue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 20.0, cfg.Outbound.PerSecond)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000

[storage]
driver = "memory"

[assistai]
base_url = "https://ai.example.com"
api_token = "from-file"

[assistai.retry]
max_retries = 5
retry_delay = "2s"

[outbound]
rate_per_second = 5
burst = 2
`)
	t.Setenv("OMNIROUTER_ASSISTAI__API_TOKEN", "from-env")
	t.Setenv("OMNIROUTER_ROUTER__QUEUE_SIZE", "12")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "from-env", cfg.AssistAI.APIToken)
	assert.Equal(t, 12, cfg.Router.QueueSize)
	assert.Equal(t, 5, cfg.AssistAI.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.AssistAI.Retry.RetryDelay)
	assert.Equal(t, 5.0, cfg.Outbound.PerSecond)
	assert.Equal(t, 2, cfg.Outbound.Burst)
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnirouter.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.JobQueue.Enabled)
	assert.NoError(t, Validate(cfg))

	assert.ErrorContains(t, InitConfig(path), "already exists")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: 8080},
			Storage: StorageConfig{Driver: StoragePostgres},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "missing assistai", mutate: func(c *Config) {}, wantErr: "assistai.base_url is required"},
		{name: "relative url", mutate: func(c *Config) { c.AssistAI.BaseURL = "/v1"; c.AssistAI.APIToken = "t" }, wantErr: "not an absolute URL"},
		{name: "bad driver", mutate: func(c *Config) {
			c.AssistAI.BaseURL = "https://ai.example.com"
			c.AssistAI.APIToken = "t"
			c.Storage.Driver = "sqlite"
		}, wantErr: "storage.driver"},
		{name: "queue on memory", mutate: func(c *Config) {
			c.AssistAI.BaseURL = "https://ai.example.com"
			c.AssistAI.APIToken = "t"
			c.Storage.Driver = StorageMemory
			c.JobQueue.Enabled = true
		}, wantErr: "jobqueue requires"},
		{name: "bad port", mutate: func(c *Config) {
			c.AssistAI.BaseURL = "https://ai.example.com"
			c.AssistAI.APIToken = "t"
			c.Server.Port = 0
		}, wantErr: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.wantErr)
		})
	}
}
