package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "s3.amazonaws.com", cfg.S3.Endpoint)
	assert.Equal(t, 0, cfg.S3.Retry.MaxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "mailfiler", cfg.Metrics.Job)

	timeout, err := cfg.S3.GetTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "mailfiler.toml")

	content := `
[folders]
main = "  inbound  "
processed = "processed"

[s3]
endpoint = "minio.local:9000"
disable_tls = true
timeout = "5s"

[s3.retry]
max_retries = 3
initial_interval = "50ms"

[logging]
level = "debug"

unknown_key = "ignored"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(configPath, &cfg))

	assert.Equal(t, "inbound", cfg.Folders.Main, "string fields are trimmed")
	assert.Equal(t, "processed", cfg.Folders.Processed)
	assert.Equal(t, "minio.local:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.DisableTLS)
	assert.Equal(t, 3, cfg.S3.Retry.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched defaults survive
	assert.Equal(t, "json", cfg.Logging.Format)

	interval, err := cfg.S3.Retry.GetInitialInterval()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, interval)
}

func TestLoadConfigFromFile_InvalidBoolean(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[s3]\ndisable_tls = f\n"), 0644))

	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(configPath, &cfg)
	require.Error(t, err)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg)
	assert.True(t, os.IsNotExist(err))
}

func TestApplyEnv(t *testing.T) {
	cfg := NewDefaultConfig()
	err := ApplyEnv(&cfg, envFrom(map[string]string{
		EnvMainFolder:      "inbound",
		EnvProcessedFolder: "processed",
		EnvRegion:          "eu-central-1",
		EnvS3DisableTLS:    "true",
		EnvLogLevel:        "debug",
		EnvPushgatewayURL:  "http://pushgateway:9091",
	}))
	require.NoError(t, err)

	assert.Equal(t, "inbound", cfg.Folders.Main)
	assert.Equal(t, "processed", cfg.Folders.Processed)
	assert.Equal(t, "eu-central-1", cfg.S3.Region)
	assert.True(t, cfg.S3.DisableTLS)
	assert.False(t, cfg.S3.Trace)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushgatewayURL)
	assert.Equal(t, "s3.amazonaws.com", cfg.S3.Endpoint, "unset variables keep the current value")
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	cfg := NewDefaultConfig()
	err := ApplyEnv(&cfg, envFrom(map[string]string{EnvS3Trace: "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvS3Trace)
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "mailfiler.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
[folders]
main = "inbound"
processed = "from-file"
`), 0644))

	cfg, err := Load(envFrom(map[string]string{
		EnvConfigFile:      configPath,
		EnvProcessedFolder: "from-env",
	}))
	require.NoError(t, err)
	assert.Equal(t, "inbound", cfg.Folders.Main)
	assert.Equal(t, "from-env", cfg.Folders.Processed, "environment wins over the file")
}

func TestLoad_MissingFolders(t *testing.T) {
	_, err := Load(envFrom(map[string]string{EnvMainFolder: "inbound"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvProcessedFolder)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := NewDefaultConfig()
		cfg.Folders.Main = "inbound"
		cfg.Folders.Processed = "processed"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "same folders are left to the processor", mutate: func(c *Config) { c.Folders.Processed = c.Folders.Main }},
		{name: "missing main", mutate: func(c *Config) { c.Folders.Main = "" }, wantErr: true},
		{name: "missing endpoint", mutate: func(c *Config) { c.S3.Endpoint = "" }, wantErr: true},
		{name: "bad timeout", mutate: func(c *Config) { c.S3.Timeout = "soon" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.S3.Retry.MaxRetries = -1 }, wantErr: true},
		{name: "bad max interval", mutate: func(c *Config) { c.S3.Retry.MaxInterval = "10" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
