// Package config holds the mailfiler configuration.
//
// Configuration is read from an optional TOML file and then overridden by
// environment variables. In AWS Lambda there is usually no file at all and
// the environment is the only source:
//
//	MAIN_EMAILS_FOLDER       folder inbound emails are delivered to
//	PROCESSED_EMAILS_FOLDER  folder filed copies are written to
//	MAILFILER_CONFIG         optional path to a TOML file
//	S3_ENDPOINT, AWS_REGION, S3_DISABLE_TLS, S3_TRACE
//	LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT
//	METRICS_PUSHGATEWAY_URL
//
// # Example
//
//	[folders]
//	main = "inbound"
//	processed = "processed"
//
//	[s3]
//	endpoint = "s3.amazonaws.com"
//	region = "eu-west-1"
//
//	[s3.retry]
//	max_retries = 2
//
//	[logging]
//	level = "debug"
//	format = "json"
package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names understood by ApplyEnv.
const (
	EnvMainFolder      = "MAIN_EMAILS_FOLDER"
	EnvProcessedFolder = "PROCESSED_EMAILS_FOLDER"
	EnvConfigFile      = "MAILFILER_CONFIG"
	EnvS3Endpoint      = "S3_ENDPOINT"
	EnvRegion          = "AWS_REGION"
	EnvS3DisableTLS    = "S3_DISABLE_TLS"
	EnvS3Trace         = "S3_TRACE"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvLogOutput       = "LOG_OUTPUT"
	EnvPushgatewayURL  = "METRICS_PUSHGATEWAY_URL"
)

// FoldersConfig names the key prefixes inbound and filed emails live under.
type FoldersConfig struct {
	Main      string `toml:"main"`      // Folder inbound emails are delivered to
	Processed string `toml:"processed"` // Folder filed copies are written to
}

// RetryConfig controls retries of S3 calls. MaxRetries of 0 means a single attempt.
type RetryConfig struct {
	MaxRetries      int    `toml:"max_retries"`
	InitialInterval string `toml:"initial_interval"`
	MaxInterval     string `toml:"max_interval"`
}

// GetInitialInterval parses the initial backoff interval.
func (r *RetryConfig) GetInitialInterval() (time.Duration, error) {
	if r.InitialInterval == "" {
		return 200 * time.Millisecond, nil
	}
	return time.ParseDuration(r.InitialInterval)
}

// GetMaxInterval parses the maximum backoff interval.
func (r *RetryConfig) GetMaxInterval() (time.Duration, error) {
	if r.MaxInterval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(r.MaxInterval)
}

// S3Config holds S3 configuration.
type S3Config struct {
	Endpoint   string      `toml:"endpoint"`
	Region     string      `toml:"region"`
	DisableTLS bool        `toml:"disable_tls"`
	AccessKey  string      `toml:"access_key"` // Optional, falls back to the AWS/MinIO environment and IAM
	SecretKey  string      `toml:"secret_key"`
	Trace      bool        `toml:"trace"`   // Enable detailed S3 request/response tracing
	Timeout    string      `toml:"timeout"` // Per-operation timeout, e.g. "30s"
	Retry      RetryConfig `toml:"retry"`
}

// GetTimeout parses the per-operation timeout. Zero disables it.
func (s *S3Config) GetTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url"` // Push after every invocation when set
	Job            string `toml:"job"`
}

// WebhookConfig holds the bucket notification webhook server configuration.
type WebhookConfig struct {
	Addr        string `toml:"addr"`
	AuthToken   string `toml:"auth_token"` // Required bearer token, empty disables auth
	MetricsPath string `toml:"metrics_path"`
}

// Config is the complete mailfiler configuration.
type Config struct {
	Folders FoldersConfig `toml:"folders"`
	S3      S3Config      `toml:"s3"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
	Webhook WebhookConfig `toml:"webhook"`
}

// NewDefaultConfig returns the configuration used when nothing is set.
func NewDefaultConfig() Config {
	return Config{
		S3: S3Config{
			Endpoint: "s3.amazonaws.com",
			Timeout:  "30s",
			Retry: RetryConfig{
				MaxRetries:      0,
				InitialInterval: "200ms",
				MaxInterval:     "5s",
			},
		},
		Logging: LoggingConfig{
			Output: "stdout",
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Job: "mailfiler",
		},
		Webhook: WebhookConfig{
			Addr:        ":8080",
			MetricsPath: "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the optional file named by
// MAILFILER_CONFIG, and the environment, then validates it.
func Load(getenv func(string) string) (Config, error) {
	cfg := NewDefaultConfig()
	if path := strings.TrimSpace(getenv(EnvConfigFile)); path != "" {
		if err := LoadConfigFromFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFromFile decodes a TOML file into cfg. Unknown keys are reported
// but do not fail loading.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// ApplyEnv overrides cfg with any of the supported environment variables
// that are set. getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %q", name, v)
		}
		*dst = b
		return nil
	}

	setString(EnvMainFolder, &cfg.Folders.Main)
	setString(EnvProcessedFolder, &cfg.Folders.Processed)
	setString(EnvS3Endpoint, &cfg.S3.Endpoint)
	setString(EnvRegion, &cfg.S3.Region)
	setString(EnvLogLevel, &cfg.Logging.Level)
	setString(EnvLogFormat, &cfg.Logging.Format)
	setString(EnvLogOutput, &cfg.Logging.Output)
	setString(EnvPushgatewayURL, &cfg.Metrics.PushgatewayURL)

	if err := setBool(EnvS3DisableTLS, &cfg.S3.DisableTLS); err != nil {
		return err
	}
	return setBool(EnvS3Trace, &cfg.S3.Trace)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Folders.Main == "" {
		return fmt.Errorf("main emails folder is required (set folders.main or %s)", EnvMainFolder)
	}
	if c.Folders.Processed == "" {
		return fmt.Errorf("processed emails folder is required (set folders.processed or %s)", EnvProcessedFolder)
	}
	if c.S3.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is required")
	}
	if _, err := c.S3.GetTimeout(); err != nil {
		return fmt.Errorf("invalid s3 timeout %q: %w", c.S3.Timeout, err)
	}
	if c.S3.Retry.MaxRetries < 0 {
		return fmt.Errorf("s3 retry max_retries must not be negative, got %d", c.S3.Retry.MaxRetries)
	}
	if _, err := c.S3.Retry.GetInitialInterval(); err != nil {
		return fmt.Errorf("invalid s3 retry initial_interval %q: %w", c.S3.Retry.InitialInterval, err)
	}
	if _, err := c.S3.Retry.GetMaxInterval(); err != nil {
		return fmt.Errorf("invalid s3 retry max_interval %q: %w", c.S3.Retry.MaxInterval, err)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}

func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	return err
}

// trimStringFields trims whitespace from every string reachable from v.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanSet() {
				trimStringFields(field)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
