package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/migadu/mailfiler/config"
	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/helpers"
	"github.com/migadu/mailfiler/logger"
	"github.com/migadu/mailfiler/pkg/metrics"
	"github.com/migadu/mailfiler/processor"
	"github.com/migadu/mailfiler/server/webhook"
	"github.com/migadu/mailfiler/storage"
)

func handleServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to TOML configuration file")
	addr := fs.String("addr", "", "Listen address (overrides config)")

	fs.Usage = func() {
		fmt.Printf(`Run the webhook server

Usage:
  mailfiler serve [options]

Options:
  --config string   Path to TOML configuration file
  --addr string     Listen address, e.g. :8080 (overrides config)

Endpoints:
  POST /events      S3/MinIO event notification
  GET  /health      Liveness check
  GET  /metrics     Prometheus metrics (path configurable)
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, cleanup := mustLoadConfig(*configPath)
	if *addr != "" {
		cfg.Webhook.Addr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	finish(cleanup, "Server error", runServe(ctx, cfg))
}

// runServe runs the webhook server until ctx is cancelled and the server has
// drained.
func runServe(ctx context.Context, cfg config.Config) error {
	p, err := newProcessor(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		webhook.Start(ctx, p, webhook.ServerOptions{
			Addr:        cfg.Webhook.Addr,
			AuthToken:   cfg.Webhook.AuthToken,
			MetricsPath: cfg.Webhook.MetricsPath,
		}, errChan)
	}()
	<-done

	select {
	case err := <-errChan:
		return err
	default:
		logger.Info("Webhook server stopped")
		return nil
	}
}

func handleProcess() {
	fs := flag.NewFlagSet("process", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to TOML configuration file")
	bucket := fs.String("bucket", "", "Bucket holding the object (required)")
	key := fs.String("key", "", "Object key, not URL-encoded (required)")
	eventTime := fs.String("event-time", "", "Fallback send time in RFC 3339 for messages without a Date header")

	fs.Usage = func() {
		fmt.Printf(`File a single object

Usage:
  mailfiler process [options]

Options:
  --bucket string       Bucket holding the object (required)
  --key string          Object key, not URL-encoded (required)
  --event-time string   Fallback send time in RFC 3339 (default: now)
  --config string       Path to TOML configuration file

Examples:
  mailfiler process --bucket mail-bucket --key "inbound/0a1b2c3d"
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *bucket == "" || *key == "" {
		fs.Usage()
		os.Exit(1)
	}

	var fallback time.Time
	if *eventTime != "" {
		t, err := time.Parse(time.RFC3339, *eventTime)
		if err != nil {
			log.Fatalf("Invalid --event-time: %v", err)
		}
		fallback = t
	}

	cfg, cleanup := mustLoadConfig(*configPath)
	finish(cleanup, "Processing failed", processEvent(cfg, singleObjectEvent(*bucket, *key, fallback)))
}

func handleReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to TOML configuration file")
	eventPath := fs.String("event", "", "Path to S3 event JSON, '-' for stdin (required)")

	fs.Usage = func() {
		fmt.Printf(`Run a saved S3 event through the processor

Usage:
  mailfiler replay [options]

Options:
  --event string    Path to S3 event JSON, '-' for stdin (required)
  --config string   Path to TOML configuration file

Examples:
  mailfiler replay --event testdata/put-event.json
  aws s3api ... | mailfiler replay --event -
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *eventPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	event, err := readEvent(*eventPath)
	if err != nil {
		log.Fatalf("Failed to read event: %v", err)
	}

	cfg, cleanup := mustLoadConfig(*configPath)
	finish(cleanup, "Processing failed", processEvent(cfg, event))
}

func handleSanitize() {
	fs := flag.NewFlagSet("sanitize", flag.ExitOnError)

	filename := fs.String("filename", "", "Value to sanitize as a filename component")
	tag := fs.String("tag", "", "Value to sanitize as a tag value")

	fs.Usage = func() {
		fmt.Printf(`Print the sanitized form of a value

Usage:
  mailfiler sanitize --filename VALUE
  mailfiler sanitize --tag VALUE
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	out, err := sanitize(*filename, *tag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(1)
	}
	fmt.Println(out)
}

func sanitize(filename, tag string) (string, error) {
	switch {
	case filename != "" && tag != "":
		return "", errors.New("use either --filename or --tag, not both")
	case filename != "":
		return helpers.SanitizeFilenameComponent(filename), nil
	case tag != "":
		return helpers.SanitizeTagValue(tag), nil
	default:
		return "", errors.New("--filename or --tag is required")
	}
}

// mustLoadConfig loads configuration and initializes logging. The returned
// function closes the log file, if any.
func mustLoadConfig(configPath string) (config.Config, func()) {
	cfg, err := config.Load(configGetenv(configPath, os.Getenv))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	return cfg, func() {
		if logFile != nil {
			logFile.Close()
		}
	}
}

// configGetenv makes an explicit --config path win over MAILFILER_CONFIG.
func configGetenv(configPath string, getenv func(string) string) func(string) string {
	return func(key string) string {
		if key == config.EnvConfigFile && configPath != "" {
			return configPath
		}
		return getenv(key)
	}
}

func newProcessor(cfg config.Config) (*processor.Processor, error) {
	s3storage, err := storage.New(cfg.S3)
	if err != nil {
		return nil, err
	}
	return processor.New(s3storage, cfg.Folders), nil
}

type eventHandler interface {
	HandleEvent(ctx context.Context, event *events.S3Event) (*processor.Result, error)
}

func processEvent(cfg config.Config, event *events.S3Event) error {
	p, err := newProcessor(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}
	return runEvent(context.Background(), p, cfg.Metrics, event, os.Stdout)
}

// runEvent handles event, prints the result to w and pushes metrics.
func runEvent(ctx context.Context, h eventHandler, metricsCfg config.MetricsConfig, event *events.S3Event, w io.Writer) error {
	result, err := h.HandleEvent(ctx, event)
	printResult(w, result)

	if pushErr := metrics.Push(metricsCfg.PushgatewayURL, metricsCfg.Job, hostname(), 0); pushErr != nil {
		logger.Warn("Failed to push metrics", "error", pushErr)
	}

	if err != nil {
		return err
	}
	if result.Status == processor.StatusError {
		return consts.ErrSameFolder
	}
	return nil
}

// finish logs err, closes the log file, and exits non-zero when err is set.
func finish(cleanup func(), msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	}
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}

// singleObjectEvent wraps one object in an event, encoding the key the way
// S3 notifications do.
func singleObjectEvent(bucket, key string, eventTime time.Time) *events.S3Event {
	var record events.S3EventRecord
	record.EventSource = "mailfiler:cli"
	record.EventName = "ObjectCreated:Manual"
	record.EventTime = eventTime
	record.S3.Bucket.Name = bucket
	record.S3.Object.Key = url.QueryEscape(key)
	return &events.S3Event{Records: []events.S3EventRecord{record}}
}

func readEvent(path string) (*events.S3Event, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var event events.S3Event
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	return &event, nil
}

func printResult(w io.Writer, result *processor.Result) {
	if result == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Error("Failed to encode result", "error", err)
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
