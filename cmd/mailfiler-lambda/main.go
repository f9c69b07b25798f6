// Command mailfiler-lambda is the AWS Lambda entry point. It is configured
// from the environment (plus an optional TOML file named by
// MAILFILER_CONFIG) and files every object announced by an S3 event.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/migadu/mailfiler/config"
	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/logger"
	"github.com/migadu/mailfiler/pkg/metrics"
	"github.com/migadu/mailfiler/processor"
	"github.com/migadu/mailfiler/storage"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, event *events.S3Event) (*processor.Result, error)
}

type handler struct {
	processor eventHandler
	metrics   config.MetricsConfig
	instance  string
}

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	s3storage, err := storage.New(cfg.S3)
	if err != nil {
		logger.Fatal("Failed to initialize S3 storage", "error", err)
	}

	h := &handler{
		processor: processor.New(s3storage, cfg.Folders),
		metrics:   cfg.Metrics,
		instance:  lambdacontext.LogStreamName,
	}
	lambda.Start(h.handle)
}

// handle runs one invocation and pushes metrics afterwards. A push failure
// is logged and never fails the invocation.
func (h *handler) handle(ctx context.Context, event *events.S3Event) (*processor.Result, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = context.WithValue(ctx, consts.RequestIDKey, lc.AwsRequestID)
	}

	result, err := h.processor.HandleEvent(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "LAMBDA: Event processing failed", "error", err)
	}

	if pushErr := metrics.Push(h.metrics.PushgatewayURL, h.metrics.Job, h.instance, 0); pushErr != nil {
		logger.WarnContext(ctx, "LAMBDA: Failed to push metrics", "error", pushErr)
	}

	return result, err
}
