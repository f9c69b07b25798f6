// Package storage provides S3-compatible object storage for inbound email
// objects.
//
// S3Storage wraps a minio-go client and adds what the filer needs on top of
// it: a per-operation timeout, optional retries with exponential backoff,
// and Prometheus metrics for every call.
//
// # Credentials
//
// When an access key is configured it is used as-is. Otherwise credentials
// are resolved from the AWS environment (which is how Lambda hands them
// out), the MinIO environment, and finally the instance/task IAM role.
//
// # Usage Example
//
//	s3, err := storage.New(cfg.S3)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	body, err := s3.Get(ctx, "mail-bucket", "inbound/abc123")
//	defer body.Close()
//
//	err = s3.Copy(ctx, "mail-bucket", "inbound/abc123", "processed/2024-03-01/x.eml")
//	err = s3.PutTags(ctx, "mail-bucket", "processed/2024-03-01/x.eml", tags)
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/migadu/mailfiler/config"
	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/logger"
	"github.com/migadu/mailfiler/pkg/metrics"
	"github.com/migadu/mailfiler/pkg/retry"
)

type S3Storage struct {
	Client  *minio.Client
	timeout time.Duration
	backoff retry.BackoffConfig
}

func New(cfg config.S3Config) (*S3Storage, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint, !cfg.DisableTLS)

	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid S3 timeout: %w", err)
	}
	backoff, err := retry.FromConfig(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 retry settings: %w", err)
	}

	// Initialize the MinIO client
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  newCredentials(cfg),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		logger.Error("STORAGE: Failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	// Enable detailed tracing of requests and responses for debugging
	if cfg.Trace {
		client.TraceOn(os.Stdout)
	}

	return &S3Storage{
		Client:  client,
		timeout: timeout,
		backoff: backoff,
	}, nil
}

func newCredentials(cfg config.S3Config) *credentials.Credentials {
	if cfg.AccessKey != "" {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})
}

// splitEndpoint strips a URL scheme from endpoint. An explicit scheme wins
// over the configured TLS setting.
func splitEndpoint(endpoint string, secure bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}
	return strings.TrimSuffix(endpoint, "/"), secure
}

// Get opens the object for reading. The caller must close the returned
// reader; the operation timeout covers reading it.
func (s *S3Storage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	opCtx, cancel := s.withTimeout(ctx)

	var object *minio.Object
	err := s.run(opCtx, "GET", func(ctx context.Context) error {
		if _, err := s.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
			if isNotFound(err) {
				return retry.Stop(fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, key))
			}
			return err
		}
		obj, err := s.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		object = obj
		return nil
	})
	if err != nil {
		cancel()
		if errors.Is(err, consts.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s/%s: %w", consts.ErrS3GetFailed, bucket, key, err)
	}

	return &objectReader{Object: object, cancel: cancel}, nil
}

// objectReader releases the operation context once the body is closed.
type objectReader struct {
	*minio.Object
	cancel context.CancelFunc
}

func (r *objectReader) Close() error {
	defer r.cancel()
	return r.Object.Close()
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists := false
	err := s.run(opCtx, "STAT", func(ctx context.Context) error {
		_, err := s.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if err == nil {
			exists = true
			return nil
		}
		if isNotFound(err) {
			return nil // Object does not exist
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to stat object %s/%s: %w", bucket, key, err)
	}
	return exists, nil
}

// Copy copies sourceKey to destKey within bucket. Source tags are copied
// along; PutTags replaces them as a whole.
func (s *S3Storage) Copy(ctx context.Context, bucket, sourceKey, destKey string) error {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	src := minio.CopySrcOptions{
		Bucket: bucket,
		Object: sourceKey,
	}
	dst := minio.CopyDestOptions{
		Bucket: bucket,
		Object: destKey,
	}

	err := s.run(opCtx, "COPY", func(ctx context.Context) error {
		_, err := s.Client.CopyObject(ctx, dst, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s/%s to %s: %w", consts.ErrS3CopyFailed, bucket, sourceKey, destKey, err)
	}
	return nil
}

// PutTags replaces the tag set of an object. Tags are validated before
// anything is sent.
func (s *S3Storage) PutTags(ctx context.Context, bucket, key string, tagMap map[string]string) error {
	objectTags, err := tags.MapToObjectTags(tagMap)
	if err != nil {
		metrics.StorageOperationErrors.WithLabelValues("PUT_TAGGING", "invalid_tags").Inc()
		return fmt.Errorf("%w: %s/%s: %w", consts.ErrS3TaggingFailed, bucket, key, err)
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.run(opCtx, "PUT_TAGGING", func(ctx context.Context) error {
		return s.Client.PutObjectTagging(ctx, bucket, key, objectTags, minio.PutObjectTaggingOptions{})
	})
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", consts.ErrS3TaggingFailed, bucket, key, err)
	}
	return nil
}

// GetTags returns the tag set of an object.
func (s *S3Storage) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result map[string]string
	err := s.run(opCtx, "GET_TAGGING", func(ctx context.Context) error {
		t, err := s.Client.GetObjectTagging(ctx, bucket, key, minio.GetObjectTaggingOptions{})
		if err != nil {
			if isNotFound(err) {
				return retry.Stop(fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, key))
			}
			return err
		}
		result = t.ToMap()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tags of %s/%s: %w", bucket, key, err)
	}
	return result, nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// run executes fn with retries and records metrics for operation.
// Client errors (4xx) and context errors are never retried.
func (s *S3Storage) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()

	backoff := s.backoff
	backoff.OnRetry = func(attempt int, err error) {
		metrics.S3RetriesTotal.WithLabelValues(operation).Inc()
		logger.WarnContext(ctx, "STORAGE: Retrying S3 operation", "operation", operation, "attempt", attempt, "error", err)
	}

	err := retry.WithRetry(ctx, func() error {
		err := fn(ctx)
		if err != nil && !retry.IsStopError(err) && !retryable(err) {
			return retry.Stop(err)
		}
		return err
	}, backoff)

	if err != nil {
		metrics.StorageOperationErrors.WithLabelValues(operation, classifyS3Error(err)).Inc()
		metrics.S3OperationsTotal.WithLabelValues(operation, "error").Inc()
	} else {
		metrics.S3OperationsTotal.WithLabelValues(operation, "success").Inc()
	}
	metrics.S3OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode == 0 || resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
	}
	return false
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	var code string
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		code = resp.Code
	}
	errStr := err.Error()

	switch {
	case errors.Is(err, consts.ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case code == "AccessDenied" || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case code == "NoSuchKey" || code == "NoSuchBucket":
		return "not_found"
	case code == "SlowDown" || code == "RequestLimitExceeded":
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
