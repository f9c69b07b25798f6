// Package processor files inbound email objects announced by S3 events.
//
// For every event record the object is fetched, its header parsed, and the
// object copied to <processed folder>/<sent date>/<subject>_<to>_<sender>.eml
// within the same bucket. The copy is then tagged with the sender,
// recipients, send time and subject.
package processor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/migadu/mailfiler/config"
	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/envelope"
	"github.com/migadu/mailfiler/helpers"
	"github.com/migadu/mailfiler/logger"
	"github.com/migadu/mailfiler/pkg/metrics"
)

// ObjectStore is the storage the processor reads from and files into.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, bucket, sourceKey, destKey string) error
	PutTags(ctx context.Context, bucket, key string, tags map[string]string) error
}

// Result statuses
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// FiledObject describes one email copied into the processed folder.
type FiledObject struct {
	Bucket         string            `json:"bucket"`
	SourceKey      string            `json:"source_key"`
	DestinationKey string            `json:"destination_key"`
	Tags           map[string]string `json:"tags"`
}

// Result is returned for every handled event.
type Result struct {
	Status  string        `json:"status"`
	Filed   []FiledObject `json:"filed,omitempty"`
	Skipped []string      `json:"skipped,omitempty"` // Keys of filed copies
}

type Processor struct {
	store           ObjectStore
	mainFolder      string
	processedFolder string
	now             func() time.Time
}

func New(store ObjectStore, folders config.FoldersConfig) *Processor {
	return &Processor{
		store:           store,
		mainFolder:      folders.Main,
		processedFolder: folders.Processed,
		now:             time.Now,
	}
}

// HandleEvent files every record of event in order. Processing stops at the
// first failing record; the returned Result then lists what was filed before
// it.
//
// A processed folder equal to the main folder would make every copy trigger
// the handler again, so no record is touched in that case and the result
// status is StatusError with a nil error.
func (p *Processor) HandleEvent(ctx context.Context, event *events.S3Event) (*Result, error) {
	if helpers.SameFolder(p.mainFolder, p.processedFolder) {
		logger.ErrorContext(ctx, "PROCESSOR: Refusing to process event", "error", consts.ErrSameFolder,
			"main_folder", p.mainFolder, "processed_folder", p.processedFolder)
		metrics.EventsTotal.WithLabelValues(StatusError).Inc()
		return &Result{Status: StatusError}, nil
	}

	if event == nil || len(event.Records) == 0 {
		logger.DebugContext(ctx, "PROCESSOR: Event carries no records")
		metrics.EventsTotal.WithLabelValues(StatusSkipped).Inc()
		return &Result{Status: StatusSkipped}, nil
	}

	result := &Result{Status: StatusSkipped}
	for i, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil || bucket == "" || key == "" {
			result.Status = StatusError
			metrics.EventsTotal.WithLabelValues(StatusError).Inc()
			return result, fmt.Errorf("%w: record %d: bucket %q, key %q", consts.ErrInvalidEvent, i, bucket, record.S3.Object.Key)
		}

		if helpers.IsFiledKey(key, p.mainFolder, p.processedFolder) {
			logger.DebugContext(ctx, "PROCESSOR: Skipping object already in processed folder", "bucket", bucket, "key", key)
			metrics.EmailsFiledTotal.WithLabelValues("skipped").Inc()
			result.Skipped = append(result.Skipped, key)
			continue
		}

		filed, err := p.FileObject(ctx, bucket, key, record.EventTime)
		if err != nil {
			result.Status = StatusError
			metrics.EventsTotal.WithLabelValues(StatusError).Inc()
			return result, fmt.Errorf("failed to process %s/%s: %w", bucket, key, err)
		}

		result.Filed = append(result.Filed, *filed)
		result.Status = StatusOK
	}

	metrics.EventsTotal.WithLabelValues(result.Status).Inc()
	return result, nil
}

// FileObject copies a single object into the processed folder and tags the
// copy. fallbackTime is used as the send time when the message has no
// usable Date field; if it is zero the current time is used.
func (p *Processor) FileObject(ctx context.Context, bucket, key string, fallbackTime time.Time) (*FiledObject, error) {
	start := time.Now()
	defer func() {
		metrics.EmailProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	env, err := p.readEnvelope(ctx, bucket, key)
	if err != nil {
		metrics.EmailsFiledTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	sent := p.sentTime(ctx, env, bucket, key, fallbackTime)
	to := helpers.FirstAddress(env.To, consts.NoRecipient)
	filename := helpers.NewFilename(env.Subject, to, env.Sender)
	destKey := helpers.NewDestinationKey(p.processedFolder, sent, filename)
	tags := buildTags(env, sent)

	if err := p.store.Copy(ctx, bucket, key, destKey); err != nil {
		metrics.EmailsFiledTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to copy to %s: %w", destKey, err)
	}

	if err := p.store.PutTags(ctx, bucket, destKey, tags); err != nil {
		metrics.EmailsFiledTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to tag %s: %w", destKey, err)
	}

	metrics.EmailsFiledTotal.WithLabelValues("filed").Inc()
	logger.InfoContext(ctx, "PROCESSOR: Filed email", "bucket", bucket, "source", key, "destination", destKey)

	return &FiledObject{
		Bucket:         bucket,
		SourceKey:      key,
		DestinationKey: destKey,
		Tags:           tags,
	}, nil
}

func (p *Processor) readEnvelope(ctx context.Context, bucket, key string) (*envelope.Envelope, error) {
	body, err := p.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}
	defer body.Close()

	env, err := envelope.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return env, nil
}

// sentTime picks the time the message is filed under: its Date field, then
// the event time, then now.
func (p *Processor) sentTime(ctx context.Context, env *envelope.Envelope, bucket, key string, fallbackTime time.Time) time.Time {
	if env.HasDate() {
		return env.Date
	}

	if env.DateRaw == "" {
		metrics.HeaderFallbacksTotal.WithLabelValues("date").Inc()
	}
	sent := fallbackTime
	if sent.IsZero() {
		sent = p.now()
	}
	sent = sent.UTC()

	logger.WarnContext(ctx, "PROCESSOR: Message has no usable Date header, using fallback time",
		"bucket", bucket, "key", key, "date", env.DateRaw, "fallback", sent.Format(time.RFC3339))
	return sent
}

func buildTags(env *envelope.Envelope, sent time.Time) map[string]string {
	return map[string]string{
		consts.TagSender:       helpers.SanitizeTagValue(env.Sender),
		consts.TagTo:           helpers.SanitizeTagValue(helpers.JoinAddresses(env.To)),
		consts.TagCc:           helpers.SanitizeTagValue(helpers.JoinAddresses(env.Cc)),
		consts.TagSentDate:     sent.Format(consts.DateLayout),
		consts.TagSentTime:     sent.Format(consts.TimeLayout),
		consts.TagSentDatetime: sent.Format(consts.DatetimeLayout),
		consts.TagSubject:      helpers.SanitizeTagValue(env.Subject),
	}
}
