package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/mailfiler/config"
	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/processor"
	"github.com/migadu/mailfiler/testutils"
)

// minioEvent is a bucket notification as MinIO publishes it.
const minioEvent = `{
  "EventName": "s3:ObjectCreated:Put",
  "Key": "mail-bucket/inbound/abc123",
  "Records": [{
    "eventVersion": "2.0",
    "eventSource": "minio:s3",
    "eventTime": "2024-03-01T10:20:31.000Z",
    "eventName": "s3:ObjectCreated:Put",
    "s3": {
      "s3SchemaVersion": "1.0",
      "configurationId": "Config",
      "bucket": {"name": "mail-bucket", "arn": "arn:aws:s3:::mail-bucket"},
      "object": {"key": "inbound%2Fabc123", "size": 182}
    }
  }]
}`

type recordingHandler struct {
	events     []*events.S3Event
	requestIDs []string
	result     *processor.Result
	err        error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *events.S3Event) (*processor.Result, error) {
	h.events = append(h.events, event)
	id, _ := ctx.Value(consts.RequestIDKey).(string)
	h.requestIDs = append(h.requestIDs, id)
	if h.result == nil && h.err == nil {
		return &processor.Result{Status: processor.StatusOK}, nil
	}
	return h.result, h.err
}

func newTestServer(t *testing.T, handler EventHandler, token string) *httptest.Server {
	t.Helper()
	s, err := New(handler, ServerOptions{Addr: ":0", AuthToken: token, MetricsPath: "/metrics"})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postEvent(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/events", strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, ServerOptions{})
	assert.Error(t, err)

	_, err = New(&recordingHandler{}, ServerOptions{MetricsPath: "metrics"})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, "secret")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mailfiler_email_processing_duration_seconds")
}

func TestEvents_Auth(t *testing.T) {
	handler := &recordingHandler{}
	srv := newTestServer(t, handler, "secret")

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusForbidden},
		{"valid", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}
			resp := postEvent(t, srv.URL, minioEvent, header)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Len(t, handler.events, 1)
}

func TestEvents_DecodesAndForwards(t *testing.T) {
	handler := &recordingHandler{}
	srv := newTestServer(t, handler, "")

	header := http.Header{}
	header.Set("X-Request-Id", "req-42")
	resp := postEvent(t, srv.URL, minioEvent, header)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-Id"))
	require.Len(t, handler.events, 1)
	require.Len(t, handler.events[0].Records, 1)
	record := handler.events[0].Records[0]
	assert.Equal(t, "mail-bucket", record.S3.Bucket.Name)
	assert.Equal(t, "inbound%2Fabc123", record.S3.Object.Key)
	assert.Equal(t, []string{"req-42"}, handler.requestIDs)
}

func TestEvents_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		handler *recordingHandler
		status  int
	}{
		{"invalid json", "{not json", &recordingHandler{}, http.StatusBadRequest},
		{"invalid event", minioEvent, &recordingHandler{err: consts.ErrInvalidEvent}, http.StatusBadRequest},
		{"processing failure", minioEvent, &recordingHandler{
			result: &processor.Result{Status: processor.StatusError},
			err:    errors.New("copy failed"),
		}, http.StatusInternalServerError},
		{"same folder", minioEvent, &recordingHandler{result: &processor.Result{Status: processor.StatusError}}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.handler, "")
			resp := postEvent(t, srv.URL, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestEvents_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, "")

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEvents_FilesThroughProcessor(t *testing.T) {
	mock, err := testutils.NewFileBasedS3Mock(t.TempDir())
	require.NoError(t, err)
	msg := "From: alice@example.com\r\nTo: bob@example.com\r\n" +
		"Date: Fri, 01 Mar 2024 10:20:30 +0000\r\nSubject: Hello\r\n\r\nHi Bob\r\n"
	require.NoError(t, mock.PutObject("mail-bucket", "inbound/abc123", []byte(msg)))

	p := processor.New(mock, config.FoldersConfig{Main: "inbound", Processed: "processed"})
	srv := newTestServer(t, p, "")

	resp := postEvent(t, srv.URL, minioEvent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result processor.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, processor.StatusOK, result.Status)
	require.Len(t, result.Filed, 1)
	assert.Equal(t, "processed/2024-03-01/Hello_bobATexample.com_aliceATexample.com.eml", result.Filed[0].DestinationKey)
	assert.Contains(t, mock.GetStoredKeys("mail-bucket"), result.Filed[0].DestinationKey)
}

// blockingHandler holds every event until release is closed.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHandler) HandleEvent(ctx context.Context, event *events.S3Event) (*processor.Result, error) {
	close(h.entered)
	<-h.release
	return &processor.Result{Status: processor.StatusOK}, nil
}

func TestServe_WaitsForInFlightEvents(t *testing.T) {
	handler := &blockingHandler{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := New(handler, ServerOptions{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.serve(ctx, ln) }()

	responses := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/events", "application/json", strings.NewReader(minioEvent))
		if err != nil {
			responses <- 0
			return
		}
		resp.Body.Close()
		responses <- resp.StatusCode
	}()

	<-handler.entered
	cancel()

	select {
	case <-served:
		t.Fatal("serve returned while an event was still being processed")
	case <-time.After(100 * time.Millisecond):
	}

	close(handler.release)
	assert.Equal(t, http.StatusOK, <-responses)

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the event completed")
	}
}
