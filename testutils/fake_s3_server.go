package testutils

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/migadu/mailfiler/consts"
)

// FakeS3Server serves the subset of the S3 REST API the storage package
// uses (GET, HEAD, copy PUT, tagging GET/PUT) on top of a FileBasedS3Mock.
// Requests use path-style addressing: /<bucket>/<key>.
type FakeS3Server struct {
	*httptest.Server
	Mock *FileBasedS3Mock
}

type s3Error struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	Key        string   `xml:"Key,omitempty"`
	BucketName string   `xml:"BucketName,omitempty"`
	RequestID  string   `xml:"RequestId"`
}

type copyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}

// NewFakeS3Server starts a fake S3 endpoint backed by mock.
func NewFakeS3Server(mock *FileBasedS3Mock) *FakeS3Server {
	f := &FakeS3Server{Mock: mock}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// Endpoint returns host:port, the form minio.New expects.
func (f *FakeS3Server) Endpoint() string {
	return strings.TrimPrefix(f.URL, "http://")
}

func (f *FakeS3Server) serve(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket == "" || key == "" {
		writeS3Error(w, http.StatusBadRequest, "InvalidRequest", "bucket and key required", bucket, key)
		return
	}
	_, tagging := r.URL.Query()["tagging"]

	switch {
	case r.Method == http.MethodGet && tagging:
		f.getTagging(w, r, bucket, key)
	case r.Method == http.MethodPut && tagging:
		f.putTagging(w, r, bucket, key)
	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		f.copyObject(w, r, bucket, key)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		f.getObject(w, r, bucket, key)
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", r.Method+" not supported", bucket, key)
	}
}

func (f *FakeS3Server) getObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if err := f.Mock.simulatedError(key); err != nil {
		writeMockError(w, err, bucket, key)
		return
	}
	data, ok := f.Mock.GetStoredData(bucket, key)
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", bucket, key)
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("ETag", `"fake-etag"`)
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

func (f *FakeS3Server) copyObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	source, err := url.PathUnescape(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidArgument", err.Error(), bucket, key)
		return
	}
	source, _, _ = strings.Cut(source, "?")
	srcBucket, srcKey, _ := strings.Cut(strings.TrimPrefix(source, "/"), "/")
	if srcBucket != bucket {
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented", "cross-bucket copy", bucket, key)
		return
	}

	if err := f.Mock.Copy(r.Context(), bucket, srcKey, key); err != nil {
		writeMockError(w, err, bucket, srcKey)
		return
	}

	writeXML(w, copyObjectResult{
		ETag:         `"fake-etag"`,
		LastModified: time.Now().UTC().Format(time.RFC3339),
	})
}

func (f *FakeS3Server) getTagging(w http.ResponseWriter, r *http.Request, bucket, key string) {
	m, err := f.Mock.GetTags(r.Context(), bucket, key)
	if err != nil {
		writeMockError(w, err, bucket, key)
		return
	}
	t, err := tags.MapToObjectTags(m)
	if err != nil {
		writeS3Error(w, http.StatusInternalServerError, "InternalError", err.Error(), bucket, key)
		return
	}
	writeXML(w, t)
}

func (f *FakeS3Server) putTagging(w http.ResponseWriter, r *http.Request, bucket, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", err.Error(), bucket, key)
		return
	}
	t, err := tags.ParseObjectXML(strings.NewReader(string(body)))
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidTag", err.Error(), bucket, key)
		return
	}
	if err := f.Mock.PutTags(r.Context(), bucket, key, t.ToMap()); err != nil {
		writeMockError(w, err, bucket, key)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeMockError maps mock errors onto S3 error responses. Injected errors
// become AccessDenied so the client does not retry them internally.
func writeMockError(w http.ResponseWriter, err error, bucket, key string) {
	if errors.Is(err, consts.ErrObjectNotFound) {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", bucket, key)
		return
	}
	writeS3Error(w, http.StatusForbidden, "AccessDenied", err.Error(), bucket, key)
}

func writeS3Error(w http.ResponseWriter, status int, code, message, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(s3Error{
		Code:       code,
		Message:    message,
		Key:        key,
		BucketName: bucket,
		RequestID:  "fake",
	})
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(v)
}
