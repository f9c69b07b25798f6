package testutils

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/migadu/mailfiler/consts"
)

// CopyCall records one Copy request.
type CopyCall struct {
	Bucket string
	Source string
	Dest   string
}

// FileBasedS3Mock implements a disk-based S3 storage mock for testing.
// Objects live under baseDir/<bucket>/<key>; tags are kept in memory.
type FileBasedS3Mock struct {
	mu      sync.RWMutex
	baseDir string
	errors  map[string]error             // Map of key -> error to simulate failures
	tags    map[string]map[string]string // Map of bucket/key -> tags
	copies  []CopyCall
}

// NewFileBasedS3Mock creates a new file-based S3 mock using baseDir
func NewFileBasedS3Mock(baseDir string) (*FileBasedS3Mock, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBasedS3Mock{
		baseDir: baseDir,
		errors:  make(map[string]error),
		tags:    make(map[string]map[string]string),
	}, nil
}

// PutObject stores data under bucket/key. It is a test setup helper and
// ignores simulated errors.
func (m *FileBasedS3Mock) PutObject(bucket, key string, data []byte) error {
	filePath := m.keyToFilePath(bucket, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Get retrieves an object from the mock storage
func (m *FileBasedS3Mock) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := m.simulatedError(key); err != nil {
		return nil, err
	}

	file, err := os.Open(m.keyToFilePath(bucket, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks if an object exists in the mock storage
func (m *FileBasedS3Mock) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := m.simulatedError(key); err != nil {
		return false, err
	}

	_, err := os.Stat(m.keyToFilePath(bucket, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// Copy copies an object within a bucket. As with S3's default tagging
// directive, the source tags are copied too.
func (m *FileBasedS3Mock) Copy(ctx context.Context, bucket, sourceKey, destKey string) error {
	if err := m.simulatedError(sourceKey); err != nil {
		return err
	}
	if err := m.simulatedError(destKey); err != nil {
		return err
	}

	data, err := os.ReadFile(m.keyToFilePath(bucket, sourceKey))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, sourceKey)
	}
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	if err := m.PutObject(bucket, destKey, data); err != nil {
		return err
	}

	m.mu.Lock()
	if tags, ok := m.tags[bucket+"/"+sourceKey]; ok {
		m.tags[bucket+"/"+destKey] = maps.Clone(tags)
	} else {
		delete(m.tags, bucket+"/"+destKey)
	}
	m.copies = append(m.copies, CopyCall{Bucket: bucket, Source: sourceKey, Dest: destKey})
	m.mu.Unlock()
	return nil
}

// PutTags replaces the tag set of an existing object.
func (m *FileBasedS3Mock) PutTags(ctx context.Context, bucket, key string, tags map[string]string) error {
	if err := m.simulatedError(key); err != nil {
		return err
	}
	if _, err := os.Stat(m.keyToFilePath(bucket, key)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[bucket+"/"+key] = maps.Clone(tags)
	return nil
}

// GetTags returns the tag set of an object.
func (m *FileBasedS3Mock) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	if err := m.simulatedError(key); err != nil {
		return nil, err
	}
	if _, err := os.Stat(m.keyToFilePath(bucket, key)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", consts.ErrObjectNotFound, bucket, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.tags[bucket+"/"+key]), nil
}

// Test helper methods

// SetError configures the mock to return an error for operations on a specific key
func (m *FileBasedS3Mock) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[key] = err
}

// ClearError removes any configured error for a specific key
func (m *FileBasedS3Mock) ClearError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, key)
}

// Copies returns the Copy calls made so far, in order.
func (m *FileBasedS3Mock) Copies() []CopyCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CopyCall(nil), m.copies...)
}

// GetStoredKeys returns all keys stored in bucket, sorted.
func (m *FileBasedS3Mock) GetStoredKeys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root := filepath.Join(m.baseDir, bucket)
	var keys []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return []string{}
	}

	sort.Strings(keys)
	return keys
}

// GetStoredData returns the data for a specific key (for testing)
func (m *FileBasedS3Mock) GetStoredData(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.keyToFilePath(bucket, key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (m *FileBasedS3Mock) simulatedError(key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[key]
}

func (m *FileBasedS3Mock) keyToFilePath(bucket, key string) string {
	// Keys are slash separated; keep them below the bucket directory
	clean := filepath.FromSlash(strings.TrimLeft(key, "/"))
	return filepath.Join(m.baseDir, bucket, clean)
}
