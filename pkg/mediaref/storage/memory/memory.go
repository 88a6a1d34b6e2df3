package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tendant/mediaref/pkg/mediaref"
)

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory implementation of the mediaref.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New creates a new in-memory storage backend whose public URLs start with baseURL
func New(baseURL string) *Backend {
	return &Backend{
		objects: make(map[string]object),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

var _ mediaref.BlobStore = (*Backend)(nil)

// Copy copies an object to a new key
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[dst]; exists {
		return mediaref.ErrAlreadyExists
	}
	obj, exists := b.objects[src]
	if !exists {
		return mediaref.ErrObjectNotFound
	}

	obj.data = append([]byte(nil), obj.data...)
	obj.updatedAt = time.Now()
	b.objects[dst] = obj
	return nil
}

// Delete deletes an object
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[path]; !exists {
		return mediaref.ErrObjectNotFound
	}

	delete(b.objects, path)
	return nil
}

// Upload stores content directly
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, params mediaref.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[path] = object{data: data, mimeType: mimeType, updatedAt: time.Now()}
	return nil
}

// Exists reports whether an object is stored at path
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[path]
	return exists, nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, path string) (*mediaref.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, mediaref.ErrObjectNotFound
	}

	return &mediaref.ObjectMeta{
		Key:         path,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
		ETag:        fmt.Sprintf("%x", md5.Sum(obj.data)),
	}, nil
}

// PublicURL returns baseURL/path
func (b *Backend) PublicURL(path string) string {
	return b.baseURL + "/" + path
}

// Download returns the stored bytes, for tests and tooling
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, mediaref.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Keys lists stored keys, for tests and tooling
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
