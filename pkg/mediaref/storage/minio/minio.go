// Package minio implements mediaref.BlobStore on top of the MinIO client.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/mediaref/pkg/mediaref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mediaref-storage-minio")

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port, no scheme
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	PublicBaseURL   string
	CreateBucket    bool
}

// Backend wraps MinIO operations with tracing
type Backend struct {
	client *minio.Client
	bucket string
	config Config
}

var _ mediaref.BlobStore = (*Backend)(nil)

// New initializes a new MinIO backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	b := &Backend{client: client, bucket: config.Bucket, config: config}

	if config.CreateBucket {
		exists, err := client.BucketExists(ctx, config.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return b, nil
}

// Copy performs a server-side copy, refusing to overwrite dst
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	ctx, span := tracer.Start(ctx, "minio.copy",
		trace.WithAttributes(
			attribute.String("src", src),
			attribute.String("dst", dst),
		),
	)
	defer span.End()

	exists, err := b.Exists(ctx, dst)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if exists {
		return mediaref.ErrAlreadyExists
	}

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: b.bucket, Object: src},
	)
	if err != nil {
		span.RecordError(err)
		if isNotFound(err) {
			return mediaref.ErrObjectNotFound
		}
		return &mediaref.StorageError{Backend: "minio", Key: src, Op: "copy", Err: err}
	}
	return nil
}

// Delete deletes an object
func (b *Backend) Delete(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(attribute.String("object_key", path)),
	)
	defer span.End()

	if err := b.client.RemoveObject(ctx, b.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return &mediaref.StorageError{Backend: "minio", Key: path, Op: "delete", Err: err}
	}
	return nil
}

// Upload stores content at path
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, params mediaref.UploadParams) error {
	ctx, span := tracer.Start(ctx, "minio.upload",
		trace.WithAttributes(
			attribute.String("object_key", path),
			attribute.Int64("size_bytes", params.Size),
		),
	)
	defer span.End()

	size := params.Size
	if size <= 0 {
		size = -1
	}
	contentType := params.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := b.client.PutObject(ctx, b.bucket, path, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return &mediaref.StorageError{Backend: "minio", Key: path, Op: "upload", Err: err}
	}
	return nil
}

// Exists reports whether an object is present
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &mediaref.StorageError{Backend: "minio", Key: path, Op: "stat", Err: err}
}

// GetObjectMeta retrieves metadata for an object
func (b *Backend) GetObjectMeta(ctx context.Context, path string) (*mediaref.ObjectMeta, error) {
	info, err := b.client.StatObject(ctx, b.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, mediaref.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return &mediaref.ObjectMeta{
		Key:         path,
		Size:        info.Size,
		ContentType: info.ContentType,
		UpdatedAt:   info.LastModified,
		ETag:        info.ETag,
	}, nil
}

// PublicURL returns the public URL of path
func (b *Backend) PublicURL(path string) string {
	return PublicURL(b.config, path)
}

// PublicURL derives the public URL of path from config alone
func PublicURL(config Config, path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	key := strings.Join(parts, "/")

	if config.PublicBaseURL != "" {
		return strings.TrimSuffix(config.PublicBaseURL, "/") + "/" + key
	}
	scheme := "http"
	if config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, config.Endpoint, config.Bucket, key)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
