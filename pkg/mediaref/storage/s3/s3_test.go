package s3

import (
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("InvalidSSE", func(t *testing.T) {
		_, err := New(Config{
			Bucket:       "test-bucket",
			EnableSSE:    true,
			SSEAlgorithm: "rot13",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid SSE")
	})

	t.Run("StaticCredentials", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
			Endpoint:        "http://localhost:9000",
			UsePathStyle:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, "http://localhost:9000/test-bucket/a/b.jpg", backend.PublicURL("a/b.jpg"))
	})
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		key    string
		want   string
	}{
		{
			name:   "public base",
			config: Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/media/"},
			key:    "u/a/x.jpg",
			want:   "https://cdn.example.com/media/u/a/x.jpg",
		},
		{
			name:   "aws virtual host",
			config: Config{Bucket: "b", Region: "eu-west-1"},
			key:    "u/a/x.jpg",
			want:   "https://b.s3.eu-west-1.amazonaws.com/u/a/x.jpg",
		},
		{
			name:   "custom endpoint virtual host",
			config: Config{Bucket: "b", Endpoint: "https://s3.example.com"},
			key:    "x.jpg",
			want:   "https://b.s3.example.com/x.jpg",
		},
		{
			name:   "escapes segments",
			config: Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com"},
			key:    "u/my photo.jpg",
			want:   "https://cdn.example.com/u/my%20photo.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicURL(tt.config, tt.key))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
}
