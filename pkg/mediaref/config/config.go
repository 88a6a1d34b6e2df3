// Package config assembles the pipeline's collaborators from one
// ServerConfig built with functional options and environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/delivery"
	"github.com/tendant/mediaref/pkg/mediaref/lock"
	"github.com/tendant/mediaref/pkg/mediaref/probe"
	repomemory "github.com/tendant/mediaref/pkg/mediaref/repo/memory"
	repopg "github.com/tendant/mediaref/pkg/mediaref/repo/postgres"
	storagememory "github.com/tendant/mediaref/pkg/mediaref/storage/memory"
	storageminio "github.com/tendant/mediaref/pkg/mediaref/storage/minio"
	storages3 "github.com/tendant/mediaref/pkg/mediaref/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:           "8080",
		Environment:    "development",
		LogLevel:       "info",
		LogFormat:      "text",
		DatabaseType:   "memory",
		DBSchema:       "mediaref",
		StorageBackend: "memory",
		TempPrefix:     classify.DefaultTempPrefix,
		S3:             S3Config{Region: "us-east-1", SSEAlgorithm: "AES256"},
		Delivery:       DeliveryConfig{Hosts: []string{classify.DefaultLegacyHost}, APIBase: delivery.DefaultAPIBase, Timeout: 60 * time.Second},
		Redis:          RedisConfig{Prefix: "mediaref:", LockTTL: lock.DefaultTTL},
		Probe:          ProbeConfig{Timeout: probe.DefaultTimeout, MaxRetries: probe.DefaultMaxRetries},
	}
}

// ServerConfig holds every setting the server and the operator CLI need.
// The env tags are read by WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `env:"LOG_FORMAT" env-default:"text"` // text, json

	// Database configuration
	DatabaseType string `env:"DATABASE_TYPE" env-default:"memory"` // "memory", "postgres"
	DatabaseURL  string `env:"DATABASE_URL"`
	DBSchema     string `env:"DB_SCHEMA" env-default:"mediaref"`
	AutoMigrate  bool   `env:"DB_AUTO_MIGRATE"`

	// Object storage configuration
	StorageBackend string      `env:"STORAGE_BACKEND" env-default:"memory"` // "memory", "s3", "minio"
	PublicBaseURL  string      `env:"STORAGE_PUBLIC_BASE_URL"`
	TempPrefix     string      `env:"STORAGE_TEMP_PREFIX" env-default:"temp/"`
	S3             S3Config    `env-prefix:"S3_"`
	Minio          MinioConfig `env-prefix:"MINIO_"`

	Delivery DeliveryConfig `env-prefix:"DELIVERY_"`
	Redis    RedisConfig    `env-prefix:"REDIS_"`
	Probe    ProbeConfig    `env-prefix:"PROBE_"`

	// JWTSecret enables HS256 bearer tokens for API callers instead of the
	// X-User-ID header.
	JWTSecret string `env:"JWT_SECRET"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// S3Config configures the S3 object store.
type S3Config struct {
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" env-default:"us-east-1"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Endpoint        string `env:"ENDPOINT"`
	UsePathStyle    bool   `env:"USE_PATH_STYLE"`
	EnableSSE       bool   `env:"ENABLE_SSE"`
	SSEAlgorithm    string `env:"SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID     string `env:"SSE_KMS_KEY_ID"`
	CreateBucket    bool   `env:"CREATE_BUCKET"`
}

// MinioConfig configures the MinIO object store.
type MinioConfig struct {
	Endpoint        string `env:"ENDPOINT"`
	Bucket          string `env:"BUCKET"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `env:"USE_SSL"`
	CreateBucket    bool   `env:"CREATE_BUCKET"`
}

// DeliveryConfig configures the legacy delivery service.
type DeliveryConfig struct {
	Hosts     []string      `env:"HOSTS" env-separator:"," env-default:"res.cloudinary.com"`
	CloudName string        `env:"CLOUD_NAME"`
	APIKey    string        `env:"API_KEY"`
	APISecret string        `env:"API_SECRET"`
	APIBase   string        `env:"API_BASE" env-default:"https://api.cloudinary.com"`
	Timeout   time.Duration `env:"TIMEOUT" env-default:"60s"`
}

// RedisConfig configures the distributed reorganize lock. An empty Addr
// keeps locking in-process.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB"`
	Prefix   string        `env:"PREFIX" env-default:"mediaref:"`
	LockTTL  time.Duration `env:"LOCK_TTL" env-default:"2m"`
}

// ProbeConfig configures URL liveness probes.
type ProbeConfig struct {
	Timeout    time.Duration `env:"TIMEOUT" env-default:"10s"`
	MaxRetries uint64        `env:"MAX_RETRIES" env-default:"3"`
}

// Validate validates the configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when using s3 storage")
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return errors.New("minio endpoint and bucket are required when using minio storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}

	if len(c.Delivery.Hosts) == 0 {
		return errors.New("at least one legacy delivery host is required")
	}

	return nil
}

// BuildRepository creates a Repository based on the configuration. The
// returned func closes the underlying pool.
func (c *ServerConfig) BuildRepository(ctx context.Context) (mediaref.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return repomemory.New(), func() {}, nil
	case "postgres":
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		if schema != "" {
			cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database ping failed: %w", err)
		}

		repo := repopg.NewWithPool(pool)
		if c.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// BuildBlobStore creates the configured object store.
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (mediaref.BlobStore, error) {
	switch c.StorageBackend {
	case "memory":
		base := c.PublicBaseURL
		if base == "" {
			base = "http://localhost:" + c.Port + "/media"
		}
		return storagememory.New(base), nil
	case "s3":
		return storages3.New(storages3.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			PublicBaseURL:          c.PublicBaseURL,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
	case "minio":
		return storageminio.New(ctx, storageminio.Config{
			Endpoint:        c.Minio.Endpoint,
			AccessKeyID:     c.Minio.AccessKeyID,
			SecretAccessKey: c.Minio.SecretAccessKey,
			Bucket:          c.Minio.Bucket,
			UseSSL:          c.Minio.UseSSL,
			PublicBaseURL:   c.PublicBaseURL,
			CreateBucket:    c.Minio.CreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
}

// BuildClassifier creates a classifier that recognizes the public URLs of
// store and the configured delivery hosts.
func (c *ServerConfig) BuildClassifier(store mediaref.BlobStore) *classify.Classifier {
	opts := []classify.Option{
		classify.WithLegacyHost(c.Delivery.Hosts...),
		classify.WithTempPrefix(c.TempPrefix),
	}
	base := c.PublicBaseURL
	if store != nil {
		base = store.PublicURL("")
	}
	if base != "" {
		opts = append(opts, classify.WithObjectStoreBase(base))
	}
	return classify.New(opts...)
}

// BuildLegacyDelivery creates the delivery service client.
func (c *ServerConfig) BuildLegacyDelivery() *delivery.Client {
	return delivery.New(delivery.Config{
		CloudName: c.Delivery.CloudName,
		APIKey:    c.Delivery.APIKey,
		APISecret: c.Delivery.APISecret,
		APIBase:   c.Delivery.APIBase,
		Timeout:   c.Delivery.Timeout,
	})
}

// BuildProber answers object-store URLs through store and everything else
// with HTTP HEAD requests.
func (c *ServerConfig) BuildProber(store mediaref.BlobStore, classifier mediaref.Classifier) mediaref.Prober {
	return &probe.StoreProber{
		Store:      store,
		Classifier: classifier,
		Fallback: probe.NewHTTP(
			probe.WithTimeout(c.Probe.Timeout),
			probe.WithMaxRetries(c.Probe.MaxRetries),
		),
	}
}

// BuildLocker returns a Redis-backed locker when Redis is configured and an
// in-process one otherwise.
func (c *ServerConfig) BuildLocker(ctx context.Context, logger *slog.Logger) (lock.Locker, error) {
	if c.Redis.Addr == "" {
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return lock.NewRedis(client, c.Redis.Prefix, c.Redis.LockTTL, logger), nil
}
