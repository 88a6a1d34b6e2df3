package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogging sets level and format of the process logger.
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		if format != "" && format != "text" && format != "json" {
			return fmt.Errorf("log format must be 'text' or 'json', got: %s", format)
		}
		if level != "" {
			c.LogLevel = level
		}
		if format != "" {
			c.LogFormat = format
		}
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage selects the in-memory object store serving under publicBaseURL.
func WithMemoryStorage(publicBaseURL string) Option {
	return func(c *ServerConfig) error {
		if publicBaseURL == "" {
			return fmt.Errorf("public base url cannot be empty")
		}
		c.StorageBackend = "memory"
		c.PublicBaseURL = publicBaseURL
		return nil
	}
}

// WithS3Storage selects an S3 bucket as object store
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.StorageBackend = "s3"
		c.S3.Bucket = bucket
		c.S3.Region = region
		c.PublicBaseURL = ""
		return nil
	}
}

// WithS3Credentials sets static credentials for the S3 backend
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("both access key id and secret access key are required")
		}
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint targets an S3-compatible service
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithMinioStorage selects a MinIO bucket as object store
func WithMinioStorage(endpoint, bucket, accessKeyID, secretAccessKey string, useSSL bool) Option {
	return func(c *ServerConfig) error {
		if endpoint == "" {
			return fmt.Errorf("minio endpoint cannot be empty")
		}
		if bucket == "" {
			return fmt.Errorf("minio bucket cannot be empty")
		}
		c.StorageBackend = "minio"
		c.Minio = MinioConfig{
			Endpoint:        endpoint,
			Bucket:          bucket,
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			UseSSL:          useSSL,
		}
		c.PublicBaseURL = ""
		return nil
	}
}

// WithPublicBaseURL overrides the public URL prefix of the object store,
// e.g. a CDN in front of the bucket.
func WithPublicBaseURL(base string) Option {
	return func(c *ServerConfig) error {
		c.PublicBaseURL = base
		return nil
	}
}

// WithLegacyDelivery configures the legacy delivery service
func WithLegacyDelivery(cloudName, apiKey, apiSecret string, hosts ...string) Option {
	return func(c *ServerConfig) error {
		if cloudName == "" {
			return fmt.Errorf("delivery cloud name cannot be empty")
		}
		c.Delivery.CloudName = cloudName
		c.Delivery.APIKey = apiKey
		c.Delivery.APISecret = apiSecret
		if len(hosts) > 0 {
			c.Delivery.Hosts = hosts
		}
		return nil
	}
}

// WithRedis enables the Redis reorganize lock
func WithRedis(addr, password string, db int) Option {
	return func(c *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		c.Redis.Addr = addr
		c.Redis.Password = password
		c.Redis.DB = db
		return nil
	}
}

// WithLockTTL sets how long a reorganize lock outlives a crashed holder
func WithLockTTL(ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if ttl <= 0 {
			return fmt.Errorf("lock ttl must be positive, got: %s", ttl)
		}
		c.Redis.LockTTL = ttl
		return nil
	}
}

// WithProbe sets timeout and retry budget of liveness probes
func WithProbe(timeout time.Duration, maxRetries uint64) Option {
	return func(c *ServerConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("probe timeout must be positive, got: %s", timeout)
		}
		c.Probe.Timeout = timeout
		c.Probe.MaxRetries = maxRetries
		return nil
	}
}

// WithAutoMigrate applies the Postgres schema when the repository is built
func WithAutoMigrate() Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = true
		return nil
	}
}
