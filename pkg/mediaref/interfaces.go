package mediaref

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the object-storage operations the pipeline consumes.
// Paths are keys relative to the bucket.
type BlobStore interface {
	// Copy copies src to dst. Returns ErrAlreadyExists if dst is present and
	// ErrObjectNotFound if src is missing.
	Copy(ctx context.Context, src, dst string) error

	// Delete removes an object
	Delete(ctx context.Context, path string) error

	// Upload stores content at path, overwriting any existing object
	Upload(ctx context.Context, path string, reader io.Reader, params UploadParams) error

	// Exists reports whether an object is present at path
	Exists(ctx context.Context, path string) (bool, error)

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, path string) (*ObjectMeta, error)

	// PublicURL derives the public URL for path. Must be deterministic.
	PublicURL(path string) string
}

// Repository defines persistence for artifacts, canonical media and links.
type Repository interface {
	// Artifact operations
	CreateArtifact(ctx context.Context, artifact *Artifact) error
	GetArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error)
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*Artifact, error)
	// UpdateArtifactMedia persists every media reference field of the artifact in one write.
	UpdateArtifactMedia(ctx context.Context, artifact *Artifact) error

	// Canonical media operations
	CreateMedia(ctx context.Context, media *CanonicalMedia) error
	GetMedia(ctx context.Context, id uuid.UUID) (*CanonicalMedia, error)
	GetMediaByURL(ctx context.Context, publicURL string) (*CanonicalMedia, error)
	ListMedia(ctx context.Context, filter MediaFilter) ([]*CanonicalMedia, error)
	// UpdateMediaLocation moves the owner's record at oldURL to newURL/newPath
	// and returns the number of rows changed.
	UpdateMediaLocation(ctx context.Context, ownerID uuid.UUID, oldURL, newURL, newPath string) (int64, error)
	DeleteMedia(ctx context.Context, ids []uuid.UUID) error

	// Link operations
	CreateLink(ctx context.Context, link *ArtifactMediaLink) error
	ListArtifactMedia(ctx context.Context, artifactID uuid.UUID) ([]*LinkedMedia, error)
	ListLinksByMedia(ctx context.Context, mediaIDs []uuid.UUID) ([]*ArtifactMediaLink, error)
	// ListDanglingLinks returns links whose media record no longer exists.
	ListDanglingLinks(ctx context.Context) ([]*ArtifactMediaLink, error)
	DeleteLinks(ctx context.Context, ids []uuid.UUID) error
}

// LegacyDelivery is the media-transformation/CDN service that historically
// stored originals and still serves derived URLs.
type LegacyDelivery interface {
	// InjectTransform inserts a transform spec into a delivery URL.
	// ok is false when the URL has no transform position.
	InjectTransform(url, presetSpec string) (string, bool)

	// PublicID extracts the asset identifier and resource type from a delivery URL.
	PublicID(url string) (publicID, resourceType string, ok bool)

	// FetchOriginal opens the original behind url. size is -1 when the
	// service does not report a length. The caller closes body.
	FetchOriginal(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)

	// Destroy deletes the asset from the delivery service.
	Destroy(ctx context.Context, publicID, resourceType string) error
}

// Prober checks whether the blob behind a URL still exists.
type Prober interface {
	Exists(ctx context.Context, url string) (bool, error)
}

// Classifier derives MediaReference facts from URL strings.
type Classifier interface {
	Classify(url string) MediaReference
}
