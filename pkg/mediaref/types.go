package mediaref

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Backend identifies where a media URL is served from.
type Backend string

// Backend constants (typed).
const (
	BackendObjectStore    Backend = "object_store"
	BackendLegacyDelivery Backend = "legacy_delivery"
	BackendUnknown        Backend = "unknown"
)

// Kind is the media kind derived from a URL.
type Kind string

// Kind constants (typed).
const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// LinkRole is the role a canonical media record plays for an artifact.
type LinkRole string

// Link role constants (typed).
const (
	RoleGallery     LinkRole = "gallery"
	RoleInlineBlock LinkRole = "inline_block"
	RoleCover       LinkRole = "cover"
)

// Valid reports whether r is one of the known roles.
func (r LinkRole) Valid() bool {
	switch r {
	case RoleGallery, RoleInlineBlock, RoleCover:
		return true
	}
	return false
}

// MediaReference holds the facts derived from a stored URL string.
// It is never persisted; classification is a pure function of URL.
type MediaReference struct {
	URL         string  `json:"url"`
	Backend     Backend `json:"backend"`
	Kind        Kind    `json:"kind"`
	MimeType    string  `json:"mime_type"`
	Filename    string  `json:"filename"`
	StoragePath string  `json:"storage_path,omitempty"`
}

// Derivatives is the fixed triple of derived URLs for one original.
type Derivatives struct {
	Thumb  string `json:"thumb"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// Artifact is the subset of a catalog artifact that carries media references.
//
// The same blob may appear in MediaURLs, as a key of any of the JSON maps and
// as ThumbnailURL. All of them must change together.
type Artifact struct {
	ID               uuid.UUID              `json:"id"`
	OwnerID          uuid.UUID              `json:"owner_id"`
	MediaURLs        []string               `json:"media_urls"`
	ThumbnailURL     *string                `json:"thumbnail_url,omitempty"`
	ImageCaptions    map[string]string      `json:"image_captions,omitempty"`
	VideoSummaries   map[string]string      `json:"video_summaries,omitempty"`
	AudioTranscripts map[string]string      `json:"audio_transcripts,omitempty"`
	MediaDerivatives map[string]Derivatives `json:"media_derivatives,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.MediaURLs = append([]string(nil), a.MediaURLs...)
	if a.ThumbnailURL != nil {
		t := *a.ThumbnailURL
		c.ThumbnailURL = &t
	}
	c.ImageCaptions = CloneStrings(a.ImageCaptions)
	c.VideoSummaries = CloneStrings(a.VideoSummaries)
	c.AudioTranscripts = CloneStrings(a.AudioTranscripts)
	if a.MediaDerivatives != nil {
		c.MediaDerivatives = make(map[string]Derivatives, len(a.MediaDerivatives))
		for k, v := range a.MediaDerivatives {
			c.MediaDerivatives[k] = v
		}
	}
	return &c
}

// CanonicalMedia is a deduplicated record for one physical uploaded file.
type CanonicalMedia struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtifactMediaLink is a join row between an artifact and a canonical media record.
type ArtifactMediaLink struct {
	ID         uuid.UUID `json:"id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	MediaID    uuid.UUID `json:"media_id"`
	Role       LinkRole  `json:"role"`
	SortOrder  int       `json:"sort_order"`
	IsPrimary  bool      `json:"is_primary"`
}

// LinkedMedia is a join row together with the record it points at.
type LinkedMedia struct {
	Link  ArtifactMediaLink `json:"link"`
	Media CanonicalMedia    `json:"media"`
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	MimeType string
	Size     int64
}

// ArtifactFilter narrows artifact listings.
type ArtifactFilter struct {
	OwnerID *uuid.UUID
	// URLContains keeps artifacts whose media fields contain the substring.
	URLContains string
	Limit       *int
	Offset      *int
}

// MediaFilter narrows canonical media listings.
type MediaFilter struct {
	OwnerID *uuid.UUID
	Limit   *int
	Offset  *int
}

// URLError attributes a per-item failure to the URL it happened on.
type URLError struct {
	URL string `json:"url"`
	Op  string `json:"op"`
	Err error  `json:"-"`
}

func (e URLError) Error() string {
	if e.Err == nil {
		return e.Op + " " + e.URL
	}
	return e.Op + " " + e.URL + ": " + e.Err.Error()
}

func (e URLError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders Err as a message string.
func (e URLError) MarshalJSON() ([]byte, error) {
	out := struct {
		URL   string `json:"url"`
		Op    string `json:"op"`
		Error string `json:"error,omitempty"`
	}{URL: e.URL, Op: e.Op}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// CloneStrings copies a string map, preserving nil.
func CloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
