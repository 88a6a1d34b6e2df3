// Package classify derives storage backend, media kind, MIME type, filename and
// storage path from media URL strings. Classification never touches the
// network and never fails: unrecognized input yields BackendUnknown.
package classify

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
)

const (
	// DefaultTempPrefix is where uploads are staged before reorganization.
	DefaultTempPrefix = "temp/"

	// DefaultLegacyHost is the delivery host of the legacy transformation service.
	DefaultLegacyHost = "res.cloudinary.com"

	// UnknownFilename is used when no filename can be extracted.
	UnknownFilename = "unknown"

	publicObjectMarker = "/storage/v1/object/public/"
)

var (
	imageExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "avif", "heic", "bmp", "svg", "tif", "tiff"}
	videoExtensions = []string{"mp4", "mov", "webm", "avi", "mkv", "m4v"}
	audioExtensions = []string{"mp3", "wav", "ogg", "m4a", "aac", "flac", "opus"}
)

// Classifier classifies URLs against a fixed set of known backends.
// The zero value recognizes only the generic public-object URL shape.
type Classifier struct {
	// ObjectStoreBases are public URL prefixes of the object store; the rest
	// of a matching URL is the storage path.
	ObjectStoreBases []string

	// LegacyHosts are hostnames of the legacy delivery backend.
	LegacyHosts []string

	// TempPrefix is the storage path prefix of staged uploads.
	TempPrefix string
}

var _ mediaref.Classifier = (*Classifier)(nil)

// Option configures a Classifier.
type Option func(*Classifier)

// WithObjectStoreBase adds a public URL prefix of the object store.
func WithObjectStoreBase(base string) Option {
	return func(c *Classifier) {
		if base = strings.TrimSuffix(base, "/"); base != "" {
			c.ObjectStoreBases = append(c.ObjectStoreBases, base)
		}
	}
}

// WithLegacyHost replaces the legacy delivery hosts.
func WithLegacyHost(hosts ...string) Option {
	return func(c *Classifier) {
		c.LegacyHosts = hosts
	}
}

// WithTempPrefix sets the staging prefix.
func WithTempPrefix(prefix string) Option {
	return func(c *Classifier) {
		c.TempPrefix = prefix
	}
}

// New creates a Classifier with default legacy host and temp prefix.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		LegacyHosts: []string{DefaultLegacyHost},
		TempPrefix:  DefaultTempPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify derives a MediaReference from raw. It is deterministic and total.
func (c *Classifier) Classify(raw string) mediaref.MediaReference {
	ref := mediaref.MediaReference{
		URL:      raw,
		Backend:  mediaref.BackendUnknown,
		Filename: Filename(raw),
	}

	if p, ok := c.objectStorePath(raw); ok {
		ref.Backend = mediaref.BackendObjectStore
		ref.StoragePath = p
	} else if c.isLegacy(raw) {
		ref.Backend = mediaref.BackendLegacyDelivery
	}

	ref.Kind = kindOf(raw, ref.Backend)
	ref.MimeType = MimeType(ref.Kind, extension(raw))
	return ref
}

// IsTemporary reports whether ref is an object-store URL under the staging prefix.
func (c *Classifier) IsTemporary(ref mediaref.MediaReference) bool {
	if ref.Backend != mediaref.BackendObjectStore {
		return false
	}
	prefix := c.TempPrefix
	if prefix == "" {
		prefix = DefaultTempPrefix
	}
	return strings.HasPrefix(ref.StoragePath, prefix)
}

// CanonicalPath is the permanent, artifact-scoped location of a blob.
func CanonicalPath(ownerID, artifactID uuid.UUID, filename string) string {
	if filename == "" {
		filename = UnknownFilename
	}
	return fmt.Sprintf("%s/%s/%s", ownerID, artifactID, filename)
}

func (c *Classifier) objectStorePath(raw string) (string, bool) {
	trimmed := stripQuery(raw)
	for _, base := range c.ObjectStoreBases {
		if base == "" {
			continue
		}
		prefix := strings.TrimSuffix(base, "/") + "/"
		if rest := strings.TrimPrefix(trimmed, prefix); rest != trimmed && rest != "" {
			return unescape(rest), true
		}
	}

	idx := strings.Index(trimmed, publicObjectMarker)
	if idx < 0 {
		return "", false
	}
	rest := trimmed[idx+len(publicObjectMarker):]
	// first segment is the bucket
	slash := strings.Index(rest, "/")
	if slash < 0 || slash == len(rest)-1 {
		return "", false
	}
	return unescape(rest[slash+1:]), true
}

func (c *Classifier) isLegacy(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range c.LegacyHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Filename extracts the last path segment of raw, or "unknown".
func Filename(raw string) string {
	p := stripQuery(raw)
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		slash := strings.Index(p, "/")
		if slash < 0 {
			return UnknownFilename
		}
		p = p[slash:]
	}
	name := p[strings.LastIndex(p, "/")+1:]
	if name == "" || name == "." || name == ".." {
		return UnknownFilename
	}
	return unescape(name)
}

// MimeType returns the MIME type for ext within kind, with one default per kind.
func MimeType(kind mediaref.Kind, ext string) string {
	ext = strings.ToLower(ext)
	switch kind {
	case mediaref.KindVideo:
		switch ext {
		case "mov":
			return "video/quicktime"
		case "webm":
			return "video/webm"
		case "avi":
			return "video/x-msvideo"
		case "mkv":
			return "video/x-matroska"
		case "m4v":
			return "video/x-m4v"
		}
		return "video/mp4"
	case mediaref.KindAudio:
		switch ext {
		case "wav":
			return "audio/wav"
		case "ogg", "opus":
			return "audio/ogg"
		case "m4a":
			return "audio/mp4"
		case "aac":
			return "audio/aac"
		case "flac":
			return "audio/flac"
		}
		return "audio/mpeg"
	default:
		switch ext {
		case "png":
			return "image/png"
		case "gif":
			return "image/gif"
		case "webp":
			return "image/webp"
		case "avif":
			return "image/avif"
		case "heic":
			return "image/heic"
		case "bmp":
			return "image/bmp"
		case "svg":
			return "image/svg+xml"
		case "tif", "tiff":
			return "image/tiff"
		}
		return "image/jpeg"
	}
}

// kindOf falls back to image when nothing matches, which keeps legacy rows
// without extensions rendering as pictures.
func kindOf(raw string, backend mediaref.Backend) mediaref.Kind {
	ext := extension(raw)
	switch {
	case contains(videoExtensions, ext):
		return mediaref.KindVideo
	case contains(audioExtensions, ext):
		return mediaref.KindAudio
	case contains(imageExtensions, ext):
		return mediaref.KindImage
	}
	if backend == mediaref.BackendLegacyDelivery && strings.Contains(raw, "/video/upload/") {
		return mediaref.KindVideo
	}
	return mediaref.KindImage
}

func extension(raw string) string {
	name := Filename(raw)
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(path.Ext(name)[1:])
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
