// Package mover relocates object-store blobs from temporary upload storage
// to their canonical artifact-scoped path.
package mover

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mediaref-mover")

// Relocation describes the outcome of copying one URL.
type Relocation struct {
	OldURL     string
	NewURL     string
	SourcePath string
	DestPath   string
	// Moved is false when the URL was left alone (not an object-store
	// temporary URL). NewURL equals OldURL in that case.
	Moved bool
}

// Mover copies blobs to canonical paths.
type Mover struct {
	store      mediaref.BlobStore
	classifier *classify.Classifier
	logger     *slog.Logger
}

// Option configures a Mover.
type Option func(*Mover)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mover) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Mover.
func New(store mediaref.BlobStore, classifier *classify.Classifier, opts ...Option) *Mover {
	m := &Mover{
		store:      store,
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Relocate copies url to its canonical path and deletes the source.
// Deletion is best-effort: a failure is logged and the relocation still succeeds.
func (m *Mover) Relocate(ctx context.Context, url string, ownerID, artifactID uuid.UUID) (Relocation, error) {
	rel, err := m.Copy(ctx, url, ownerID, artifactID)
	if err != nil {
		return rel, err
	}
	m.Release(ctx, rel)
	return rel, nil
}

// Copy is the first phase of a relocation: the blob is copied and the
// destination URL returned, the source stays in place. A destination that
// already holds the same object counts as success so re-running after a
// crash is safe; one holding a different object fails with ErrPathConflict.
func (m *Mover) Copy(ctx context.Context, url string, ownerID, artifactID uuid.UUID) (Relocation, error) {
	rel := Relocation{OldURL: url, NewURL: url}

	ref := m.classifier.Classify(url)
	if !m.classifier.IsTemporary(ref) {
		metrics.RelocationsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return rel, nil
	}

	dst := classify.CanonicalPath(ownerID, artifactID, ref.Filename)

	ctx, span := tracer.Start(ctx, "mover.copy",
		trace.WithAttributes(
			attribute.String("src", ref.StoragePath),
			attribute.String("dst", dst),
		),
	)
	defer span.End()

	err := m.store.Copy(ctx, ref.StoragePath, dst)
	switch {
	case err == nil:
	case errors.Is(err, mediaref.ErrAlreadyExists):
		same, cmpErr := m.sameObject(ctx, ref.StoragePath, dst)
		if cmpErr == nil && !same {
			cmpErr = mediaref.ErrPathConflict
		}
		if cmpErr != nil {
			span.RecordError(cmpErr)
			metrics.RelocationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			return rel, &mediaref.URLError{URL: url, Op: "copy", Err: cmpErr}
		}
		m.logger.Debug("relocation destination already exists", "src", ref.StoragePath, "dst", dst)
	case errors.Is(err, mediaref.ErrObjectNotFound):
		// the source may be gone because an earlier run already finished the move
		exists, existsErr := m.store.Exists(ctx, dst)
		if existsErr != nil || !exists {
			span.RecordError(err)
			metrics.RelocationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			return rel, &mediaref.URLError{URL: url, Op: "copy", Err: err}
		}
		m.logger.Debug("relocation source missing, destination present", "src", ref.StoragePath, "dst", dst)
	default:
		span.RecordError(err)
		metrics.RelocationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return rel, &mediaref.URLError{URL: url, Op: "copy", Err: err}
	}

	rel.NewURL = m.store.PublicURL(dst)
	rel.SourcePath = ref.StoragePath
	rel.DestPath = dst
	rel.Moved = true
	span.SetAttributes(attribute.String("new_url", rel.NewURL))
	metrics.RelocationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return rel, nil
}

// sameObject reports whether dst holds the object at src. A missing source
// means an earlier run already finished the move.
func (m *Mover) sameObject(ctx context.Context, src, dst string) (bool, error) {
	srcMeta, err := m.store.GetObjectMeta(ctx, src)
	if errors.Is(err, mediaref.ErrObjectNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	dstMeta, err := m.store.GetObjectMeta(ctx, dst)
	if err != nil {
		return false, err
	}
	if srcMeta.Size != dstMeta.Size {
		return false, nil
	}
	if contentETag(srcMeta.ETag) && contentETag(dstMeta.ETag) {
		return srcMeta.ETag == dstMeta.ETag, nil
	}
	return true, nil
}

// contentETag reports whether etag is a digest of the content. Multipart
// ETags are not, and a server-side copy may change them.
func contentETag(etag string) bool {
	return etag != "" && !strings.Contains(etag, "-")
}

// Release is the second phase: the source blob is deleted. It never fails;
// a leftover temporary blob is harmless once references point elsewhere.
func (m *Mover) Release(ctx context.Context, rel Relocation) {
	if !rel.Moved || rel.SourcePath == "" || rel.SourcePath == rel.DestPath {
		return
	}
	if err := m.store.Delete(ctx, rel.SourcePath); err != nil && !errors.Is(err, mediaref.ErrObjectNotFound) {
		m.logger.Warn("failed to delete relocated source", "path", rel.SourcePath, "err", err)
	}
}
