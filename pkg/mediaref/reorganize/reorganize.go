// Package reorganize moves an artifact's freshly uploaded blobs out of
// temporary storage and rewrites every reference to them in one step.
package reorganize

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/graph"
	"github.com/tendant/mediaref/pkg/mediaref/lock"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
	"github.com/tendant/mediaref/pkg/mediaref/mover"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mediaref-reorganize")

// Result reports what a reorganize run did. Errors lists URLs that kept
// their old location; the artifact is consistent either way.
type Result struct {
	MovedCount int                 `json:"moved_count"`
	Errors     []mediaref.URLError `json:"errors,omitempty"`
}

// Reorganizer relocates temporary blobs of one artifact at a time.
type Reorganizer struct {
	repo   mediaref.Repository
	mover  *mover.Mover
	locker lock.Locker
	logger *slog.Logger
}

// Option configures a Reorganizer.
type Option func(*Reorganizer)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(r *Reorganizer) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reorganizer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reorganizer.
func New(repo mediaref.Repository, m *mover.Mover, opts ...Option) *Reorganizer {
	r := &Reorganizer{
		repo:   repo,
		mover:  m,
		locker: lock.NewLocal(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LockKey is the lock key used for an artifact.
func LockKey(artifactID uuid.UUID) string {
	return "reorganize:" + artifactID.String()
}

// Reorganize relocates every temporary object-store URL of the artifact
// (media blocks and gallery media) and rewrites all references to them.
//
// Blobs are copied first, references rewritten second and sources deleted
// last, only for URLs whose references all moved. A URL that fails at any
// step keeps its old location everywhere and is reported in Result.Errors.
func (r *Reorganizer) Reorganize(ctx context.Context, artifactID, callerID uuid.UUID) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reorganize",
		trace.WithAttributes(attribute.String("artifact_id", artifactID.String())),
	)
	defer span.End()

	// ownership first, so a caller who may not reorganize cannot hold the lock
	artifact, err := r.repo.GetArtifact(ctx, artifactID)
	if err == nil && artifact.OwnerID != callerID {
		err = mediaref.ErrUnauthorized
	}
	if err != nil {
		metrics.ReorganizeTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}

	release, err := r.locker.Acquire(ctx, LockKey(artifactID))
	if err != nil {
		if errors.Is(err, mediaref.ErrLocked) {
			metrics.ReorganizeTotal.WithLabelValues(metrics.ResultLocked).Inc()
		} else {
			metrics.ReorganizeTotal.WithLabelValues(metrics.ResultFailed).Inc()
		}
		return nil, err
	}
	defer release()

	result, err := r.reorganize(ctx, artifactID, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ReorganizeTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("moved_count", result.MovedCount),
		attribute.Int("error_count", len(result.Errors)),
	)
	if len(result.Errors) > 0 {
		metrics.ReorganizeTotal.WithLabelValues(metrics.ResultFailed).Inc()
	} else {
		metrics.ReorganizeTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	}
	return result, nil
}

func (r *Reorganizer) reorganize(ctx context.Context, artifactID, callerID uuid.UUID) (*Result, error) {
	g, err := graph.Load(ctx, r.repo, artifactID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != callerID {
		return nil, mediaref.ErrUnauthorized
	}

	result := &Result{}
	mapping := graph.Mapping{}
	var relocations []mover.Relocation
	// canonical path -> the URL that claimed it in this run
	claimed := map[string]string{}

	for _, u := range g.UnionURLs() {
		rel, err := r.mover.Copy(ctx, u, g.OwnerID, g.ArtifactID)
		if err == nil && rel.Moved {
			if first, taken := claimed[rel.DestPath]; taken && first != u {
				err = &mediaref.URLError{URL: u, Op: "copy", Err: mediaref.ErrPathConflict}
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, urlError(u, "copy", err))
			r.logger.Warn("failed to relocate media", "artifact_id", artifactID, "url", u, "err", err)
			continue
		}
		if !rel.Moved || rel.NewURL == u {
			continue
		}
		claimed[rel.DestPath] = u
		mapping[u] = rel.NewURL
		relocations = append(relocations, rel)
	}

	if len(mapping) == 0 {
		return result, nil
	}
	if err := mapping.Validate(); err != nil {
		return nil, &mediaref.ArtifactError{ArtifactID: artifactID, Op: "reorganize", Err: err}
	}

	rewritten := g.Rewrite(mapping)
	if err := r.repo.UpdateArtifactMedia(ctx, rewritten.Artifact()); err != nil {
		// copies stay behind at their destination and are reused on retry
		return nil, &mediaref.ArtifactError{ArtifactID: artifactID, Op: "update_artifact_media", Err: err}
	}
	result.MovedCount = len(mapping)

	for _, rel := range relocations {
		if _, err := r.repo.UpdateMediaLocation(ctx, g.OwnerID, rel.OldURL, rel.NewURL, rel.DestPath); err != nil {
			result.Errors = append(result.Errors, urlError(rel.OldURL, "update_media", err))
			r.logger.Warn("failed to update canonical media location",
				"artifact_id", artifactID, "url", rel.OldURL, "err", err)
			continue
		}
		if stillReferenced, err := graph.ReferencedElsewhere(ctx, r.repo, rel.OldURL, artifactID); err != nil || stillReferenced {
			r.logger.Info("keeping relocated source, still referenced",
				"artifact_id", artifactID, "url", rel.OldURL, "err", err)
			continue
		}
		r.mover.Release(ctx, rel)
	}

	r.logger.Info("reorganized artifact media",
		"artifact_id", artifactID, "moved", result.MovedCount, "errors", len(result.Errors))
	return result, nil
}

func urlError(url, op string, err error) mediaref.URLError {
	var ue *mediaref.URLError
	if errors.As(err, &ue) {
		return mediaref.URLError{URL: url, Op: op, Err: ue.Err}
	}
	return mediaref.URLError{URL: url, Op: op, Err: err}
}
