// Package migrate moves media from the legacy delivery backend into the
// object store, one artifact at a time.
package migrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/graph"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
	"github.com/tendant/mediaref/pkg/mediaref/scan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mediaref-migrate")

// DefaultPreviewSize bounds Summary.Preview when Options.PreviewSize is zero.
const DefaultPreviewSize = 10

// sniffLen is how much of an original is inspected for its type.
const sniffLen = 3072

// Options configures a migration run.
type Options struct {
	// Execute performs the migration. Without it the run only reports scope.
	Execute bool

	// Limit caps the number of artifacts, 0 means all
	Limit int

	// SkipDelete keeps legacy copies after a successful move
	SkipDelete bool

	// OwnerID restricts the run to one owner (optional)
	OwnerID *uuid.UUID

	BatchSize   int
	PreviewSize int
}

// Status of one artifact after a run.
type Status string

// Artifact statuses.
const (
	StatusSucceeded       Status = "succeeded"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// ArtifactResult is the outcome for one artifact.
type ArtifactResult struct {
	ArtifactID uuid.UUID           `json:"artifact_id"`
	Status     Status              `json:"status"`
	Migrated   map[string]string   `json:"migrated,omitempty"`
	Errors     []mediaref.URLError `json:"errors,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	DryRun          bool             `json:"dry_run"`
	Eligible        int              `json:"eligible"`
	LegacyURLs      int              `json:"legacy_urls"`
	Succeeded       int              `json:"succeeded"`
	PartiallyFailed int              `json:"partially_failed"`
	Failed          int              `json:"failed"`
	MigratedURLs    int              `json:"migrated_urls"`
	Preview         []string         `json:"preview,omitempty"`
	Results         []ArtifactResult `json:"results,omitempty"`
}

// Migrator moves legacy delivery media into the object store.
type Migrator struct {
	repo       mediaref.Repository
	store      mediaref.BlobStore
	delivery   mediaref.LegacyDelivery
	classifier *classify.Classifier
	scanner    *scan.Scanner
	logger     *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Migrator.
func New(repo mediaref.Repository, store mediaref.BlobStore, delivery mediaref.LegacyDelivery, classifier *classify.Classifier, opts ...Option) *Migrator {
	m := &Migrator{
		repo:       repo,
		store:      store,
		delivery:   delivery,
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scanner = scan.New(repo, m.logger)
	return m
}

// Run discovers eligible artifacts and, with Execute, migrates each one.
// Per-artifact failures land in the summary; only scope-level failures
// such as an unreachable repository are returned as errors.
func (m *Migrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.PreviewSize == 0 {
		opts.PreviewSize = DefaultPreviewSize
	}

	filter := mediaref.ArtifactFilter{OwnerID: opts.OwnerID}
	if len(m.classifier.LegacyHosts) == 1 {
		filter.URLContains = m.classifier.LegacyHosts[0]
	}

	eligible, err := m.scanner.Collect(ctx, filter, m.hasLegacyURL, opts.BatchSize, opts.Limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{DryRun: !opts.Execute, Eligible: len(eligible)}
	for _, a := range eligible {
		legacy := m.legacyURLs(graph.FromArtifact(a).URLs())
		summary.LegacyURLs += len(legacy)
		if len(summary.Preview) < opts.PreviewSize {
			summary.Preview = append(summary.Preview, fmt.Sprintf("artifact %s: %d legacy url(s), first %s", a.ID, len(legacy), legacy[0]))
		}
	}

	m.logger.Info("migration scope", "eligible", summary.Eligible, "legacy_urls", summary.LegacyURLs, "dry_run", summary.DryRun)
	if !opts.Execute {
		return summary, nil
	}

	for i, a := range eligible {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := m.MigrateArtifact(ctx, a.ID, opts.SkipDelete)
		summary.Results = append(summary.Results, result)
		summary.MigratedURLs += len(result.Migrated)
		switch result.Status {
		case StatusSucceeded:
			summary.Succeeded++
		case StatusPartiallyFailed:
			summary.PartiallyFailed++
		default:
			summary.Failed++
		}
		m.logger.Info("migrated artifact",
			"progress", fmt.Sprintf("%d/%d", i+1, len(eligible)),
			"artifact_id", a.ID,
			"status", result.Status,
			"migrated", len(result.Migrated),
			"errors", len(result.Errors))
	}

	return summary, nil
}

// MigrateArtifact moves every legacy URL of one artifact, including its
// linked media, and rewrites all references through the graph.
func (m *Migrator) MigrateArtifact(ctx context.Context, artifactID uuid.UUID, skipDelete bool) ArtifactResult {
	ctx, span := tracer.Start(ctx, "migrate.artifact",
		trace.WithAttributes(attribute.String("artifact_id", artifactID.String())),
	)
	defer span.End()

	result := m.migrateArtifact(ctx, span, artifactID, skipDelete)
	result.Status = status(result)
	span.SetAttributes(attribute.String("status", string(result.Status)))
	return result
}

func (m *Migrator) migrateArtifact(ctx context.Context, span trace.Span, artifactID uuid.UUID, skipDelete bool) ArtifactResult {
	result := ArtifactResult{ArtifactID: artifactID, Migrated: map[string]string{}}

	g, err := graph.Load(ctx, m.repo, artifactID)
	if err != nil {
		span.RecordError(err)
		result.Errors = append(result.Errors, mediaref.URLError{Op: "load", Err: err})
		return result
	}

	urls := g.URLs()
	for _, l := range g.Links {
		urls = append(urls, l.Media.PublicURL)
	}

	mapping := graph.Mapping{}
	paths := map[string]string{}
	// canonical path -> the legacy URL that claimed it in this run
	claimed := map[string]string{}
	for _, u := range m.legacyURLs(urls) {
		if _, done := mapping[u]; done {
			continue
		}
		newURL, dst, err := m.copyToStore(ctx, g.OwnerID, g.ArtifactID, u, claimed)
		if err != nil {
			metrics.MigratedURLsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			result.Errors = append(result.Errors, mediaref.URLError{URL: u, Op: "copy", Err: err})
			continue
		}
		claimed[dst] = u
		mapping[u] = newURL
		paths[u] = dst
	}
	if len(mapping) == 0 {
		return result
	}

	if err := mapping.Validate(); err != nil {
		result.Errors = append(result.Errors, mediaref.URLError{Op: "rewrite", Err: err})
		return result
	}
	if err := m.repo.UpdateArtifactMedia(ctx, g.Rewrite(mapping).Artifact()); err != nil {
		span.RecordError(err)
		for u := range mapping {
			result.Errors = append(result.Errors, mediaref.URLError{URL: u, Op: "update_artifact_media", Err: err})
		}
		return result
	}

	for old, newURL := range mapping {
		result.Migrated[old] = newURL
		metrics.MigratedURLsTotal.WithLabelValues(metrics.ResultSuccess).Inc()

		if _, err := m.repo.UpdateMediaLocation(ctx, g.OwnerID, old, newURL, paths[old]); err != nil {
			result.Errors = append(result.Errors, mediaref.URLError{URL: old, Op: "update_media", Err: err})
			continue
		}
		if skipDelete {
			continue
		}
		if held, err := graph.ReferencedElsewhere(ctx, m.repo, old, artifactID); err != nil || held {
			m.logger.Info("keeping legacy original, still referenced", "artifact_id", artifactID, "url", old, "err", err)
			continue
		}
		if err := m.destroy(ctx, old); err != nil {
			result.Errors = append(result.Errors, mediaref.URLError{URL: old, Op: "destroy", Err: err})
		}
	}
	return result
}

// copyToStore streams the original behind a legacy URL to its canonical
// path. The type is sniffed from the first bytes. An object already at that
// path is reused only when it has the original's size; anything else there,
// or a path another URL of the same run claimed, is ErrPathConflict.
func (m *Migrator) copyToStore(ctx context.Context, ownerID, artifactID uuid.UUID, legacyURL string, claimed map[string]string) (string, string, error) {
	ref := m.classifier.Classify(legacyURL)

	body, size, err := m.delivery.FetchOriginal(ctx, legacyURL)
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	r := bufio.NewReaderSize(body, sniffLen)
	head, err := r.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("read original: %w", err)
	}
	detected := mimetype.Detect(head)

	filename := ref.Filename
	mimeType := ref.MimeType
	switch {
	case path.Ext(filename) == "":
		filename += detected.Extension()
		mimeType = detected.String()
	case !detected.Is("application/octet-stream") && !detected.Is("text/plain"):
		mimeType = detected.String()
	}

	dst := classify.CanonicalPath(ownerID, artifactID, filename)
	if first, taken := claimed[dst]; taken && first != legacyURL {
		return "", "", mediaref.ErrPathConflict
	}

	meta, err := m.store.GetObjectMeta(ctx, dst)
	switch {
	case err == nil:
		if size < 0 {
			if size, err = io.Copy(io.Discard, r); err != nil {
				return "", "", fmt.Errorf("read original: %w", err)
			}
		}
		if meta.Size != size {
			return "", "", mediaref.ErrPathConflict
		}
		m.logger.Debug("reusing migrated object", "url", legacyURL, "dst", dst)
		return m.store.PublicURL(dst), dst, nil
	case !errors.Is(err, mediaref.ErrObjectNotFound):
		return "", "", err
	}

	if err := m.store.Upload(ctx, dst, r, mediaref.UploadParams{
		MimeType: mimeType,
		Size:     max(size, 0),
	}); err != nil {
		return "", "", err
	}
	return m.store.PublicURL(dst), dst, nil
}

func (m *Migrator) destroy(ctx context.Context, legacyURL string) error {
	publicID, resourceType, ok := m.delivery.PublicID(legacyURL)
	if !ok {
		return errors.New("no public id in legacy url")
	}
	return m.delivery.Destroy(ctx, publicID, resourceType)
}

func (m *Migrator) hasLegacyURL(a *mediaref.Artifact) bool {
	return len(m.legacyURLs(graph.FromArtifact(a).URLs())) > 0
}

func (m *Migrator) legacyURLs(urls []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if m.classifier.Classify(u).Backend == mediaref.BackendLegacyDelivery {
			out = append(out, u)
		}
	}
	return out
}

func status(r ArtifactResult) Status {
	switch {
	case len(r.Errors) == 0:
		return StatusSucceeded
	case len(r.Migrated) > 0:
		return StatusPartiallyFailed
	default:
		return StatusFailed
	}
}
