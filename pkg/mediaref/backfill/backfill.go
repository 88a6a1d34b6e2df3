// Package backfill stores derivative URL triples for legacy delivery
// originals that do not have one yet. No blob is moved.
package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/delivery"
	"github.com/tendant/mediaref/pkg/mediaref/graph"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
	"github.com/tendant/mediaref/pkg/mediaref/scan"
)

// DefaultPreviewSize bounds Summary.Preview.
const DefaultPreviewSize = 10

// Options configures a backfill run.
type Options struct {
	Execute     bool
	Limit       int
	BatchSize   int
	PreviewSize int
}

// Summary is the outcome of a run.
type Summary struct {
	DryRun    bool                      `json:"dry_run"`
	Eligible  int                       `json:"eligible"`
	Missing   int                       `json:"missing"`
	Updated   int                       `json:"updated"`
	Stored    int                       `json:"stored"`
	Skipped   int                       `json:"skipped"`
	Preview   []string                  `json:"preview,omitempty"`
	FailedIDs []uuid.UUID               `json:"failed_ids,omitempty"`
	Errors    []*mediaref.ArtifactError `json:"-"`
}

// Backfiller computes derivative triples through the delivery transform.
type Backfiller struct {
	repo       mediaref.Repository
	delivery   mediaref.LegacyDelivery
	classifier *classify.Classifier
	scanner    *scan.Scanner
	logger     *slog.Logger
}

// Option configures a Backfiller.
type Option func(*Backfiller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backfiller) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Backfiller.
func New(repo mediaref.Repository, d mediaref.LegacyDelivery, classifier *classify.Classifier, opts ...Option) *Backfiller {
	b := &Backfiller{
		repo:       repo,
		delivery:   d,
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.scanner = scan.New(repo, b.logger)
	return b
}

// Run finds artifacts with legacy media lacking a triple and, with Execute,
// stores the computed triples. Existing triples are left untouched.
func (b *Backfiller) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.PreviewSize == 0 {
		opts.PreviewSize = DefaultPreviewSize
	}

	filter := mediaref.ArtifactFilter{}
	if len(b.classifier.LegacyHosts) == 1 {
		filter.URLContains = b.classifier.LegacyHosts[0]
	}

	summary := &Summary{DryRun: !opts.Execute}
	result, err := b.scanner.Scan(ctx, scan.ScanOptions{
		Filter: filter,
		Match: func(a *mediaref.Artifact) bool {
			return len(b.missing(a)) > 0
		},
		Processor: scan.ProcessorFunc(func(ctx context.Context, a *mediaref.Artifact) error {
			stored, skipped, err := b.backfillArtifact(ctx, a.ID)
			summary.Skipped += skipped
			if err != nil {
				summary.Errors = append(summary.Errors, &mediaref.ArtifactError{ArtifactID: a.ID, Op: "backfill", Err: err})
				summary.FailedIDs = append(summary.FailedIDs, a.ID)
				return err
			}
			if stored > 0 {
				summary.Updated++
				summary.Stored += stored
				metrics.DerivativesBackfilledTotal.Add(float64(stored))
			}
			return nil
		}),
		BatchSize: opts.BatchSize,
		Limit:     opts.Limit,
		DryRun:    !opts.Execute,
		OnProgress: func(processed, total int64) {
			b.logger.Debug("backfill progress", "progress", fmt.Sprintf("%d/%d", processed, total))
		},
	})
	if result != nil {
		b.summarize(summary, result.Matched, opts.PreviewSize)
	}
	if err != nil {
		return summary, err
	}

	if summary.DryRun {
		b.logger.Info("backfill scope", "eligible", summary.Eligible, "missing", summary.Missing, "dry_run", true)
	} else {
		b.logger.Info("backfill complete", "eligible", summary.Eligible, "updated", summary.Updated, "stored", summary.Stored, "failed", len(summary.FailedIDs))
	}
	return summary, nil
}

// summarize fills the scope counts from the artifacts as they were found.
func (b *Backfiller) summarize(summary *Summary, eligible []*mediaref.Artifact, previewSize int) {
	summary.Eligible = len(eligible)
	for _, a := range eligible {
		missing := b.missing(a)
		if len(missing) == 0 {
			continue
		}
		summary.Missing += len(missing)
		if len(summary.Preview) < previewSize {
			summary.Preview = append(summary.Preview, fmt.Sprintf("artifact %s: %d url(s) without derivatives, first %s", a.ID, len(missing), missing[0]))
		}
	}
}

// backfillArtifact re-reads the artifact so triples written since discovery
// are seen and kept.
func (b *Backfiller) backfillArtifact(ctx context.Context, id uuid.UUID) (stored, skipped int, err error) {
	a, err := b.repo.GetArtifact(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	g := graph.FromArtifact(a)
	if g.Derivatives == nil {
		g.Derivatives = map[string]mediaref.Derivatives{}
	}

	for _, u := range b.missing(a) {
		d, ok := b.derive(u)
		if !ok {
			skipped++
			continue
		}
		g.Derivatives[u] = d
		stored++
	}
	if stored == 0 {
		return 0, skipped, nil
	}
	if err := b.repo.UpdateArtifactMedia(ctx, g.Artifact()); err != nil {
		return 0, skipped, err
	}
	return stored, skipped, nil
}

func (b *Backfiller) derive(u string) (mediaref.Derivatives, bool) {
	thumb, ok := b.delivery.InjectTransform(u, delivery.Presets[delivery.PresetThumb])
	if !ok {
		return mediaref.Derivatives{}, false
	}
	medium, _ := b.delivery.InjectTransform(u, delivery.Presets[delivery.PresetMedium])
	large, _ := b.delivery.InjectTransform(u, delivery.Presets[delivery.PresetLarge])
	return mediaref.Derivatives{Thumb: thumb, Medium: medium, Large: large}, true
}

// missing lists legacy image and video URLs of the media list that have no
// stored triple.
func (b *Backfiller) missing(a *mediaref.Artifact) []string {
	var out []string
	seen := map[string]bool{}
	for _, u := range a.MediaURLs {
		if seen[u] {
			continue
		}
		seen[u] = true
		if _, ok := a.MediaDerivatives[u]; ok {
			continue
		}
		ref := b.classifier.Classify(u)
		if ref.Backend != mediaref.BackendLegacyDelivery {
			continue
		}
		if ref.Kind == mediaref.KindImage || ref.Kind == mediaref.KindVideo {
			out = append(out, u)
		}
	}
	return out
}
