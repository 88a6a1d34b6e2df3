// Package scan walks artifacts and canonical media in batches.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/mediaref/pkg/mediaref"
)

// DefaultBatchSize is used when ScanOptions.BatchSize is zero.
const DefaultBatchSize = 100

// Scanner queries artifacts and processes them with the provided processor.
type Scanner struct {
	repo   mediaref.Repository
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(repo mediaref.Repository, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{repo: repo, logger: logger}
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// Filter narrows the repository query; Limit and Offset are managed by the scanner
	Filter mediaref.ArtifactFilter

	// Match further restricts artifacts after loading (optional)
	Match func(*mediaref.Artifact) bool

	// Processor defines the processing logic (required unless DryRun is true)
	Processor ArtifactProcessor

	// BatchSize controls how many artifacts to query at once (default: 100)
	BatchSize int

	// Limit caps the number of matching artifacts, 0 means no cap
	Limit int

	// DryRun if true, doesn't process artifacts, just reports what would be processed
	DryRun bool

	// OnProgress is called after each processed artifact (optional)
	OnProgress func(processed, total int64)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	// TotalFound is the number of matching artifacts, capped at Limit
	TotalFound int64

	// TotalProcessed is the number of artifacts successfully processed
	TotalProcessed int64

	// TotalFailed is the number of artifacts that failed processing
	TotalFailed int64

	// FailedIDs contains the IDs of artifacts that failed processing
	FailedIDs []string

	// Matched holds the matching artifacts in scan order
	Matched []*mediaref.Artifact
}

// Scan collects every matching artifact first and only then processes them,
// so processing that changes whether an artifact matches cannot shift the
// paging window. A failing artifact is recorded and scanning continues.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}

	matched, err := s.Collect(ctx, opts.Filter, opts.Match, opts.BatchSize, opts.Limit)
	if err != nil {
		return result, err
	}
	result.Matched = matched
	result.TotalFound = int64(len(matched))

	if opts.DryRun {
		return result, nil
	}

	for _, artifact := range matched {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := opts.Processor.Process(ctx, artifact); err != nil {
			result.TotalFailed++
			result.FailedIDs = append(result.FailedIDs, artifact.ID.String())
			s.logger.Error("failed to process artifact", "artifact_id", artifact.ID, "err", err)
		} else {
			result.TotalProcessed++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
		}
	}

	return result, nil
}

// Collect pages through artifacts matching filter and match, up to limit.
// It never writes.
func (s *Scanner) Collect(ctx context.Context, filter mediaref.ArtifactFilter, match func(*mediaref.Artifact) bool, batchSize, limit int) ([]*mediaref.Artifact, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var matched []*mediaref.Artifact
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return matched, err
		}

		size := batchSize
		filter.Limit = &size
		filter.Offset = &offset

		batch, err := s.repo.ListArtifacts(ctx, filter)
		if err != nil {
			return matched, fmt.Errorf("failed to list artifacts: %w", err)
		}

		for _, artifact := range batch {
			if match != nil && !match(artifact) {
				continue
			}
			matched = append(matched, artifact)
			if limit > 0 && len(matched) >= limit {
				return matched, nil
			}
		}

		if len(batch) < batchSize {
			return matched, nil
		}
		offset += batchSize
	}
}

// ForEachMedia pages through canonical media and calls fn for each row.
// Returning an error from fn stops the walk.
func (s *Scanner) ForEachMedia(ctx context.Context, filter mediaref.MediaFilter, batchSize int, fn func(context.Context, *mediaref.CanonicalMedia) error) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := batchSize
		filter.Limit = &size
		filter.Offset = &offset

		batch, err := s.repo.ListMedia(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list media: %w", err)
		}

		for _, media := range batch {
			if err := fn(ctx, media); err != nil {
				return err
			}
		}

		if len(batch) < batchSize {
			return nil
		}
		offset += batchSize
	}
}
