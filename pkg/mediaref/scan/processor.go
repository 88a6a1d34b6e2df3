package scan

import (
	"context"

	"github.com/tendant/mediaref/pkg/mediaref"
)

// ArtifactProcessor processes individual artifacts found by a scan.
//
// Implementations in this module:
//   - migrate: moves legacy delivery media into the object store
//   - backfill: stores derivative URL triples
//   - orphan: drops dead URLs from artifact fields
type ArtifactProcessor interface {
	// Process is called for each matching artifact.
	// Return error to mark this artifact as failed (scan continues with next artifact).
	Process(ctx context.Context, artifact *mediaref.Artifact) error
}

// ProcessorFunc adapts a function to the ArtifactProcessor interface.
type ProcessorFunc func(context.Context, *mediaref.Artifact) error

func (f ProcessorFunc) Process(ctx context.Context, artifact *mediaref.Artifact) error {
	return f(ctx, artifact)
}
