// Package mediaref keeps media references of catalog artifacts consistent
// while the underlying blobs move between storage locations.
//
// A single uploaded file can be referenced from four places: an artifact's
// media list, the URL-keyed caption/summary/transcript maps, the thumbnail
// field, and a canonical media record reached through a join row. None of
// them are tied together by the database. The packages below keep them in
// agreement:
//
//   - classify: pure URL classification (backend, kind, MIME, filename, path)
//   - mover: relocates object-store blobs out of temporary storage
//   - graph: loads and rewrites all references of one artifact at once
//   - reorganize: per-save relocation of newly uploaded blobs
//   - orphan: liveness scan and cleanup of dead references
//   - migrate: dataset-wide move from the legacy delivery backend
//   - backfill: precomputed derivative URLs for legacy delivery media
//
// Storage backends live under storage/, repositories under repo/.
package mediaref
