package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
)

type linkKey struct {
	artifactID uuid.UUID
	role       mediaref.LinkRole
	sortOrder  int
}

// Repository implements mediaref.Repository using in-memory storage
type Repository struct {
	mu         sync.RWMutex
	artifacts  map[uuid.UUID]*mediaref.Artifact
	media      map[uuid.UUID]*mediaref.CanonicalMedia
	mediaByURL map[string]uuid.UUID
	links      map[uuid.UUID]*mediaref.ArtifactMediaLink
	linkKeys   map[linkKey]uuid.UUID
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		artifacts:  make(map[uuid.UUID]*mediaref.Artifact),
		media:      make(map[uuid.UUID]*mediaref.CanonicalMedia),
		mediaByURL: make(map[string]uuid.UUID),
		links:      make(map[uuid.UUID]*mediaref.ArtifactMediaLink),
		linkKeys:   make(map[linkKey]uuid.UUID),
	}
}

var _ mediaref.Repository = (*Repository)(nil)

// Artifact operations

func (r *Repository) CreateArtifact(ctx context.Context, artifact *mediaref.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	if _, exists := r.artifacts[artifact.ID]; exists {
		return fmt.Errorf("artifact %s already exists", artifact.ID)
	}
	now := time.Now().UTC()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = artifact.CreatedAt
	}

	r.artifacts[artifact.ID] = artifact.Clone()
	return nil
}

func (r *Repository) GetArtifact(ctx context.Context, id uuid.UUID) (*mediaref.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, exists := r.artifacts[id]
	if !exists {
		return nil, mediaref.ErrArtifactNotFound
	}
	return artifact.Clone(), nil
}

// ListArtifacts returns artifacts ordered by creation time, then id
func (r *Repository) ListArtifacts(ctx context.Context, filter mediaref.ArtifactFilter) ([]*mediaref.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*mediaref.Artifact
	for _, a := range r.artifacts {
		if filter.OwnerID != nil && a.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.URLContains != "" && !artifactContains(a, filter.URLContains) {
			continue
		}
		result = append(result, a.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func (r *Repository) UpdateArtifactMedia(ctx context.Context, artifact *mediaref.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.artifacts[artifact.ID]
	if !exists {
		return mediaref.ErrArtifactNotFound
	}

	updated := artifact.Clone()
	updated.OwnerID = existing.OwnerID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	r.artifacts[artifact.ID] = updated
	artifact.UpdatedAt = updated.UpdatedAt
	return nil
}

// Canonical media operations

func (r *Repository) CreateMedia(ctx context.Context, media *mediaref.CanonicalMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	if _, taken := r.mediaByURL[media.PublicURL]; taken {
		return mediaref.ErrDuplicateMedia
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}

	mediaCopy := *media
	r.media[media.ID] = &mediaCopy
	r.mediaByURL[media.PublicURL] = media.ID
	return nil
}

func (r *Repository) GetMedia(ctx context.Context, id uuid.UUID) (*mediaref.CanonicalMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	media, exists := r.media[id]
	if !exists {
		return nil, mediaref.ErrMediaNotFound
	}
	mediaCopy := *media
	return &mediaCopy, nil
}

func (r *Repository) GetMediaByURL(ctx context.Context, publicURL string) (*mediaref.CanonicalMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.mediaByURL[publicURL]
	if !exists {
		return nil, mediaref.ErrMediaNotFound
	}
	mediaCopy := *r.media[id]
	return &mediaCopy, nil
}

// ListMedia returns media ordered by creation time, then id
func (r *Repository) ListMedia(ctx context.Context, filter mediaref.MediaFilter) ([]*mediaref.CanonicalMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*mediaref.CanonicalMedia
	for _, m := range r.media {
		if filter.OwnerID != nil && m.OwnerID != *filter.OwnerID {
			continue
		}
		mediaCopy := *m
		result = append(result, &mediaCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, filter.Offset, filter.Limit), nil
}

func (r *Repository) UpdateMediaLocation(ctx context.Context, ownerID uuid.UUID, oldURL, newURL, newPath string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.mediaByURL[oldURL]
	if !exists {
		return 0, nil
	}
	media := r.media[id]
	if media.OwnerID != ownerID {
		return 0, nil
	}
	if other, taken := r.mediaByURL[newURL]; taken && other != id {
		return 0, mediaref.ErrDuplicateMedia
	}

	delete(r.mediaByURL, oldURL)
	media.PublicURL = newURL
	media.StoragePath = newPath
	r.mediaByURL[newURL] = id
	return 1, nil
}

func (r *Repository) DeleteMedia(ctx context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		media, exists := r.media[id]
		if !exists {
			continue
		}
		delete(r.mediaByURL, media.PublicURL)
		delete(r.media, id)
	}
	return nil
}

// Link operations

func (r *Repository) CreateLink(ctx context.Context, link *mediaref.ArtifactMediaLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !link.Role.Valid() {
		return fmt.Errorf("invalid link role %q", link.Role)
	}
	if _, exists := r.artifacts[link.ArtifactID]; !exists {
		return mediaref.ErrArtifactNotFound
	}
	key := linkKey{artifactID: link.ArtifactID, role: link.Role, sortOrder: link.SortOrder}
	if _, taken := r.linkKeys[key]; taken {
		return mediaref.ErrDuplicateLink
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	linkCopy := *link
	r.links[link.ID] = &linkCopy
	r.linkKeys[key] = link.ID
	return nil
}

// ListArtifactMedia returns links whose media exists, ordered by role and sort order
func (r *Repository) ListArtifactMedia(ctx context.Context, artifactID uuid.UUID) ([]*mediaref.LinkedMedia, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*mediaref.LinkedMedia
	for _, l := range r.links {
		if l.ArtifactID != artifactID {
			continue
		}
		media, exists := r.media[l.MediaID]
		if !exists {
			continue
		}
		result = append(result, &mediaref.LinkedMedia{Link: *l, Media: *media})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Link.Role != result[j].Link.Role {
			return result[i].Link.Role < result[j].Link.Role
		}
		return result[i].Link.SortOrder < result[j].Link.SortOrder
	})
	return result, nil
}

func (r *Repository) ListLinksByMedia(ctx context.Context, mediaIDs []uuid.UUID) ([]*mediaref.ArtifactMediaLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[uuid.UUID]bool, len(mediaIDs))
	for _, id := range mediaIDs {
		wanted[id] = true
	}

	var result []*mediaref.ArtifactMediaLink
	for _, l := range r.links {
		if wanted[l.MediaID] {
			linkCopy := *l
			result = append(result, &linkCopy)
		}
	}
	sortLinks(result)
	return result, nil
}

func (r *Repository) ListDanglingLinks(ctx context.Context) ([]*mediaref.ArtifactMediaLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*mediaref.ArtifactMediaLink
	for _, l := range r.links {
		if _, exists := r.media[l.MediaID]; !exists {
			linkCopy := *l
			result = append(result, &linkCopy)
		}
	}
	sortLinks(result)
	return result, nil
}

func (r *Repository) DeleteLinks(ctx context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		l, exists := r.links[id]
		if !exists {
			continue
		}
		delete(r.linkKeys, linkKey{artifactID: l.ArtifactID, role: l.Role, sortOrder: l.SortOrder})
		delete(r.links, id)
	}
	return nil
}

func artifactContains(a *mediaref.Artifact, substr string) bool {
	for _, u := range a.MediaURLs {
		if strings.Contains(u, substr) {
			return true
		}
	}
	if a.ThumbnailURL != nil && strings.Contains(*a.ThumbnailURL, substr) {
		return true
	}
	for _, m := range []map[string]string{a.ImageCaptions, a.VideoSummaries, a.AudioTranscripts} {
		for k := range m {
			if strings.Contains(k, substr) {
				return true
			}
		}
	}
	for k := range a.MediaDerivatives {
		if strings.Contains(k, substr) {
			return true
		}
	}
	return false
}

func sortLinks(links []*mediaref.ArtifactMediaLink) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].ArtifactID != links[j].ArtifactID {
			return links[i].ArtifactID.String() < links[j].ArtifactID.String()
		}
		if links[i].Role != links[j].Role {
			return links[i].Role < links[j].Role
		}
		return links[i].SortOrder < links[j].SortOrder
	})
}

func paginate[T any](items []T, offset, limit *int) []T {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}
	if start >= len(items) {
		return nil
	}
	items = items[start:]
	if limit != nil && *limit >= 0 && *limit < len(items) {
		items = items[:*limit]
	}
	return items
}
