// Package graph models every media reference of one artifact as a single
// value. Relocation and cleanup rewrite references only through this value so
// that the media list, the URL-keyed maps, the thumbnail and the canonical
// media rows never disagree about a blob's URL.
package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
)

// Graph is a snapshot of all references held by one artifact.
type Graph struct {
	ArtifactID       uuid.UUID
	OwnerID          uuid.UUID
	MediaURLs        []string
	ThumbnailURL     *string
	ImageCaptions    map[string]string
	VideoSummaries   map[string]string
	AudioTranscripts map[string]string
	Derivatives      map[string]mediaref.Derivatives
	Links            []mediaref.LinkedMedia
}

// Mapping maps old URLs to their replacement.
type Mapping map[string]string

// Validate rejects chains: a replacement that is itself renamed would make
// Rewrite order-dependent and not idempotent.
func (m Mapping) Validate() error {
	for oldURL, newURL := range m {
		if oldURL == newURL {
			continue
		}
		if next, ok := m[newURL]; ok && next != newURL {
			return fmt.Errorf("%w: %q maps to %q which is renamed again", mediaref.ErrInvalidMapping, oldURL, newURL)
		}
	}
	return nil
}

// Load reads the artifact and its linked canonical media.
func Load(ctx context.Context, repo mediaref.Repository, artifactID uuid.UUID) (Graph, error) {
	artifact, err := repo.GetArtifact(ctx, artifactID)
	if err != nil {
		return Graph{}, err
	}

	linked, err := repo.ListArtifactMedia(ctx, artifactID)
	if err != nil {
		return Graph{}, &mediaref.ArtifactError{ArtifactID: artifactID, Op: "list_media", Err: err}
	}

	g := FromArtifact(artifact)
	g.Links = make([]mediaref.LinkedMedia, 0, len(linked))
	for _, lm := range linked {
		g.Links = append(g.Links, *lm)
	}
	return g, nil
}

// FromArtifact builds a graph without links.
func FromArtifact(a *mediaref.Artifact) Graph {
	c := a.Clone()
	return Graph{
		ArtifactID:       c.ID,
		OwnerID:          c.OwnerID,
		MediaURLs:        c.MediaURLs,
		ThumbnailURL:     c.ThumbnailURL,
		ImageCaptions:    c.ImageCaptions,
		VideoSummaries:   c.VideoSummaries,
		AudioTranscripts: c.AudioTranscripts,
		Derivatives:      c.MediaDerivatives,
	}
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	c := g
	c.MediaURLs = append([]string(nil), g.MediaURLs...)
	if g.ThumbnailURL != nil {
		t := *g.ThumbnailURL
		c.ThumbnailURL = &t
	}
	c.ImageCaptions = mediaref.CloneStrings(g.ImageCaptions)
	c.VideoSummaries = mediaref.CloneStrings(g.VideoSummaries)
	c.AudioTranscripts = mediaref.CloneStrings(g.AudioTranscripts)
	c.Derivatives = cloneDerivatives(g.Derivatives)
	c.Links = append([]mediaref.LinkedMedia(nil), g.Links...)
	return c
}

// Rewrite returns a new graph with every occurrence of an old URL replaced.
// URLs absent from m are left untouched, and applying m twice equals
// applying it once. When a renamed map key collides with an existing key the
// existing value is kept.
func (g Graph) Rewrite(m Mapping) Graph {
	out := g.Clone()
	if len(m) == 0 {
		return out
	}

	for i, u := range out.MediaURLs {
		if n, ok := m[u]; ok {
			out.MediaURLs[i] = n
		}
	}
	if out.ThumbnailURL != nil {
		if n, ok := m[*out.ThumbnailURL]; ok {
			out.ThumbnailURL = &n
		}
	}
	out.ImageCaptions = rekey(out.ImageCaptions, m)
	out.VideoSummaries = rekey(out.VideoSummaries, m)
	out.AudioTranscripts = rekey(out.AudioTranscripts, m)
	out.Derivatives = rekey(out.Derivatives, m)
	for i := range out.Links {
		if n, ok := m[out.Links[i].Media.PublicURL]; ok {
			out.Links[i].Media.PublicURL = n
		}
	}
	return out
}

// Remove returns a new graph without any reference to the dead URLs.
// Linked media rows are not touched; deleting rows is the repository's job.
func (g Graph) Remove(dead map[string]bool) Graph {
	out := g.Clone()
	if len(dead) == 0 {
		return out
	}

	kept := out.MediaURLs[:0]
	for _, u := range out.MediaURLs {
		if !dead[u] {
			kept = append(kept, u)
		}
	}
	out.MediaURLs = kept
	if out.ThumbnailURL != nil && dead[*out.ThumbnailURL] {
		out.ThumbnailURL = nil
	}
	for u := range dead {
		delete(out.ImageCaptions, u)
		delete(out.VideoSummaries, u)
		delete(out.AudioTranscripts, u)
		delete(out.Derivatives, u)
	}
	return out
}

// URLs lists every distinct URL the artifact row itself references: media
// blocks, thumbnail, then map keys. Map keys come in no particular order.
func (g Graph) URLs() []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	for _, u := range g.MediaURLs {
		add(u)
	}
	if g.ThumbnailURL != nil {
		add(*g.ThumbnailURL)
	}
	for u := range g.ImageCaptions {
		add(u)
	}
	for u := range g.VideoSummaries {
		add(u)
	}
	for u := range g.AudioTranscripts {
		add(u)
	}
	for u := range g.Derivatives {
		add(u)
	}
	return urls
}

// UnionURLs is the media-block list followed by gallery media URLs, deduplicated.
func (g Graph) UnionURLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range g.MediaURLs {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, l := range g.Links {
		u := l.Media.PublicURL
		if l.Link.Role != mediaref.RoleGallery || u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// ApplyTo copies the artifact-row fields of g onto a.
func (g Graph) ApplyTo(a *mediaref.Artifact) {
	c := g.Clone()
	a.MediaURLs = c.MediaURLs
	a.ThumbnailURL = c.ThumbnailURL
	a.ImageCaptions = c.ImageCaptions
	a.VideoSummaries = c.VideoSummaries
	a.AudioTranscripts = c.AudioTranscripts
	a.MediaDerivatives = c.Derivatives
}

// Artifact returns a fresh artifact carrying the fields of g.
func (g Graph) Artifact() *mediaref.Artifact {
	a := &mediaref.Artifact{ID: g.ArtifactID, OwnerID: g.OwnerID}
	g.ApplyTo(a)
	return a
}

func rekey[V any](src map[string]V, m Mapping) map[string]V {
	if src == nil {
		return nil
	}
	out := make(map[string]V, len(src))
	// unmapped keys first so they win any collision with a renamed key
	for k, v := range src {
		if _, renamed := m[k]; !renamed {
			out[k] = v
		}
	}
	var renamed []string
	for k := range src {
		if _, ok := m[k]; ok {
			renamed = append(renamed, k)
		}
	}
	slices.Sort(renamed)
	for _, k := range renamed {
		n := m[k]
		if _, taken := out[n]; taken {
			continue
		}
		out[n] = src[k]
	}
	return out
}

func cloneDerivatives(m map[string]mediaref.Derivatives) map[string]mediaref.Derivatives {
	if m == nil {
		return nil
	}
	out := make(map[string]mediaref.Derivatives, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ReferencedElsewhere reports whether url is still held by a canonical media
// row or by an artifact other than artifactID. A blob behind such a URL must
// not be deleted.
func ReferencedElsewhere(ctx context.Context, repo mediaref.Repository, url string, artifactID uuid.UUID) (bool, error) {
	_, err := repo.GetMediaByURL(ctx, url)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, mediaref.ErrMediaNotFound):
		return false, err
	}

	artifacts, err := repo.ListArtifacts(ctx, mediaref.ArtifactFilter{URLContains: url})
	if err != nil {
		return false, err
	}
	for _, a := range artifacts {
		if a.ID != artifactID && slices.Contains(FromArtifact(a).URLs(), url) {
			return true, nil
		}
	}
	return false, nil
}
