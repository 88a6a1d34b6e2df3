package orphan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/orphan"
	"github.com/tendant/mediaref/pkg/mediaref/repo/memory"
)

const base = "https://cdn.example.com/media"

type fakeProber struct {
	mu    sync.Mutex
	alive map[string]bool
	fail  map[string]bool
	calls map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{alive: map[string]bool{}, fail: map[string]bool{}, calls: map[string]int{}}
}

func (p *fakeProber) Exists(ctx context.Context, url string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[url]++
	if p.fail[url] {
		return false, errors.New("timeout")
	}
	return p.alive[url], nil
}

// recordingRepo records every write in order.
type recordingRepo struct {
	*memory.Repository
	writes []string
}

func (r *recordingRepo) DeleteLinks(ctx context.Context, ids []uuid.UUID) error {
	r.writes = append(r.writes, "delete_links")
	return r.Repository.DeleteLinks(ctx, ids)
}

func (r *recordingRepo) DeleteMedia(ctx context.Context, ids []uuid.UUID) error {
	r.writes = append(r.writes, "delete_media")
	return r.Repository.DeleteMedia(ctx, ids)
}

func (r *recordingRepo) UpdateArtifactMedia(ctx context.Context, a *mediaref.Artifact) error {
	r.writes = append(r.writes, "update_artifact")
	return r.Repository.UpdateArtifactMedia(ctx, a)
}

func (r *recordingRepo) UpdateMediaLocation(ctx context.Context, owner uuid.UUID, o, n, p string) (int64, error) {
	r.writes = append(r.writes, "update_media")
	return r.Repository.UpdateMediaLocation(ctx, owner, o, n, p)
}

type world struct {
	repo       *recordingRepo
	prober     *fakeProber
	artifact   *mediaref.Artifact
	aliveMedia *mediaref.CanonicalMedia
	deadMedia  *mediaref.CanonicalMedia
	dangling   *mediaref.ArtifactMediaLink
	deadLink   *mediaref.ArtifactMediaLink
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{repo: &recordingRepo{Repository: memory.New()}, prober: newFakeProber()}
	owner := uuid.New()

	alive := base + "/u/alive.jpg"
	dead := base + "/u/dead.jpg"
	w.prober.alive[alive] = true

	thumb := dead
	w.artifact = &mediaref.Artifact{
		OwnerID:       owner,
		MediaURLs:     []string{alive, dead, "relative/unknown.jpg"},
		ThumbnailURL:  &thumb,
		ImageCaptions: map[string]string{alive: "ok", dead: "gone"},
	}
	require.NoError(t, w.repo.CreateArtifact(ctx, w.artifact))

	w.aliveMedia = &mediaref.CanonicalMedia{OwnerID: owner, PublicURL: alive}
	w.deadMedia = &mediaref.CanonicalMedia{OwnerID: owner, PublicURL: dead}
	require.NoError(t, w.repo.CreateMedia(ctx, w.aliveMedia))
	require.NoError(t, w.repo.CreateMedia(ctx, w.deadMedia))

	require.NoError(t, w.repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: w.artifact.ID, MediaID: w.aliveMedia.ID, Role: mediaref.RoleGallery, SortOrder: 0}))
	w.deadLink = &mediaref.ArtifactMediaLink{ArtifactID: w.artifact.ID, MediaID: w.deadMedia.ID, Role: mediaref.RoleGallery, SortOrder: 1}
	require.NoError(t, w.repo.CreateLink(ctx, w.deadLink))
	w.dangling = &mediaref.ArtifactMediaLink{ArtifactID: w.artifact.ID, MediaID: uuid.New(), Role: mediaref.RoleGallery, SortOrder: 2}
	require.NoError(t, w.repo.CreateLink(ctx, w.dangling))
	return w
}

func (w *world) scanner() *orphan.Scanner {
	return orphan.New(w.repo, w.prober, classify.New(classify.WithObjectStoreBase(base)))
}

func TestScan_DryRunHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	report, err := w.scanner().Scan(ctx, orphan.ScanOptions{Mode: orphan.ModeAll})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.MediaScanned)
	assert.Equal(t, 1, report.BrokenMedia)
	assert.Equal(t, 1, report.DanglingLinks)
	assert.Equal(t, 1, report.LinksToBroken)
	assert.Equal(t, 1, report.ArtifactsAffected)
	assert.Equal(t, 1, report.DeadURLs)
	assert.Equal(t, 1, report.Skipped)
	assert.NotEmpty(t, report.Preview)
	assert.Zero(t, report.DeletedLinks+report.DeletedMedia+report.RewrittenArtifacts)

	assert.Empty(t, w.repo.writes)
	got, err := w.repo.GetArtifact(ctx, w.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, w.artifact.MediaURLs, got.MediaURLs)
	_, err = w.repo.GetMedia(ctx, w.deadMedia.ID)
	assert.NoError(t, err)
}

func TestScan_CachesProbesWithinRun(t *testing.T) {
	w := newWorld(t)
	report, err := w.scanner().Scan(context.Background(), orphan.ScanOptions{Mode: orphan.ModeAll})
	require.NoError(t, err)

	// each URL appears in both a media row and the artifact
	assert.Equal(t, 1, w.prober.calls[base+"/u/alive.jpg"])
	assert.Equal(t, 1, w.prober.calls[base+"/u/dead.jpg"])
	assert.Equal(t, 2, report.Probes)

	// a second run starts with an empty cache
	_, err = w.scanner().Scan(context.Background(), orphan.ScanOptions{Mode: orphan.ModeAll})
	require.NoError(t, err)
	assert.Equal(t, 2, w.prober.calls[base+"/u/alive.jpg"])
}

func TestScan_DeleteOrdersWrites(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	report, err := w.scanner().Scan(ctx, orphan.ScanOptions{Mode: orphan.ModeAll, Delete: true, ConfirmDelay: -1})
	require.NoError(t, err)

	assert.Equal(t, []string{"delete_links", "delete_media", "update_artifact"}, w.repo.writes)
	assert.Equal(t, 2, report.DeletedLinks)
	assert.Equal(t, 1, report.DeletedMedia)
	assert.Equal(t, 1, report.RewrittenArtifacts)

	dangling, err := w.repo.ListDanglingLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, dangling)

	_, err = w.repo.GetMedia(ctx, w.deadMedia.ID)
	assert.ErrorIs(t, err, mediaref.ErrMediaNotFound)
	_, err = w.repo.GetMedia(ctx, w.aliveMedia.ID)
	assert.NoError(t, err)

	got, err := w.repo.GetArtifact(ctx, w.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{base + "/u/alive.jpg", "relative/unknown.jpg"}, got.MediaURLs)
	assert.Nil(t, got.ThumbnailURL)
	assert.Equal(t, map[string]string{base + "/u/alive.jpg": "ok"}, got.ImageCaptions)
}

func TestScan_ProbeErrorsNeverDelete(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.prober.fail[base+"/u/dead.jpg"] = true

	report, err := w.scanner().Scan(ctx, orphan.ScanOptions{Mode: orphan.ModeAll, Delete: true, ConfirmDelay: -1})
	require.NoError(t, err)
	assert.NotEmpty(t, report.ProbeErrors)
	assert.Zero(t, report.BrokenMedia)
	assert.Zero(t, report.ArtifactsAffected)

	// only the dangling link goes
	assert.Equal(t, []string{"delete_links"}, w.repo.writes)
	_, err = w.repo.GetMedia(ctx, w.deadMedia.ID)
	assert.NoError(t, err)
}

func TestScan_ConfirmDelayIsCancellable(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.scanner().Scan(ctx, orphan.ScanOptions{Mode: orphan.ModeMedia, Delete: true, ConfirmDelay: time.Hour})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, w.repo.writes)
}

func TestScan_Limit(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.repo.CreateMedia(ctx, &mediaref.CanonicalMedia{PublicURL: base + "/u/gone-" + uuid.NewString() + ".jpg"}))
	}

	report, err := w.scanner().Scan(ctx, orphan.ScanOptions{Mode: orphan.ModeMedia, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.BrokenMedia)
}

func TestParseMode(t *testing.T) {
	m, err := orphan.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, orphan.ModeAll, m)

	m, err = orphan.ParseMode("artifacts")
	require.NoError(t, err)
	assert.Equal(t, orphan.ModeArtifacts, m)

	_, err = orphan.ParseMode("everything")
	assert.Error(t, err)
}
