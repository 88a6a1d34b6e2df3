package reorganize_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/lock"
	"github.com/tendant/mediaref/pkg/mediaref/mover"
	"github.com/tendant/mediaref/pkg/mediaref/reorganize"
	repomemory "github.com/tendant/mediaref/pkg/mediaref/repo/memory"
	storagememory "github.com/tendant/mediaref/pkg/mediaref/storage/memory"
)

const base = "https://cdn.example.com/media"

type fixture struct {
	repo     *repomemory.Repository
	store    *storagememory.Backend
	owner    uuid.UUID
	artifact *mediaref.Artifact
}

func (f *fixture) canonical(name string) string {
	return base + "/" + classify.CanonicalPath(f.owner, f.artifact.ID, name)
}

func newFixture(t *testing.T, mediaURLs []string, blobs ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:  repomemory.New(),
		store: storagememory.New(base),
		owner: uuid.New(),
	}
	for _, b := range blobs {
		require.NoError(t, f.store.Upload(ctx, b, strings.NewReader(b), mediaref.UploadParams{}))
	}

	captions := map[string]string{}
	for i, u := range mediaURLs {
		captions[u] = "caption " + string(rune('a'+i))
	}
	thumb := mediaURLs[0]
	f.artifact = &mediaref.Artifact{
		OwnerID:       f.owner,
		MediaURLs:     mediaURLs,
		ThumbnailURL:  &thumb,
		ImageCaptions: captions,
	}
	require.NoError(t, f.repo.CreateArtifact(ctx, f.artifact))
	return f
}

func (f *fixture) reorganizer(opts ...reorganize.Option) *reorganize.Reorganizer {
	return f.reorganizerWithRepo(f.repo, opts...)
}

func (f *fixture) reorganizerWithRepo(repo mediaref.Repository, opts ...reorganize.Option) *reorganize.Reorganizer {
	m := mover.New(f.store, classify.New(classify.WithObjectStoreBase(base)))
	return reorganize.New(repo, m, opts...)
}

func TestReorganize_UnionOfBlocksAndGallery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{base + "/temp/a.jpg"}, "temp/a.jpg", "temp/b.jpg")

	media := &mediaref.CanonicalMedia{OwnerID: f.owner, PublicURL: base + "/temp/b.jpg", StoragePath: "temp/b.jpg"}
	require.NoError(t, f.repo.CreateMedia(ctx, media))
	require.NoError(t, f.repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{
		ArtifactID: f.artifact.ID, MediaID: media.ID, Role: mediaref.RoleGallery,
	}))

	result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MovedCount)
	assert.Empty(t, result.Errors)

	got, err := f.repo.GetArtifact(ctx, f.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.canonical("a.jpg")}, got.MediaURLs)
	assert.Equal(t, f.canonical("a.jpg"), *got.ThumbnailURL)
	assert.Equal(t, map[string]string{f.canonical("a.jpg"): "caption a"}, got.ImageCaptions)

	row, err := f.repo.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, f.canonical("b.jpg"), row.PublicURL)
	assert.Equal(t, classify.CanonicalPath(f.owner, f.artifact.ID, "b.jpg"), row.StoragePath)

	assert.ElementsMatch(t, []string{
		classify.CanonicalPath(f.owner, f.artifact.ID, "a.jpg"),
		classify.CanonicalPath(f.owner, f.artifact.ID, "b.jpg"),
	}, f.store.Keys())

	t.Run("rerun is a no-op", func(t *testing.T) {
		result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
		require.NoError(t, err)
		assert.Zero(t, result.MovedCount)
		assert.Empty(t, result.Errors)
	})
}

func TestReorganize_PartialFailureKeepsReferencesConsistent(t *testing.T) {
	ctx := context.Background()
	ok := base + "/temp/ok.jpg"
	missing := base + "/temp/missing.jpg"
	f := newFixture(t, []string{ok, missing}, "temp/ok.jpg")

	result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, missing, result.Errors[0].URL)

	got, err := f.repo.GetArtifact(ctx, f.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.canonical("ok.jpg"), missing}, got.MediaURLs)
	assert.Equal(t, f.canonical("ok.jpg"), *got.ThumbnailURL)
	assert.Equal(t, map[string]string{
		f.canonical("ok.jpg"): "caption a",
		missing:               "caption b",
	}, got.ImageCaptions)
}

func TestReorganize_Unauthorized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{base + "/temp/a.jpg"}, "temp/a.jpg")

	_, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, uuid.New())
	assert.ErrorIs(t, err, mediaref.ErrUnauthorized)

	got, err := f.repo.GetArtifact(ctx, f.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, f.artifact.MediaURLs, got.MediaURLs)
	assert.Equal(t, []string{"temp/a.jpg"}, f.store.Keys())
}

func TestReorganize_NotFound(t *testing.T) {
	f := newFixture(t, []string{base + "/temp/a.jpg"})
	_, err := f.reorganizer().Reorganize(context.Background(), uuid.New(), f.owner)
	assert.ErrorIs(t, err, mediaref.ErrArtifactNotFound)
}

func TestReorganize_Locked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{base + "/temp/a.jpg"}, "temp/a.jpg")
	locker := lock.NewLocal()

	release, err := locker.Acquire(ctx, reorganize.LockKey(f.artifact.ID))
	require.NoError(t, err)

	r := f.reorganizer(reorganize.WithLocker(locker))
	_, err = r.Reorganize(ctx, f.artifact.ID, f.owner)
	assert.ErrorIs(t, err, mediaref.ErrLocked)

	release()
	result, err := r.Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)
}

type failingUpdateRepo struct {
	*repomemory.Repository
}

func (r failingUpdateRepo) UpdateArtifactMedia(ctx context.Context, a *mediaref.Artifact) error {
	return errors.New("database unavailable")
}

func TestReorganize_PersistFailureReleasesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{base + "/temp/a.jpg"}, "temp/a.jpg")

	_, err := f.reorganizerWithRepo(failingUpdateRepo{f.repo}).Reorganize(ctx, f.artifact.ID, f.owner)
	require.Error(t, err)

	var artifactErr *mediaref.ArtifactError
	assert.ErrorAs(t, err, &artifactErr)

	got, err := f.repo.GetArtifact(ctx, f.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{base + "/temp/a.jpg"}, got.MediaURLs)

	exists, _ := f.store.Exists(ctx, "temp/a.jpg")
	assert.True(t, exists, "source must survive until references are rewritten")

	// retry with a healthy repository converges
	result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)
	exists, _ = f.store.Exists(ctx, "temp/a.jpg")
	assert.False(t, exists)
}

func TestReorganize_SameFilenameFromTwoUploads(t *testing.T) {
	ctx := context.Background()
	first := base + "/temp/1/photo.jpg"
	second := base + "/temp/2/photo.jpg"
	f := newFixture(t, []string{first, second}, "temp/1/photo.jpg", "temp/2/photo.jpg")

	for run := 0; run < 2; run++ {
		result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
		require.NoError(t, err)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, second, result.Errors[0].URL)
		assert.ErrorIs(t, result.Errors[0], mediaref.ErrPathConflict)
	}

	got, err := f.repo.GetArtifact(ctx, f.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.canonical("photo.jpg"), second}, got.MediaURLs)
	assert.Equal(t, map[string]string{
		f.canonical("photo.jpg"): "caption a",
		second:                   "caption b",
	}, got.ImageCaptions)

	rc, err := f.store.Download(ctx, classify.CanonicalPath(f.owner, f.artifact.ID, "photo.jpg"))
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "temp/1/photo.jpg", string(data))

	exists, _ := f.store.Exists(ctx, "temp/2/photo.jpg")
	assert.True(t, exists)
}

func TestReorganize_KeepsSourceSharedWithAnotherArtifact(t *testing.T) {
	ctx := context.Background()
	shared := base + "/temp/shared.jpg"
	f := newFixture(t, []string{shared}, "temp/shared.jpg")

	other := &mediaref.Artifact{OwnerID: f.owner, MediaURLs: []string{shared}}
	require.NoError(t, f.repo.CreateArtifact(ctx, other))

	result, err := f.reorganizer().Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)

	exists, _ := f.store.Exists(ctx, "temp/shared.jpg")
	assert.True(t, exists, "another artifact still points at the source")
	got, err := f.repo.GetArtifact(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared}, got.MediaURLs)

	// once the last holder moves, the source goes
	result, err = f.reorganizer().Reorganize(ctx, other.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)
	exists, _ = f.store.Exists(ctx, "temp/shared.jpg")
	assert.False(t, exists)
}

type countingLocker struct {
	lock.Locker
	acquired int
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.acquired++
	return l.Locker.Acquire(ctx, key)
}

func TestReorganize_NonOwnerNeverTakesTheLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{base + "/temp/a.jpg"}, "temp/a.jpg")
	locker := &countingLocker{Locker: lock.NewLocal()}
	r := f.reorganizer(reorganize.WithLocker(locker))

	_, err := r.Reorganize(ctx, f.artifact.ID, uuid.New())
	assert.ErrorIs(t, err, mediaref.ErrUnauthorized)
	assert.Zero(t, locker.acquired)

	_, err = r.Reorganize(ctx, uuid.New(), f.owner)
	assert.ErrorIs(t, err, mediaref.ErrArtifactNotFound)
	assert.Zero(t, locker.acquired)

	result, err := r.Reorganize(ctx, f.artifact.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovedCount)
	assert.Equal(t, 1, locker.acquired)
}
