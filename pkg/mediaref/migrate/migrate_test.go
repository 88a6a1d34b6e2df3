package migrate_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/classify"
	"github.com/tendant/mediaref/pkg/mediaref/delivery"
	"github.com/tendant/mediaref/pkg/mediaref/migrate"
	repomemory "github.com/tendant/mediaref/pkg/mediaref/repo/memory"
	storagememory "github.com/tendant/mediaref/pkg/mediaref/storage/memory"
)

const (
	base   = "https://cdn.example.com/media"
	legacy = "https://res.cloudinary.com/demo/image/upload/v1/"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type fakeDelivery struct {
	originals map[string][]byte
	destroyed []string
	fetches   int
}

func (d *fakeDelivery) InjectTransform(url, spec string) (string, bool) {
	return delivery.InjectTransform(url, spec)
}

func (d *fakeDelivery) PublicID(url string) (string, string, bool) {
	return delivery.PublicID(url)
}

func (d *fakeDelivery) FetchOriginal(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	d.fetches++
	data, ok := d.originals[url]
	if !ok {
		return nil, 0, mediaref.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (d *fakeDelivery) Destroy(ctx context.Context, publicID, resourceType string) error {
	d.destroyed = append(d.destroyed, resourceType+":"+publicID)
	return nil
}

type env struct {
	repo      *repomemory.Repository
	store     *storagememory.Backend
	delivery  *fakeDelivery
	migrator  *migrate.Migrator
	artifacts []*mediaref.Artifact
}

// newEnv creates one artifact per url list, oldest first.
func newEnv(t *testing.T, urlLists ...[]string) *env {
	t.Helper()
	e := &env{
		repo:     repomemory.New(),
		store:    storagememory.New(base),
		delivery: &fakeDelivery{originals: map[string][]byte{}},
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, urls := range urlLists {
		captions := map[string]string{}
		for _, u := range urls {
			captions[u] = "caption"
			if !strings.Contains(u, "missing") {
				e.delivery.originals[u] = pngBytes
			}
		}
		a := &mediaref.Artifact{
			OwnerID:       uuid.New(),
			MediaURLs:     urls,
			ImageCaptions: captions,
			CreatedAt:     start.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, e.repo.CreateArtifact(context.Background(), a))
		e.artifacts = append(e.artifacts, a)
	}
	c := classify.New(classify.WithObjectStoreBase(base))
	e.migrator = migrate.New(e.repo, e.store, e.delivery, c)
	return e
}

func (e *env) get(t *testing.T, i int) *mediaref.Artifact {
	a, err := e.repo.GetArtifact(context.Background(), e.artifacts[i].ID)
	require.NoError(t, err)
	return a
}

func TestRun_DryRun(t *testing.T) {
	e := newEnv(t,
		[]string{legacy + "a.jpg"},
		[]string{base + "/u/x.jpg"},
		[]string{legacy + "b.jpg", legacy + "c.jpg"},
	)

	summary, err := e.migrator.Run(context.Background(), migrate.Options{})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Eligible)
	assert.Equal(t, 3, summary.LegacyURLs)
	assert.Len(t, summary.Preview, 2)
	assert.Empty(t, summary.Results)
	assert.Empty(t, e.store.Keys())
	assert.Zero(t, e.delivery.fetches)
}

func TestRun_LimitProcessesOnlyFirst(t *testing.T) {
	e := newEnv(t,
		[]string{legacy + "a.jpg"},
		[]string{legacy + "b.jpg"},
		[]string{legacy + "c.jpg"},
	)

	summary, err := e.migrator.Run(context.Background(), migrate.Options{Execute: true, Limit: 1, SkipDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 1, summary.Succeeded)

	first := e.get(t, 0)
	want := base + "/" + classify.CanonicalPath(first.OwnerID, first.ID, "a.jpg")
	assert.Equal(t, []string{want}, first.MediaURLs)
	assert.Equal(t, map[string]string{want: "caption"}, first.ImageCaptions)

	assert.Equal(t, []string{legacy + "b.jpg"}, e.get(t, 1).MediaURLs)
	assert.Equal(t, []string{legacy + "c.jpg"}, e.get(t, 2).MediaURLs)
	assert.Len(t, e.store.Keys(), 1)
}

func TestRun_FailureIsolation(t *testing.T) {
	e := newEnv(t,
		[]string{legacy + "a.jpg"},
		[]string{legacy + "b.jpg", legacy + "missing-1.jpg"},
		[]string{legacy + "missing-2.jpg"},
	)

	summary, err := e.migrator.Run(context.Background(), migrate.Options{Execute: true, SkipDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Eligible)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.PartiallyFailed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.MigratedURLs)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, migrate.StatusPartiallyFailed, summary.Results[1].Status)
	require.Len(t, summary.Results[1].Errors, 1)
	assert.Equal(t, legacy+"missing-1.jpg", summary.Results[1].Errors[0].URL)

	second := e.get(t, 1)
	assert.Equal(t, legacy+"missing-1.jpg", second.MediaURLs[1])
	assert.Contains(t, second.ImageCaptions, legacy+"missing-1.jpg")
	assert.NotContains(t, second.ImageCaptions, legacy+"b.jpg")

	assert.Equal(t, []string{legacy + "missing-2.jpg"}, e.get(t, 2).MediaURLs)
}

func TestRun_DeletesLegacyUnlessSkipped(t *testing.T) {
	t.Run("skip delete", func(t *testing.T) {
		e := newEnv(t, []string{legacy + "folder/a.jpg"})
		_, err := e.migrator.Run(context.Background(), migrate.Options{Execute: true, SkipDelete: true})
		require.NoError(t, err)
		assert.Empty(t, e.delivery.destroyed)
	})

	t.Run("delete", func(t *testing.T) {
		e := newEnv(t, []string{legacy + "folder/a.jpg"})
		summary, err := e.migrator.Run(context.Background(), migrate.Options{Execute: true})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Succeeded)
		assert.Equal(t, []string{"image:folder/a"}, e.delivery.destroyed)
	})
}

func TestRun_SniffsExtensionAndUpdatesLinkedMedia(t *testing.T) {
	ctx := context.Background()
	noExt := legacy + "pic"
	e := newEnv(t, []string{noExt})
	a := e.artifacts[0]

	media := &mediaref.CanonicalMedia{OwnerID: a.OwnerID, PublicURL: noExt}
	require.NoError(t, e.repo.CreateMedia(ctx, media))
	require.NoError(t, e.repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: a.ID, MediaID: media.ID, Role: mediaref.RoleGallery}))

	summary, err := e.migrator.Run(ctx, migrate.Options{Execute: true, SkipDelete: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)

	path := classify.CanonicalPath(a.OwnerID, a.ID, "pic.png")
	assert.Equal(t, []string{path}, e.store.Keys())

	meta, err := e.store.GetObjectMeta(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	row, err := e.repo.GetMedia(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, base+"/"+path, row.PublicURL)
	assert.Equal(t, path, row.StoragePath)

	t.Run("rerun finds nothing", func(t *testing.T) {
		summary, err := e.migrator.Run(ctx, migrate.Options{Execute: true})
		require.NoError(t, err)
		assert.Zero(t, summary.Eligible)
	})
}

func TestRun_OwnerFilter(t *testing.T) {
	e := newEnv(t, []string{legacy + "a.jpg"}, []string{legacy + "b.jpg"})
	owner := e.artifacts[1].OwnerID

	summary, err := e.migrator.Run(context.Background(), migrate.Options{OwnerID: &owner})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Eligible)
}

func TestRun_SameFilenameInTwoFolders(t *testing.T) {
	first, second := legacy+"f1/a.jpg", legacy+"f2/a.jpg"
	e := newEnv(t, []string{first, second})

	summary, err := e.migrator.Run(context.Background(), migrate.Options{Execute: true, SkipDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PartiallyFailed)

	result := summary.Results[0]
	require.Len(t, result.Errors, 1)
	assert.Equal(t, second, result.Errors[0].URL)
	assert.ErrorIs(t, result.Errors[0], mediaref.ErrPathConflict)

	got := e.get(t, 0)
	want := base + "/" + classify.CanonicalPath(got.OwnerID, got.ID, "a.jpg")
	assert.Equal(t, []string{want, second}, got.MediaURLs)
	assert.Equal(t, map[string]string{want: "caption", second: "caption"}, got.ImageCaptions)
}

func TestRun_ExistingDestination(t *testing.T) {
	ctx := context.Background()

	t.Run("same object is reused", func(t *testing.T) {
		e := newEnv(t, []string{legacy + "a.jpg"})
		a := e.artifacts[0]
		path := classify.CanonicalPath(a.OwnerID, a.ID, "a.jpg")
		require.NoError(t, e.store.Upload(ctx, path, bytes.NewReader(pngBytes), mediaref.UploadParams{}))

		summary, err := e.migrator.Run(ctx, migrate.Options{Execute: true, SkipDelete: true})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Succeeded)
		assert.Equal(t, []string{base + "/" + path}, e.get(t, 0).MediaURLs)
	})

	t.Run("different object is not reused", func(t *testing.T) {
		e := newEnv(t, []string{legacy + "a.jpg"})
		a := e.artifacts[0]
		path := classify.CanonicalPath(a.OwnerID, a.ID, "a.jpg")
		require.NoError(t, e.store.Upload(ctx, path, strings.NewReader("someone else"), mediaref.UploadParams{}))

		summary, err := e.migrator.Run(ctx, migrate.Options{Execute: true})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
		assert.ErrorIs(t, summary.Results[0].Errors[0], mediaref.ErrPathConflict)
		assert.Equal(t, []string{legacy + "a.jpg"}, e.get(t, 0).MediaURLs)
		assert.Empty(t, e.delivery.destroyed)
	})
}

func TestRun_KeepsLegacyOriginalSharedWithAnotherArtifact(t *testing.T) {
	ctx := context.Background()
	shared := legacy + "shared.jpg"
	e := newEnv(t, []string{shared}, []string{shared})

	summary, err := e.migrator.Run(ctx, migrate.Options{Execute: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, e.delivery.destroyed)
	assert.Equal(t, []string{shared}, e.get(t, 1).MediaURLs)

	// the last artifact holding it lets it go
	summary, err = e.migrator.Run(ctx, migrate.Options{Execute: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"image:shared"}, e.delivery.destroyed)
}
