package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/repo/memory"
)

func intPtr(i int) *int { return &i }

func TestRepository_Artifacts(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	owner := uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i, u := range []string{"https://res.cloudinary.com/d/image/upload/a.jpg", "https://cdn/x.jpg", "https://res.cloudinary.com/d/image/upload/b.jpg"} {
		a := &mediaref.Artifact{OwnerID: owner, MediaURLs: []string{u}, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, repo.CreateArtifact(ctx, a))
		ids = append(ids, a.ID)
	}

	t.Run("get returns a copy", func(t *testing.T) {
		a, err := repo.GetArtifact(ctx, ids[0])
		require.NoError(t, err)
		a.MediaURLs[0] = "mutated"

		again, err := repo.GetArtifact(ctx, ids[0])
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.MediaURLs[0])
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetArtifact(ctx, uuid.New())
		assert.ErrorIs(t, err, mediaref.ErrArtifactNotFound)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		list, err := repo.ListArtifacts(ctx, mediaref.ArtifactFilter{URLContains: "res.cloudinary.com"})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, ids[0], list[0].ID)
		assert.Equal(t, ids[2], list[1].ID)

		list, err = repo.ListArtifacts(ctx, mediaref.ArtifactFilter{Limit: intPtr(1), Offset: intPtr(1)})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ids[1], list[0].ID)

		other := uuid.New()
		list, err = repo.ListArtifacts(ctx, mediaref.ArtifactFilter{OwnerID: &other})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("update media fields", func(t *testing.T) {
		a, err := repo.GetArtifact(ctx, ids[1])
		require.NoError(t, err)
		a.MediaURLs = []string{"https://cdn/y.jpg"}
		a.ImageCaptions = map[string]string{"https://cdn/y.jpg": "cap"}
		require.NoError(t, repo.UpdateArtifactMedia(ctx, a))

		got, err := repo.GetArtifact(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, []string{"https://cdn/y.jpg"}, got.MediaURLs)
		assert.Equal(t, "cap", got.ImageCaptions["https://cdn/y.jpg"])
		assert.Equal(t, owner, got.OwnerID)

		assert.ErrorIs(t, repo.UpdateArtifactMedia(ctx, &mediaref.Artifact{ID: uuid.New()}), mediaref.ErrArtifactNotFound)
	})
}

func TestRepository_Media(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	owner := uuid.New()

	m := &mediaref.CanonicalMedia{OwnerID: owner, PublicURL: "https://cdn/temp/a.jpg", StoragePath: "temp/a.jpg"}
	require.NoError(t, repo.CreateMedia(ctx, m))
	assert.ErrorIs(t, repo.CreateMedia(ctx, &mediaref.CanonicalMedia{PublicURL: m.PublicURL}), mediaref.ErrDuplicateMedia)

	t.Run("update location is owner scoped", func(t *testing.T) {
		n, err := repo.UpdateMediaLocation(ctx, uuid.New(), m.PublicURL, "https://cdn/u/a.jpg", "u/a.jpg")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.UpdateMediaLocation(ctx, owner, m.PublicURL, "https://cdn/u/a.jpg", "u/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetMediaByURL(ctx, "https://cdn/u/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, "u/a.jpg", got.StoragePath)

		_, err = repo.GetMediaByURL(ctx, m.PublicURL)
		assert.ErrorIs(t, err, mediaref.ErrMediaNotFound)
	})

	t.Run("rerun is a no-op", func(t *testing.T) {
		n, err := repo.UpdateMediaLocation(ctx, owner, m.PublicURL, "https://cdn/u/a.jpg", "u/a.jpg")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteMedia(ctx, []uuid.UUID{m.ID, uuid.New()}))
		_, err := repo.GetMedia(ctx, m.ID)
		assert.ErrorIs(t, err, mediaref.ErrMediaNotFound)
	})
}

func TestRepository_Links(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	owner := uuid.New()

	artifact := &mediaref.Artifact{OwnerID: owner}
	require.NoError(t, repo.CreateArtifact(ctx, artifact))
	m1 := &mediaref.CanonicalMedia{OwnerID: owner, PublicURL: "u1"}
	m2 := &mediaref.CanonicalMedia{OwnerID: owner, PublicURL: "u2"}
	require.NoError(t, repo.CreateMedia(ctx, m1))
	require.NoError(t, repo.CreateMedia(ctx, m2))

	l1 := &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m1.ID, Role: mediaref.RoleGallery, SortOrder: 0}
	l2 := &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m2.ID, Role: mediaref.RoleGallery, SortOrder: 1}
	require.NoError(t, repo.CreateLink(ctx, l1))
	require.NoError(t, repo.CreateLink(ctx, l2))

	t.Run("unique position", func(t *testing.T) {
		err := repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m2.ID, Role: mediaref.RoleGallery, SortOrder: 1})
		assert.ErrorIs(t, err, mediaref.ErrDuplicateLink)

		// same position, different role
		require.NoError(t, repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m2.ID, Role: mediaref.RoleCover, SortOrder: 1}))
	})

	t.Run("invalid role", func(t *testing.T) {
		err := repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m1.ID, Role: "poster"})
		assert.Error(t, err)
	})

	t.Run("list artifact media", func(t *testing.T) {
		linked, err := repo.ListArtifactMedia(ctx, artifact.ID)
		require.NoError(t, err)
		require.Len(t, linked, 3)
		assert.Equal(t, mediaref.RoleCover, linked[0].Link.Role)
		assert.Equal(t, "u1", linked[1].Media.PublicURL)
		assert.Equal(t, "u2", linked[2].Media.PublicURL)
	})

	t.Run("dangling after media delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteMedia(ctx, []uuid.UUID{m1.ID}))

		dangling, err := repo.ListDanglingLinks(ctx)
		require.NoError(t, err)
		require.Len(t, dangling, 1)
		assert.Equal(t, l1.ID, dangling[0].ID)

		linked, err := repo.ListArtifactMedia(ctx, artifact.ID)
		require.NoError(t, err)
		assert.Len(t, linked, 2)

		require.NoError(t, repo.DeleteLinks(ctx, []uuid.UUID{l1.ID}))
		dangling, err = repo.ListDanglingLinks(ctx)
		require.NoError(t, err)
		assert.Empty(t, dangling)

		// freed position can be reused
		require.NoError(t, repo.CreateLink(ctx, &mediaref.ArtifactMediaLink{ArtifactID: artifact.ID, MediaID: m2.ID, Role: mediaref.RoleGallery, SortOrder: 0}))
	})

	t.Run("links by media", func(t *testing.T) {
		links, err := repo.ListLinksByMedia(ctx, []uuid.UUID{m2.ID})
		require.NoError(t, err)
		assert.Len(t, links, 3)
	})
}
