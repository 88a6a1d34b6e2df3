package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/mediaref/pkg/mediaref"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements mediaref.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ mediaref.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies Schema
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "artifact_media") {
				return mediaref.ErrDuplicateLink
			}
			if strings.Contains(pgErr.ConstraintName, "user_media") {
				return mediaref.ErrDuplicateMedia
			}
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			if strings.Contains(pgErr.ConstraintName, "artifact") {
				return mediaref.ErrArtifactNotFound
			}
			return fmt.Errorf("referenced record not found in %s", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "23514": // check_violation
			return fmt.Errorf("invalid value in %s: %s", operation, pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const artifactColumns = `
	id, owner_id, COALESCE(media_urls, '{}'), thumbnail_url,
	COALESCE(image_captions, '{}'::jsonb), COALESCE(video_summaries, '{}'::jsonb),
	COALESCE(audio_transcripts, '{}'::jsonb), COALESCE(media_derivatives, '{}'::jsonb),
	created_at, updated_at`

func scanArtifact(row pgx.Row) (*mediaref.Artifact, error) {
	var a mediaref.Artifact
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.MediaURLs, &a.ThumbnailURL,
		&a.ImageCaptions, &a.VideoSummaries, &a.AudioTranscripts, &a.MediaDerivatives,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Artifact operations

func (r *Repository) CreateArtifact(ctx context.Context, artifact *mediaref.Artifact) error {
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	now := time.Now().UTC()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = artifact.CreatedAt
	}

	query := `
		INSERT INTO artifacts (
			id, owner_id, media_urls, thumbnail_url, image_captions,
			video_summaries, audio_transcripts, media_derivatives, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		artifact.ID, artifact.OwnerID, nonNilSlice(artifact.MediaURLs), artifact.ThumbnailURL,
		nonNilMap(artifact.ImageCaptions), nonNilMap(artifact.VideoSummaries),
		nonNilMap(artifact.AudioTranscripts), nonNilMap(artifact.MediaDerivatives),
		artifact.CreatedAt, artifact.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create artifact", err)
	}
	return nil
}

func (r *Repository) GetArtifact(ctx context.Context, id uuid.UUID) (*mediaref.Artifact, error) {
	query := `SELECT` + artifactColumns + ` FROM artifacts WHERE id = $1`

	a, err := scanArtifact(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mediaref.ErrArtifactNotFound
		}
		return nil, r.handlePostgresError("get artifact", err)
	}
	return a, nil
}

func (r *Repository) ListArtifacts(ctx context.Context, filter mediaref.ArtifactFilter) ([]*mediaref.Artifact, error) {
	where := "1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.OwnerID != nil {
		where += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, *filter.OwnerID)
		argIndex++
	}
	if filter.URLContains != "" {
		where += fmt.Sprintf(` AND strpos(concat_ws(' ',
			array_to_string(media_urls, ' '), thumbnail_url, image_captions::text,
			video_summaries::text, audio_transcripts::text, media_derivatives::text), $%d) > 0`, argIndex)
		args = append(args, filter.URLContains)
		argIndex++
	}

	query := `SELECT` + artifactColumns + ` FROM artifacts WHERE ` + where + ` ORDER BY created_at ASC, id ASC`
	if filter.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, *filter.Limit)
		argIndex++
	}
	if filter.Offset != nil {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, *filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list artifacts", err)
	}
	defer rows.Close()

	var result []*mediaref.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan artifact", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list artifacts", err)
	}
	return result, nil
}

// UpdateArtifactMedia writes every media reference column in one statement
func (r *Repository) UpdateArtifactMedia(ctx context.Context, artifact *mediaref.Artifact) error {
	query := `
		UPDATE artifacts SET
			media_urls = $2, thumbnail_url = $3, image_captions = $4,
			video_summaries = $5, audio_transcripts = $6, media_derivatives = $7,
			updated_at = $8
		WHERE id = $1`

	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, query,
		artifact.ID, nonNilSlice(artifact.MediaURLs), artifact.ThumbnailURL,
		nonNilMap(artifact.ImageCaptions), nonNilMap(artifact.VideoSummaries),
		nonNilMap(artifact.AudioTranscripts), nonNilMap(artifact.MediaDerivatives), now)
	if err != nil {
		return r.handlePostgresError("update artifact media", err)
	}
	if tag.RowsAffected() == 0 {
		return mediaref.ErrArtifactNotFound
	}
	artifact.UpdatedAt = now
	return nil
}

// Canonical media operations

const mediaColumns = `
	id, user_id, storage_path, public_url, filename, mime_type,
	file_size_bytes, media_type, created_at`

func scanMedia(row pgx.Row) (*mediaref.CanonicalMedia, error) {
	var m mediaref.CanonicalMedia
	var kind string
	err := row.Scan(&m.ID, &m.OwnerID, &m.StoragePath, &m.PublicURL, &m.Filename,
		&m.MimeType, &m.SizeBytes, &kind, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Kind = mediaref.Kind(kind)
	return &m, nil
}

func (r *Repository) CreateMedia(ctx context.Context, media *mediaref.CanonicalMedia) error {
	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}
	if media.Kind == "" {
		media.Kind = mediaref.KindImage
	}

	query := `
		INSERT INTO user_media (` + mediaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		media.ID, media.OwnerID, media.StoragePath, media.PublicURL, media.Filename,
		media.MimeType, media.SizeBytes, string(media.Kind), media.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create media", err)
	}
	return nil
}

func (r *Repository) GetMedia(ctx context.Context, id uuid.UUID) (*mediaref.CanonicalMedia, error) {
	query := `SELECT` + mediaColumns + ` FROM user_media WHERE id = $1`

	m, err := scanMedia(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mediaref.ErrMediaNotFound
		}
		return nil, r.handlePostgresError("get media", err)
	}
	return m, nil
}

func (r *Repository) GetMediaByURL(ctx context.Context, publicURL string) (*mediaref.CanonicalMedia, error) {
	query := `SELECT` + mediaColumns + ` FROM user_media WHERE public_url = $1`

	m, err := scanMedia(r.db.QueryRow(ctx, query, publicURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mediaref.ErrMediaNotFound
		}
		return nil, r.handlePostgresError("get media by url", err)
	}
	return m, nil
}

func (r *Repository) ListMedia(ctx context.Context, filter mediaref.MediaFilter) ([]*mediaref.CanonicalMedia, error) {
	where := "1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.OwnerID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *filter.OwnerID)
		argIndex++
	}

	query := `SELECT` + mediaColumns + ` FROM user_media WHERE ` + where + ` ORDER BY created_at ASC, id ASC`
	if filter.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, *filter.Limit)
		argIndex++
	}
	if filter.Offset != nil {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, *filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list media", err)
	}
	defer rows.Close()

	var result []*mediaref.CanonicalMedia
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan media", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list media", err)
	}
	return result, nil
}

func (r *Repository) UpdateMediaLocation(ctx context.Context, ownerID uuid.UUID, oldURL, newURL, newPath string) (int64, error) {
	query := `
		UPDATE user_media SET public_url = $3, storage_path = $4
		WHERE user_id = $1 AND public_url = $2`

	tag, err := r.db.Exec(ctx, query, ownerID, oldURL, newURL, newPath)
	if err != nil {
		return 0, r.handlePostgresError("update media location", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeleteMedia(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM user_media WHERE id = ANY($1)`, ids); err != nil {
		return r.handlePostgresError("delete media", err)
	}
	return nil
}

// Link operations

const linkColumns = `l.id, l.artifact_id, l.media_id, l.role, l.sort_order, l.is_primary`

func scanLink(row pgx.Row, extra ...interface{}) (*mediaref.ArtifactMediaLink, error) {
	var l mediaref.ArtifactMediaLink
	var role string
	dest := append([]interface{}{&l.ID, &l.ArtifactID, &l.MediaID, &role, &l.SortOrder, &l.IsPrimary}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	l.Role = mediaref.LinkRole(role)
	return &l, nil
}

func (r *Repository) CreateLink(ctx context.Context, link *mediaref.ArtifactMediaLink) error {
	if !link.Role.Valid() {
		return fmt.Errorf("invalid link role %q", link.Role)
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO artifact_media (id, artifact_id, media_id, role, sort_order, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		link.ID, link.ArtifactID, link.MediaID, string(link.Role), link.SortOrder, link.IsPrimary)
	if err != nil {
		return r.handlePostgresError("create link", err)
	}
	return nil
}

func (r *Repository) ListArtifactMedia(ctx context.Context, artifactID uuid.UUID) ([]*mediaref.LinkedMedia, error) {
	query := `
		SELECT ` + linkColumns + `,
			m.id, m.user_id, m.storage_path, m.public_url, m.filename, m.mime_type,
			m.file_size_bytes, m.media_type, m.created_at
		FROM artifact_media l
		JOIN user_media m ON m.id = l.media_id
		WHERE l.artifact_id = $1
		ORDER BY l.role, l.sort_order`

	rows, err := r.db.Query(ctx, query, artifactID)
	if err != nil {
		return nil, r.handlePostgresError("list artifact media", err)
	}
	defer rows.Close()

	var result []*mediaref.LinkedMedia
	for rows.Next() {
		var m mediaref.CanonicalMedia
		var kind string
		l, err := scanLink(rows, &m.ID, &m.OwnerID, &m.StoragePath, &m.PublicURL, &m.Filename,
			&m.MimeType, &m.SizeBytes, &kind, &m.CreatedAt)
		if err != nil {
			return nil, r.handlePostgresError("scan artifact media", err)
		}
		m.Kind = mediaref.Kind(kind)
		result = append(result, &mediaref.LinkedMedia{Link: *l, Media: m})
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list artifact media", err)
	}
	return result, nil
}

func (r *Repository) ListLinksByMedia(ctx context.Context, mediaIDs []uuid.UUID) ([]*mediaref.ArtifactMediaLink, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + linkColumns + ` FROM artifact_media l
		WHERE l.media_id = ANY($1) ORDER BY l.artifact_id, l.role, l.sort_order`
	return r.queryLinks(ctx, "list links by media", query, mediaIDs)
}

func (r *Repository) ListDanglingLinks(ctx context.Context) ([]*mediaref.ArtifactMediaLink, error) {
	query := `SELECT ` + linkColumns + ` FROM artifact_media l
		LEFT JOIN user_media m ON m.id = l.media_id
		WHERE m.id IS NULL
		ORDER BY l.artifact_id, l.role, l.sort_order`
	return r.queryLinks(ctx, "list dangling links", query)
}

func (r *Repository) DeleteLinks(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM artifact_media WHERE id = ANY($1)`, ids); err != nil {
		return r.handlePostgresError("delete links", err)
	}
	return nil
}

func (r *Repository) queryLinks(ctx context.Context, op, query string, args ...interface{}) ([]*mediaref.ArtifactMediaLink, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	defer rows.Close()

	var result []*mediaref.ArtifactMediaLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, r.handlePostgresError(op, err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	return result, nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}
