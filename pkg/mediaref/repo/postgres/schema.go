package postgres

// Schema creates the tables the repository reads and writes.
// artifact_media.media_id intentionally carries no foreign key: links can
// outlive their media row, and the orphan scanner cleans them up.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id                UUID PRIMARY KEY,
    owner_id          UUID NOT NULL,
    media_urls        TEXT[] NOT NULL DEFAULT '{}',
    thumbnail_url     TEXT,
    image_captions    JSONB NOT NULL DEFAULT '{}'::jsonb,
    video_summaries   JSONB NOT NULL DEFAULT '{}'::jsonb,
    audio_transcripts JSONB NOT NULL DEFAULT '{}'::jsonb,
    media_derivatives JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifacts_owner_id ON artifacts (owner_id);

CREATE TABLE IF NOT EXISTS user_media (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    storage_path    TEXT NOT NULL,
    public_url      TEXT NOT NULL,
    filename        TEXT NOT NULL DEFAULT '',
    mime_type       TEXT NOT NULL DEFAULT '',
    file_size_bytes BIGINT NOT NULL DEFAULT 0,
    media_type      TEXT NOT NULL DEFAULT 'image',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT user_media_public_url_key UNIQUE (public_url)
);

CREATE INDEX IF NOT EXISTS idx_user_media_user_id ON user_media (user_id);

CREATE TABLE IF NOT EXISTS artifact_media (
    id          UUID PRIMARY KEY,
    artifact_id UUID NOT NULL REFERENCES artifacts (id) ON DELETE CASCADE,
    media_id    UUID NOT NULL,
    role        TEXT NOT NULL CHECK (role IN ('gallery', 'inline_block', 'cover')),
    sort_order  INT NOT NULL DEFAULT 0,
    is_primary  BOOLEAN NOT NULL DEFAULT false,
    CONSTRAINT artifact_media_position_key UNIQUE (artifact_id, role, sort_order)
);

CREATE INDEX IF NOT EXISTS idx_artifact_media_media_id ON artifact_media (media_id);
`
