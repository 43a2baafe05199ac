package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS images (
	id            BIGSERIAL PRIMARY KEY,
	filename      TEXT NOT NULL UNIQUE,
	storage_path  TEXT NOT NULL,
	url           TEXT NOT NULL,
	embedding     vector(512),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS images_embedding_idx
	ON images USING hnsw (embedding vector_cosine_ops)
	WITH (m = 16, ef_construction = 64);

CREATE TABLE IF NOT EXISTS feedback (
	id          BIGSERIAL PRIMARY KEY,
	query_text  TEXT NOT NULL,
	image_id    BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
	is_good     BOOLEAN NOT NULL,
	score       DOUBLE PRECISION,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS feedback_image_id_idx ON feedback (image_id);
CREATE INDEX IF NOT EXISTS feedback_created_at_idx ON feedback (created_at);
CREATE INDEX IF NOT EXISTS feedback_is_good_idx ON feedback (is_good);
`

// Migrate creates the schema. It is idempotent and runs at every boot.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
