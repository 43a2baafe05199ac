package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"imagesearch/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const imageColumns = `id, filename, storage_path, url, created_at`

type Postgres struct {
	db       *pgxpool.Pool
	efSearch int
}

// NewPostgres connects to url and verifies the connection. efSearch sets
// hnsw.ef_search for nearest-neighbour queries; 0 keeps the server default.
func NewPostgres(ctx context.Context, url string, efSearch int) (*Postgres, error) {
	db, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Postgres{db: db, efSearch: efSearch}, nil
}

func (p *Postgres) Pool() *pgxpool.Pool { return p.db }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.Ping(ctx) }

func (p *Postgres) Close() { p.db.Close() }

func (p *Postgres) ExistingFilenames(ctx context.Context, names []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(names) == 0 {
		return existing, nil
	}
	rows, err := p.db.Query(ctx, `SELECT filename FROM images WHERE filename = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("query filenames: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan filenames: %w", err)
	}
	for _, name := range found {
		existing[name] = struct{}{}
	}
	return existing, nil
}

// InsertImages sends all inserts in one batch inside a single transaction.
func (p *Postgres) InsertImages(ctx context.Context, images []models.NewImage) ([]models.Image, error) {
	if len(images) == 0 {
		return nil, nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, img := range images {
		batch.Queue(`
			INSERT INTO images (filename, storage_path, url, embedding)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, img.Filename, img.StoragePath, img.URL, vectorParam(img.Embedding))
	}

	results := tx.SendBatch(ctx, batch)
	out := make([]models.Image, len(images))
	for i, img := range images {
		out[i] = models.Image{
			Filename:    img.Filename,
			StoragePath: img.StoragePath,
			URL:         img.URL,
		}
		if len(img.Embedding) > 0 {
			v := pgvector.NewVector(img.Embedding)
			out[i].Embedding = &v
		}
		if err := results.QueryRow().Scan(&out[i].ID, &out[i].CreatedAt); err != nil {
			results.Close()
			return nil, fmt.Errorf("insert %s: %w", img.Filename, classify(err))
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("insert batch: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", classify(err))
	}
	return out, nil
}

func (p *Postgres) GetImage(ctx context.Context, id int64) (models.Image, error) {
	rows, err := p.db.Query(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	if err != nil {
		return models.Image{}, fmt.Errorf("query image: %w", err)
	}
	img, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[models.Image])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Image{}, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("scan image: %w", err)
	}
	return img, nil
}

func (p *Postgres) GetImages(ctx context.Context, ids []int64) (map[int64]models.Image, error) {
	out := make(map[int64]models.Image, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.db.Query(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	images, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[models.Image])
	if err != nil {
		return nil, fmt.Errorf("scan images: %w", err)
	}
	for _, img := range images {
		out[img.ID] = img
	}
	return out, nil
}

func (p *Postgres) ListImages(ctx context.Context) ([]models.Image, error) {
	rows, err := p.db.Query(ctx, `SELECT `+imageColumns+` FROM images ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	images, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[models.Image])
	if err != nil {
		return nil, fmt.Errorf("scan images: %w", err)
	}
	return images, nil
}

func (p *Postgres) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func (p *Postgres) CountEmbedded(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE embedding IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embedded: %w", err)
	}
	return n, nil
}

func (p *Postgres) EmbeddedImages(ctx context.Context) ([]models.Image, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+imageColumns+`, embedding
		FROM images
		WHERE embedding IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query embedded: %w", err)
	}
	images, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[models.Image])
	if err != nil {
		return nil, fmt.Errorf("scan embedded: %w", err)
	}
	return images, nil
}

// NearestImages delegates ranking to the HNSW index. The ef_search setting
// is transaction local so pooled connections keep their defaults.
func (p *Postgres) NearestImages(ctx context.Context, vec []float32, k int) ([]models.Match, error) {
	if k < 1 {
		return nil, nil
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if ef := efSearchFor(p.efSearch, k); ef > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(ef)); err != nil {
			return nil, fmt.Errorf("set ef_search: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT `+imageColumns+`, 1 - (embedding <=> $1) AS score
		FROM images
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Match, error) {
		var m models.Match
		err := row.Scan(&m.Image.ID, &m.Image.Filename, &m.Image.StoragePath,
			&m.Image.URL, &m.Image.CreatedAt, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan nearest: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return matches, nil
}

// pgvectorDefaultEfSearch is the server-side hnsw.ef_search default.
const pgvectorDefaultEfSearch = 40

// efSearchFor returns the hnsw.ef_search value for a query of k rows, or 0
// to keep the server default. An HNSW scan never returns more than
// ef_search rows, so the value is raised to at least k.
func efSearchFor(configured, k int) int {
	if configured == 0 {
		if k <= pgvectorDefaultEfSearch {
			return 0
		}
		return k
	}
	return max(configured, k)
}

func (p *Postgres) DeleteImage(ctx context.Context, id int64) (models.Image, error) {
	rows, err := p.db.Query(ctx, `DELETE FROM images WHERE id = $1 RETURNING `+imageColumns, id)
	if err != nil {
		return models.Image{}, fmt.Errorf("delete image: %w", err)
	}
	img, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[models.Image])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Image{}, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	if err != nil {
		return models.Image{}, fmt.Errorf("delete image: %w", err)
	}
	return img, nil
}

func (p *Postgres) InsertFeedback(ctx context.Context, fb models.NewFeedback) (models.Feedback, error) {
	out := models.Feedback{
		QueryText: fb.QueryText,
		ImageID:   fb.ImageID,
		IsGood:    fb.IsGood,
		Score:     fb.Score,
	}
	err := p.db.QueryRow(ctx, `
		INSERT INTO feedback (query_text, image_id, is_good, score)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, fb.QueryText, fb.ImageID, fb.IsGood, fb.Score).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrImageNotFound) {
			return models.Feedback{}, fmt.Errorf("%w: %d", ErrImageNotFound, fb.ImageID)
		}
		return models.Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListFeedback(ctx context.Context, imageID *int64) ([]models.Feedback, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, query_text, image_id, is_good, score, created_at
		FROM feedback
		WHERE $1::bigint IS NULL OR image_id = $1
		ORDER BY created_at, id
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	feedback, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Feedback])
	if err != nil {
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	return feedback, nil
}

// classify maps constraint violations onto the package sentinels while
// keeping the driver error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", ErrDuplicateFilename, err)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %w", ErrImageNotFound, err)
	}
	return err
}

func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

var _ Store = (*Postgres)(nil)
