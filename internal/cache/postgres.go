package cache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS inspected_items (
	asset_id     TEXT PRIMARY KEY,
	paint_wear   DOUBLE PRECISION NOT NULL,
	paint_seed   INTEGER NOT NULL,
	pattern      INTEGER NOT NULL,
	stickers     JSONB,
	rank         DOUBLE PRECISION,
	price        BIGINT,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS inspected_items_pattern_idx ON inspected_items (pattern, paint_wear);
`

// postgresCache is the production Cache backend.
type postgresCache struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (Cache, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: ensuring schema: %w", err)
	}

	return &postgresCache{pool: pool}, nil
}

func (c *postgresCache) Get(ctx context.Context, assetID string) (*CachedItem, bool, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT asset_id, paint_wear, paint_seed, pattern, stickers, rank, price, last_updated
		FROM inspected_items WHERE asset_id = $1`, assetID)

	item := &CachedItem{}
	err := row.Scan(&item.AssetID, &item.PaintWear, &item.PaintSeed, &item.Pattern,
		&item.StickersRaw, &item.Rank, &item.Price, &item.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", assetID, err)
	}
	return item, true, nil
}

func (c *postgresCache) Put(ctx context.Context, item *CachedItem) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO inspected_items (asset_id, paint_wear, paint_seed, pattern, stickers, rank, price, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (asset_id) DO UPDATE SET
			paint_wear = EXCLUDED.paint_wear,
			paint_seed = EXCLUDED.paint_seed,
			pattern = EXCLUDED.pattern,
			stickers = EXCLUDED.stickers,
			rank = COALESCE(EXCLUDED.rank, inspected_items.rank),
			price = COALESCE(EXCLUDED.price, inspected_items.price),
			last_updated = now()`,
		item.AssetID, item.PaintWear, item.PaintSeed, item.Pattern, item.StickersRaw, item.Rank, item.Price)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", item.AssetID, err)
	}
	return nil
}

func (c *postgresCache) UpdatePrice(ctx context.Context, assetID string, price int64) error {
	_, err := c.pool.Exec(ctx, `UPDATE inspected_items SET price = $1 WHERE asset_id = $2`, price, assetID)
	if err != nil {
		return fmt.Errorf("cache: update price %s: %w", assetID, err)
	}
	return nil
}

// AnnotateRank computes item's percentile paint-wear rank among every row
// sharing its pattern, via a single aggregate query.
func (c *postgresCache) AnnotateRank(ctx context.Context, item *CachedItem) error {
	var total, below int64
	err := c.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE paint_wear <= $1)
		FROM inspected_items WHERE pattern = $2`, item.PaintWear, item.Pattern).Scan(&total, &below)
	if err != nil {
		return fmt.Errorf("cache: annotate rank for pattern %d: %w", item.Pattern, err)
	}
	if total == 0 {
		return nil
	}
	rank := float64(below) / float64(total)
	item.Rank = &rank
	return nil
}
