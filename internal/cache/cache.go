// Package cache implements the Cache Facade (C6): the relational record
// store behind inspected items, with an in-memory default and a
// Postgres-backed production implementation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"inspectfleet/internal/core/session"
)

// CachedItem is the relational record C6 reads and writes: the fields a
// wear/pattern/sticker payload normalizes into are exactly its columns.
type CachedItem struct {
	AssetID     string
	PaintWear   float64
	PaintSeed   int
	Pattern     int
	StickersRaw json.RawMessage
	Rank        *float64
	Price       *int64
	LastUpdated time.Time
}

// FromItem builds a CachedItem from a normalized inspect reply.
func FromItem(item *session.ItemData) *CachedItem {
	raw, _ := json.Marshal(item.Stickers)
	return &CachedItem{
		AssetID:     item.AssetID,
		PaintWear:   item.FloatValue,
		PaintSeed:   item.PaintSeed,
		Pattern:     item.PaintIndex,
		StickersRaw: raw,
		Price:       item.Price,
	}
}

// ToItem rebuilds the normalized reply shape a cache hit serves straight
// out of the Cache Facade, without any upstream inspect round trip.
func (c *CachedItem) ToItem() *session.ItemData {
	var stickers []session.Sticker
	_ = json.Unmarshal(c.StickersRaw, &stickers)
	return &session.ItemData{
		AssetID:    c.AssetID,
		FloatValue: c.PaintWear,
		PaintSeed:  c.PaintSeed,
		PaintIndex: c.Pattern,
		Stickers:   stickers,
		Price:      c.Price,
		Rank:       c.Rank,
	}
}

// Cache is the Cache Facade.
type Cache interface {
	Get(ctx context.Context, assetID string) (*CachedItem, bool, error)
	Put(ctx context.Context, item *CachedItem) error
	UpdatePrice(ctx context.Context, assetID string, price int64) error
	// AnnotateRank fills item.Rank from a float-population percentile
	// lookup against previously cached items sharing the same Pattern.
	AnnotateRank(ctx context.Context, item *CachedItem) error
}
