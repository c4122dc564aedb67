package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectfleet/internal/core/session"
)

func TestMemoryCache_PutThenGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	item := &CachedItem{AssetID: "1", PaintWear: 0.15, Pattern: 661}
	require.NoError(t, c.Put(ctx, item))

	got, ok, err := c.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.15, got.PaintWear)
}

func TestMemoryCache_GetMissReturnsFalse(t *testing.T) {
	c := NewMemory()
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_UpdatePrice(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, &CachedItem{AssetID: "1", Pattern: 1}))
	require.NoError(t, c.UpdatePrice(ctx, "1", 500))

	got, _, _ := c.Get(ctx, "1")
	require.NotNil(t, got.Price)
	assert.Equal(t, int64(500), *got.Price)
}

func TestCachedItem_ToItemRoundTripsStickers(t *testing.T) {
	price := int64(250)
	rank := 0.42
	item := FromItem(&session.ItemData{
		AssetID:    "9",
		FloatValue: 0.2,
		PaintSeed:  7,
		PaintIndex: 661,
		Stickers:   []session.Sticker{{StickerID: 1, Slot: 0, Wear: 0.1}},
		Price:      &price,
	})
	item.Rank = &rank

	got := item.ToItem()
	assert.Equal(t, "9", got.AssetID)
	assert.Equal(t, 0.2, got.FloatValue)
	require.Len(t, got.Stickers, 1)
	assert.Equal(t, 1, got.Stickers[0].StickerID)
	require.NotNil(t, got.Price)
	assert.Equal(t, int64(250), *got.Price)
	require.NotNil(t, got.Rank)
	assert.Equal(t, 0.42, *got.Rank)
}

func TestMemoryCache_AnnotateRankOrdersByWear(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, &CachedItem{AssetID: "low", PaintWear: 0.01, Pattern: 5}))
	require.NoError(t, c.Put(ctx, &CachedItem{AssetID: "high", PaintWear: 0.9, Pattern: 5}))

	target := &CachedItem{AssetID: "mid", PaintWear: 0.5, Pattern: 5}
	require.NoError(t, c.AnnotateRank(ctx, target))
	require.NotNil(t, target.Rank)
	assert.InDelta(t, 0.5, *target.Rank, 0.01)
}
