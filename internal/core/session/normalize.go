package session

// normalize rewrites a wire-format inspect reply into the shape the cache
// and HTTP surface expect: paintwear renamed to floatvalue, paintseed
// defaulted to 0 when absent, and each sticker's sticker_id renamed to
// stickerId.
func normalize(raw *RawItemReply) *ItemData {
	item := &ItemData{
		AssetID:    raw.AssetID,
		PaintIndex: raw.Paintindex,
		DefIndex:   raw.Defindex,
		Quality:    raw.Quality,
		Rarity:     raw.Rarity,
	}

	if raw.Paintwear != nil {
		item.FloatValue = *raw.Paintwear
	}
	if raw.Paintseed != nil {
		item.PaintSeed = *raw.Paintseed
	}

	if len(raw.Stickers) > 0 {
		item.Stickers = make([]Sticker, 0, len(raw.Stickers))
		for _, s := range raw.Stickers {
			sticker := Sticker{StickerID: s.StickerID, Slot: s.Slot}
			if s.Wear != nil {
				sticker.Wear = *s.Wear
			}
			item.Stickers = append(item.Stickers, sticker)
		}
	}

	return item
}
