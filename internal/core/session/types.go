package session

import "time"

// Triple identifies one item to inspect at the upstream game coordinator.
// Owner is S when S != "0", otherwise M.
type Triple struct {
	S string
	A string
	D string
	M string
}

// Owner returns the owning identity per the S-else-M rule.
func (t Triple) Owner() string {
	if t.S != "0" && t.S != "" {
		return t.S
	}
	return t.M
}

// PendingRequest is the in-flight inspect a Session is waiting on a reply for.
type PendingRequest struct {
	Triple   Triple
	IssuedAt time.Time
}

// Sticker is one normalized sticker slot on an inspected item.
type Sticker struct {
	StickerID int     `json:"stickerId"`
	Slot      int     `json:"slot,omitempty"`
	Wear      float64 `json:"wear,omitempty"`
}

// ItemData is the normalized inspect reply handed to the cache and the
// HTTP surface: wire field names rewritten per the normalization rules.
type ItemData struct {
	AssetID    string    `json:"a"`
	FloatValue float64   `json:"floatvalue"`
	PaintSeed  int       `json:"paintseed"`
	PaintIndex int       `json:"paintindex,omitempty"`
	DefIndex   int       `json:"defindex,omitempty"`
	Quality    int       `json:"quality,omitempty"`
	Rarity     int       `json:"rarity,omitempty"`
	Stickers   []Sticker `json:"stickers,omitempty"`
	Price      *int64    `json:"price,omitempty"`
	Rank       *float64  `json:"rank,omitempty"`
}

// RawSticker is a sticker slot as reported on the wire, before normalization.
type RawSticker struct {
	StickerID int      `json:"sticker_id"`
	Slot      int      `json:"slot,omitempty"`
	Wear      *float64 `json:"wear,omitempty"`
}

// RawItemReply is an inspect reply as reported on the wire, before
// normalization. Paintwear and Paintseed are pointers because their
// absence is meaningful (paintseed defaults to 0 when absent).
type RawItemReply struct {
	AssetID    string       `json:"a"`
	Paintwear  *float64     `json:"paintwear"`
	Paintseed  *int         `json:"paintseed"`
	Paintindex int          `json:"paintindex,omitempty"`
	Defindex   int          `json:"defindex,omitempty"`
	Quality    int          `json:"quality,omitempty"`
	Rarity     int          `json:"rarity,omitempty"`
	Stickers   []RawSticker `json:"stickers,omitempty"`
}
