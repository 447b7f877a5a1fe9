// Package formatter projects the coordinator's internal results into the
// HTTP response DTOs from spec §6, keeping the transport's opaque Extra
// bag attached for forward compatibility (Design Note "Dynamic result
// shape").
package formatter

import (
	"encoding/json"

	"github.com/cs2inspect/gateway/internal/domain"
)

// ItemInfo is the `{iteminfo: ...}` success envelope.
type ItemInfo struct {
	ItemID     uint64         `json:"itemid"`
	DefIndex   int            `json:"defindex"`
	PaintIndex int            `json:"paintindex"`
	PaintSeed  *int           `json:"paintseed"`
	PaintWear  *float64       `json:"paintwear"`
	Rarity     int            `json:"rarity"`
	Quality    int            `json:"quality"`
	Origin     int            `json:"origin"`
	QuestID    int            `json:"questid,omitempty"`
	Owner      string         `json:"owner"`
	Stickers   []StickerDTO   `json:"stickers,omitempty"`
	Keychains  []StickerDTO   `json:"keychains,omitempty"`
	UniqueID   string         `json:"uniqueid"`
	Extra      map[string]any `json:"-"`
}

// StickerDTO mirrors domain.Sticker with stable wire field names.
type StickerDTO struct {
	Slot      int     `json:"slot"`
	StickerID int     `json:"sticker_id"`
	Wear      float64 `json:"wear"`
	OffsetX   float64 `json:"offset_x"`
	OffsetY   float64 `json:"offset_y"`
	OffsetZ   float64 `json:"offset_z"`
	Rotation  float64 `json:"rotation"`
}

// Accepted is the `reply=false` fire-and-forget envelope (spec §4.5 step 4).
type Accepted struct {
	Accepted bool   `json:"accepted"`
	AssetID  uint64 `json:"assetId"`
}

// MarshalJSON flattens Extra alongside the typed fields so unknown
// transport attributes survive the response without a dedicated DTO field.
func (i ItemInfo) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"itemid":     i.ItemID,
		"defindex":   i.DefIndex,
		"paintindex": i.PaintIndex,
		"paintseed":  i.PaintSeed,
		"paintwear":  i.PaintWear,
		"rarity":     i.Rarity,
		"quality":    i.Quality,
		"origin":     i.Origin,
		"owner":      i.Owner,
		"uniqueid":   i.UniqueID,
	}
	if i.QuestID != 0 {
		out["questid"] = i.QuestID
	}
	if len(i.Stickers) > 0 {
		out["stickers"] = i.Stickers
	}
	if len(i.Keychains) > 0 {
		out["keychains"] = i.Keychains
	}
	for k, v := range i.Extra {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// FromResult builds the response DTO from a freshly completed inspect and
// its derived uniqueId.
func FromResult(r domain.InspectResult, uniqueID string) ItemInfo {
	return ItemInfo{
		ItemID:     r.ItemID,
		DefIndex:   r.DefIndex,
		PaintIndex: r.PaintIndex,
		PaintSeed:  r.PaintSeed,
		PaintWear:  r.PaintWear,
		Rarity:     r.Rarity,
		Quality:    r.Quality,
		Origin:     r.Origin,
		QuestID:    r.QuestID,
		Owner:      r.Owner,
		Stickers:   stickersFromDomain(r.Stickers),
		Keychains:  stickersFromDomain(r.Keychains),
		UniqueID:   uniqueID,
		Extra:      r.Extra,
	}
}

// FromAsset builds the response DTO from a cached/persisted asset record
// (spec §4.5 step 2, cache hit path).
func FromAsset(rec domain.AssetRecord) ItemInfo {
	return ItemInfo{
		ItemID:     rec.AssetID,
		DefIndex:   rec.DefIndex,
		PaintIndex: rec.PaintIndex,
		PaintSeed:  rec.PaintSeed,
		PaintWear:  rec.PaintWear,
		Rarity:     rec.Rarity,
		Origin:     rec.Origin,
		QuestID:    rec.QuestID,
		Owner:      rec.Owner,
		Stickers:   stickersFromDomain(rec.Stickers),
		Keychains:  stickersFromDomain(rec.Keychains),
		UniqueID:   rec.UniqueID,
	}
}

func stickersFromDomain(s []domain.Sticker) []StickerDTO {
	if len(s) == 0 {
		return nil
	}
	out := make([]StickerDTO, len(s))
	for i, st := range s {
		out[i] = StickerDTO{
			Slot:      st.Slot,
			StickerID: st.StickerID,
			Wear:      st.Wear,
			OffsetX:   st.OffsetX,
			OffsetY:   st.OffsetY,
			OffsetZ:   st.OffsetZ,
			Rotation:  st.Rotation,
		}
	}
	return out
}
