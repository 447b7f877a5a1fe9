package formatter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs2inspect/gateway/internal/domain"
)

func TestFromResult_ProjectsTypedFields(t *testing.T) {
	seed := 12
	wear := 0.18
	r := domain.InspectResult{
		ItemID: 555, DefIndex: 7, PaintIndex: 44, PaintSeed: &seed, PaintWear: &wear,
		Rarity: 5, Quality: 4, Origin: 8, Owner: "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 100, Wear: 0.1}},
	}

	item := FromResult(r, "abc12345")
	assert.Equal(t, uint64(555), item.ItemID)
	assert.Equal(t, "abc12345", item.UniqueID)
	require.Len(t, item.Stickers, 1)
	assert.Equal(t, 100, item.Stickers[0].StickerID)
}

func TestFromAsset_OmitsQualityNotTrackedByPersistence(t *testing.T) {
	rec := domain.AssetRecord{AssetID: 9, DefIndex: 1, PaintIndex: 2, Owner: "market", UniqueID: "deadbeef"}
	item := FromAsset(rec)
	assert.Equal(t, uint64(9), item.ItemID)
	assert.Equal(t, "deadbeef", item.UniqueID)
	assert.Zero(t, item.Quality)
}

func TestItemInfo_MarshalJSON_FlattensExtraWithoutOverwritingKnownFields(t *testing.T) {
	item := ItemInfo{
		ItemID: 1, UniqueID: "x",
		Extra: map[string]any{"killeaterscoretype": 1, "itemid": "should-not-win"},
	}

	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, float64(1), decoded["killeaterscoretype"])
	assert.EqualValues(t, 1, decoded["itemid"])
}

func TestItemInfo_MarshalJSON_OmitsEmptyCollections(t *testing.T) {
	item := ItemInfo{ItemID: 1, UniqueID: "x"}
	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	_, hasStickers := decoded["stickers"]
	_, hasKeychains := decoded["keychains"]
	_, hasQuestID := decoded["questid"]
	assert.False(t, hasStickers)
	assert.False(t, hasKeychains)
	assert.False(t, hasQuestID)
}
