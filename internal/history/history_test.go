package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cs2inspect/gateway/internal/domain"
)

func intp(v int) *int          { return &v }
func floatp(v float64) *float64 { return &v }

func TestClassify_FreshUnbox(t *testing.T) {
	current := domain.InspectResult{
		Origin:    2,
		PaintSeed: intp(661),
		PaintWear: floatp(0.07),
	}
	got := Classify(current, nil)
	assert.Equal(t, domain.EventUnboxed, got)
}

func TestClassify_FreshUnknownOrigin(t *testing.T) {
	current := domain.InspectResult{Origin: 99}
	assert.Equal(t, domain.EventUnknown, Classify(current, nil))
}

func TestClassify_StickerApplied(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "76561198000000001", Stickers: nil}
	current := domain.InspectResult{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202}},
	}
	assert.Equal(t, domain.EventStickerApply, Classify(current, prior))
}

func TestClassify_StickerRemoved(t *testing.T) {
	prior := &domain.AssetRecord{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202}},
	}
	current := domain.InspectResult{Owner: "76561198000000001", Stickers: nil}
	assert.Equal(t, domain.EventStickerRemove, Classify(current, prior))
}

func TestClassify_StickerScraped(t *testing.T) {
	prior := &domain.AssetRecord{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202, Wear: 0.05}},
	}
	current := domain.InspectResult{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202, Wear: 0.30}},
	}
	assert.Equal(t, domain.EventStickerScrape, Classify(current, prior))
}

func TestClassify_StickerChanged(t *testing.T) {
	prior := &domain.AssetRecord{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202, Wear: 0.05}},
	}
	current := domain.InspectResult{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 303, Wear: 0.05}},
	}
	assert.Equal(t, domain.EventStickerChange, Classify(current, prior))
}

func TestClassify_MarketBuy(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "market-proxy-1"}
	current := domain.InspectResult{Owner: "76561198000000001"}
	assert.Equal(t, domain.EventMarketBuy, Classify(current, prior))
}

func TestClassify_Trade(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "76561198000000001"}
	current := domain.InspectResult{Owner: "76561198000000002"}
	assert.Equal(t, domain.EventTrade, Classify(current, prior))
}

func TestClassify_MarketListing(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "76561198000000001"}
	current := domain.InspectResult{Owner: "market-proxy-listing"}
	assert.Equal(t, domain.EventMarketListing, Classify(current, prior))
}

func TestClassify_KeychainAdded(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "76561198000000001"}
	current := domain.InspectResult{
		Owner:     "76561198000000001",
		Keychains: []domain.Sticker{{Slot: 0, StickerID: 1}},
	}
	assert.Equal(t, domain.EventKeychainAdded, Classify(current, prior))
}

func TestClassify_NoChange(t *testing.T) {
	prior := &domain.AssetRecord{Owner: "76561198000000001"}
	current := domain.InspectResult{Owner: "76561198000000001"}
	assert.Equal(t, domain.HistoryEventType(""), Classify(current, prior))
}

func TestClassify_Deterministic(t *testing.T) {
	prior := &domain.AssetRecord{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202, Wear: 0.05}},
	}
	current := domain.InspectResult{
		Owner:    "76561198000000001",
		Stickers: []domain.Sticker{{Slot: 0, StickerID: 202, Wear: 0.30}},
	}
	a := Classify(current, prior)
	b := Classify(current, prior)
	assert.Equal(t, a, b)
}
