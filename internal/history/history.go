// Package history implements the deterministic event classifier from
// spec §4.6: given a fresh inspect result and the most recent prior asset
// record for the same canonical tuple, it assigns exactly one
// domain.HistoryEventType, first-match-wins.
package history

import (
	"github.com/cs2inspect/gateway/internal/domain"
)

// originSource maps the transport's numeric origin code to the event type
// used when no prior record exists (spec §4.6 rule 1).
var originSource = map[int]domain.HistoryEventType{
	8: domain.EventTradedUp,
	4: domain.EventDropped,
	1: domain.EventPurchasedIngame,
	2: domain.EventUnboxed,
	3: domain.EventCrafted,
}

// Classify returns the history event type for result, given the prior
// asset record stored under the same uniqueId (derived from paintSeed,
// paintIndex, paintWear and defIndex), or nil if no such record exists.
// Origin, questId and rarity play no part in selecting prior; the
// coordinator looks it up by uniqueId alone. The caller must have read prior
// before writing the current record (spec §9 Open Question) so that a
// racing write never classifies a result against itself.
//
// An empty return value means same owner, same stickers, same keychains —
// nothing worth logging; the caller should not append a history row.
func Classify(current domain.InspectResult, prior *domain.AssetRecord) domain.HistoryEventType {
	if prior == nil {
		return classifyFresh(current)
	}

	if current.Owner != prior.Owner {
		if domain.IsPlayerOwner(prior.Owner) && !domain.IsPlayerOwner(current.Owner) {
			return domain.EventMarketListing
		}
		if domain.IsPlayerOwner(prior.Owner) {
			return domain.EventTrade
		}
		return domain.EventMarketBuy
	}

	if t := diffStickers(current.Stickers, prior.Stickers); t != "" {
		return t
	}
	return diffKeychains(current.Keychains, prior.Keychains)
}

func classifyFresh(current domain.InspectResult) domain.HistoryEventType {
	if t, ok := originSource[current.Origin]; ok {
		return t
	}
	return domain.EventUnknown
}

// stickerKey identifies a sticker slot for matching across the diff,
// independent of wear (which may legitimately change via STICKER_SCRAPE).
type stickerKey struct {
	slot      int
	stickerID int
	offsetX   float64
	offsetY   float64
	offsetZ   float64
	rotation  float64
}

func keyOf(s domain.Sticker) stickerKey {
	return stickerKey{s.Slot, s.StickerID, s.OffsetX, s.OffsetY, s.OffsetZ, s.Rotation}
}

// diffStickers implements spec §4.6's sticker diff rule. Returns "" if no
// distinguishing change was found between current and prior (same-owner,
// same-sticker-set case).
func diffStickers(current, prior []domain.Sticker) domain.HistoryEventType {
	if len(current) > len(prior) {
		return domain.EventStickerApply
	}
	if len(current) < len(prior) {
		return domain.EventStickerRemove
	}

	priorBySlot := make(map[int]domain.Sticker, len(prior))
	for _, s := range prior {
		priorBySlot[s.Slot] = s
	}

	mismatch := false
	scraped := false
	for _, c := range current {
		p, ok := priorBySlot[c.Slot]
		if !ok {
			mismatch = true
			continue
		}
		if keyOf(c) != keyOf(p) {
			mismatch = true
			continue
		}
		if c.Wear > p.Wear {
			mismatch = true
			scraped = true
		}
	}

	if !mismatch {
		return ""
	}
	if scraped {
		return domain.EventStickerScrape
	}
	return domain.EventStickerChange
}

// diffKeychains implements spec §4.6's keychain diff rule.
func diffKeychains(current, prior []domain.Sticker) domain.HistoryEventType {
	switch {
	case len(prior) == 0 && len(current) > 0:
		return domain.EventKeychainAdded
	case len(prior) > 0 && len(current) == 0:
		return domain.EventKeychainRemoved
	}

	if len(current) != len(prior) {
		return domain.EventKeychainChanged
	}
	for i := range current {
		if current[i] != prior[i] {
			return domain.EventKeychainChanged
		}
	}
	return ""
}
