package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueID_MatchesSpecFormula(t *testing.T) {
	seed, paintIndex, wear, defIndex := 661, 44, 0.07, 7

	r := InspectResult{PaintSeed: &seed, PaintIndex: paintIndex, PaintWear: &wear, DefIndex: defIndex}

	want := fmt.Sprintf("%d-%d-%g-%d", seed, paintIndex, wear, defIndex)
	sum := sha1.Sum([]byte(want))
	wantID := hex.EncodeToString(sum[:])[:8]

	assert.Equal(t, wantID, UniqueID(r))
}

func TestUniqueID_NullsNormalizeToZero(t *testing.T) {
	r := InspectResult{PaintIndex: 10, DefIndex: 5} // PaintSeed, PaintWear left nil
	assert.Equal(t, "0-10-0-5", r.UniqueIDSeed())
}

func TestUniqueID_Deterministic(t *testing.T) {
	seed := 12
	r := InspectResult{PaintSeed: &seed, PaintIndex: 1, DefIndex: 2}
	assert.Equal(t, UniqueID(r), UniqueID(r))
}

func TestIsPlayerOwner(t *testing.T) {
	assert.True(t, IsPlayerOwner("76561198042763337"))
	assert.False(t, IsPlayerOwner("market-proxy"))
	assert.False(t, IsPlayerOwner("765"))
}
