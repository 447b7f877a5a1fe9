package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs2inspect/gateway/internal/coordinator"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/formatter"
	"github.com/cs2inspect/gateway/internal/manager"
)

type stubInspector struct {
	outcome coordinator.Outcome
}

func (s stubInspector) InspectItem(_ context.Context, _ domain.InspectDescriptor) coordinator.Outcome {
	return s.outcome
}

type stubStats struct {
	stats manager.Stats
}

func (s stubStats) Stats() manager.Stats { return s.stats }

func TestHandleInspect_ReturnsItemInfoOnSuccess(t *testing.T) {
	item := formatter.ItemInfo{ItemID: 42, UniqueID: "abc"}
	inspector := stubInspector{outcome: coordinator.Outcome{Item: &item}}
	r := NewRouter(Config{}, inspector, stubStats{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/inspect?s=76561198000000001&a=42&d=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]formatter.ItemInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(42), body["iteminfo"].ItemID)
}

func TestHandleInspect_MapsQueueFullTo429(t *testing.T) {
	inspector := stubInspector{outcome: coordinator.Outcome{Err: domain.ErrQueueFull}}
	r := NewRouter(Config{}, inspector, stubStats{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/inspect?s=76561198000000001&a=42&d=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleInspect_MapsBadDescriptorTo400(t *testing.T) {
	r := NewRouter(Config{}, stubInspector{}, stubStats{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/inspect", nil) // missing s/m and a
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInspect_MapsNoBotsReadyTo504(t *testing.T) {
	inspector := stubInspector{outcome: coordinator.Outcome{Err: domain.ErrNoBotsReady}}
	r := NewRouter(Config{}, inspector, stubStats{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/inspect?s=76561198000000001&a=42&d=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandleStats_ReturnsManagerSnapshot(t *testing.T) {
	st := manager.Stats{Counters: manager.Counters{Success: 9}}
	r := NewRouter(Config{}, stubInspector{}, stubStats{stats: st}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decoded manager.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, int64(9), decoded.Counters.Success)
}
