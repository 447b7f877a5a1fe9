package shard

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs2inspect/gateway/internal/bot"
	"github.com/cs2inspect/gateway/internal/credstore"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/transport"
	"github.com/cs2inspect/gateway/internal/transport/mock"
)

func testShardConfig() Config {
	return Config{
		Bot: bot.Config{
			CooldownTime:         20 * time.Millisecond,
			InspectTimeout:       50 * time.Millisecond,
			MaxReconnectAttempts: 5,
			BaseReconnectDelay:   10 * time.Millisecond,
			MaxReconnectDelay:    50 * time.Millisecond,
		},
		MaxInitRetries:      2,
		HealthCheckInterval: time.Hour, // disabled for the duration of these tests
		StatsUpdateInterval: time.Hour,
	}
}

func TestShard_InitializeLogsInAllAccounts(t *testing.T) {
	creds := []credstore.Credential{{Username: "a1", Password: "p"}, {Username: "a2", Password: "p"}}
	s := New(0, creds, testShardConfig(), func(string) transport.Transport { return mock.New() }, zerolog.Nop())
	s.Initialize(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 2, s.ReadyCount())
}

func TestShard_InitializeDropsAccountDisabled(t *testing.T) {
	creds := []credstore.Credential{{Username: "bad", Password: "p"}, {Username: "good", Password: "p"}}
	newTransport := func(username string) transport.Transport {
		tr := mock.New()
		if username == "bad" {
			tr.LoginErr = domain.ErrAccountDisabled
			tr.LoginReason = transport.ReasonAccountDisabled
		}
		return tr
	}
	s := New(0, creds, testShardConfig(), newTransport, zerolog.Nop())
	s.Initialize(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, s.ReadyCount())
	_, stillPartitioned := s.creds["bad"]
	assert.False(t, stillPartitioned)
}

func TestShard_InspectNoBotsReadyFast(t *testing.T) {
	s := New(0, nil, testShardConfig(), func(string) transport.Transport { return mock.New() }, zerolog.Nop())
	_, err := s.Inspect(context.Background(), 1, 2, 3, 0)
	assert.ErrorIs(t, err, domain.ErrNoBotsReady)
}

func TestShard_InspectDispatchesToReadyBot(t *testing.T) {
	creds := []credstore.Credential{{Username: "solo", Password: "p"}}
	s := New(0, creds, testShardConfig(), func(string) transport.Transport { return mock.New() }, zerolog.Nop())
	s.Initialize(context.Background())
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 1, s.ReadyCount())
	res, err := s.Inspect(context.Background(), 1, 999, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(999), res.ItemID)
}
