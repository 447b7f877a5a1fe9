package bot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/transport"
	"github.com/cs2inspect/gateway/internal/transport/mock"
)

func testConfig() Config {
	return Config{
		CooldownTime:         20 * time.Millisecond,
		InspectTimeout:       50 * time.Millisecond,
		MaxReconnectAttempts: 10,
		BaseReconnectDelay:   30 * time.Second,
		MaxReconnectDelay:    600 * time.Second,
	}
}

func TestBot_InitializeTransitionsToReady(t *testing.T) {
	tr := mock.New()
	b := New("acct1", tr, testConfig(), zerolog.Nop())
	err := b.Initialize(context.Background(), transport.Credential{Username: "acct1"}, "")
	require.NoError(t, err)
	assert.True(t, b.IsReady())
}

func TestBot_InspectTransitionsBusyThenCooldownThenReady(t *testing.T) {
	tr := mock.New()
	tr.InspectDelay = 10 * time.Millisecond
	b := New("acct2", tr, testConfig(), zerolog.Nop())
	require.NoError(t, b.Initialize(context.Background(), transport.Credential{Username: "acct2"}, ""))

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := b.Inspect(context.Background(), 1, 100, 2, 0)
		assert.NoError(t, err)
		assert.Equal(t, uint64(100), res.ItemID)
	}()

	time.Sleep(2 * time.Millisecond)
	assert.True(t, b.IsBusy())
	<-done

	assert.True(t, b.IsCooldown())
	time.Sleep(testConfig().CooldownTime + 10*time.Millisecond)
	assert.True(t, b.IsReady())
}

func TestBot_InspectTimeout(t *testing.T) {
	tr := mock.New()
	tr.InspectDelay = time.Second // longer than the bot's inspect timeout
	cfg := testConfig()
	b := New("acct3", tr, cfg, zerolog.Nop())
	require.NoError(t, b.Initialize(context.Background(), transport.Credential{Username: "acct3"}, ""))

	_, err := b.Inspect(context.Background(), 1, 1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInspectTimeout)
}

func TestBot_PermanentLoginFailureIsTerminal(t *testing.T) {
	tr := mock.New()
	tr.LoginErr = assert.AnError
	tr.LoginReason = transport.ReasonAccountDisabled
	b := New("acct4", tr, testConfig(), zerolog.Nop())

	err := b.Initialize(context.Background(), transport.Credential{Username: "acct4"}, "")
	require.Error(t, err)
	assert.True(t, b.IsPermanentlyFailed())

	rs := b.GetReconnectStatus()
	assert.True(t, rs.PermanentlyFailed)
	assert.False(t, rs.CanReconnect)
}

func TestBot_DisconnectTriggersDisconnectedState(t *testing.T) {
	tr := mock.New()
	b := New("acct5", tr, testConfig(), zerolog.Nop())
	require.NoError(t, b.Initialize(context.Background(), transport.Credential{Username: "acct5"}, ""))

	tr.Disconnect()
	require.Eventually(t, b.IsDisconnected, time.Second, time.Millisecond)
}

// TestBackoffDelay_SatisfiesInvariant checks that every delay lies in
// [base/2, min(max, base*2^i)], for a handful of attempts.
func TestBackoffDelay_SatisfiesInvariant(t *testing.T) {
	base := 30 * time.Second
	max := 600 * time.Second
	for attempt := 0; attempt < 6; attempt++ {
		ceiling := base << uint(attempt)
		if ceiling <= 0 || ceiling > max {
			ceiling = max
		}
		for i := 0; i < 20; i++ {
			d := backoffDelay(base, max, attempt)
			assert.GreaterOrEqual(t, d, base/2)
			assert.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestBot_ScheduleReconnectEventuallyReconnects(t *testing.T) {
	tr := mock.New()
	cfg := testConfig()
	cfg.BaseReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectDelay = 10 * time.Millisecond
	b := New("acct6", tr, cfg, zerolog.Nop())
	require.NoError(t, b.Initialize(context.Background(), transport.Credential{Username: "acct6"}, ""))

	tr.Disconnect()
	require.Eventually(t, b.IsDisconnected, time.Second, time.Millisecond)

	b.ScheduleReconnect(context.Background(), transport.Credential{Username: "acct6"}, "")

	var gotReconnected bool
	deadline := time.After(time.Second)
	for !gotReconnected {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventReconnected {
				gotReconnected = true
			}
		case <-deadline:
			t.Fatal("never observed EventReconnected")
		}
	}
	assert.True(t, b.IsReady())
}
