// Package mock provides a deterministic, in-memory Transport implementation
// used by tests and local development so the bot/shard/manager state
// machines can be exercised without a real game-coordinator connection.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cs2inspect/gateway/internal/transport"
)

// Transport is a synthetic game-client connection. Behaviour can be
// scripted per-instance via the exported hooks, defaulting to always
// succeeding with a deterministic result derived from the asset id.
type Transport struct {
	mu     sync.Mutex
	events chan transport.Event
	closed bool

	// LoginErr, if set, makes Login fail with it, returning LoginReason
	// alongside; LoginReason alone has no effect.
	LoginReason transport.ErrorReason
	LoginErr    error

	// InspectDelay simulates round-trip latency.
	InspectDelay time.Duration

	// InspectErr, if set, is returned from every Inspect call.
	InspectErr error
}

// New creates a ready-to-use mock transport.
func New() *Transport {
	return &Transport{
		events: make(chan transport.Event, 8),
	}
}

// Login implements transport.Transport.
func (t *Transport) Login(ctx context.Context, cred transport.Credential, proxyURL string) (transport.ErrorReason, error) {
	if t.LoginErr != nil {
		return t.LoginReason, t.LoginErr
	}
	return "", nil
}

// Inspect implements transport.Transport, synthesizing a result keyed off
// assetID so repeated calls for the same asset are stable.
func (t *Transport) Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (transport.InspectResult, error) {
	if t.InspectDelay > 0 {
		select {
		case <-time.After(t.InspectDelay):
		case <-ctx.Done():
			return transport.InspectResult{}, ctx.Err()
		}
	}
	if t.InspectErr != nil {
		return transport.InspectResult{}, t.InspectErr
	}

	seed := int(assetID % 1000)
	return transport.InspectResult{
		Fields: map[string]any{
			"itemid":     assetID,
			"defindex":   7,
			"paintindex": 44,
			"paintseed":  seed,
			"paintwear":  0.01 + float64(seed%100)/1000,
			"rarity":     6,
			"origin":     2,
			"questid":    0,
			"owner":      fmt.Sprintf("7656119%010d", assetID%1000000000),
			"stickers":   []any{},
			"keychains":  []any{},
		},
	}, nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	return nil
}

// Disconnect synthesizes a transport drop, used by tests exercising the
// bot's reconnect state machine.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- transport.Event{Kind: transport.EventDisconnected}:
	default:
	}
}

// Throttle synthesizes a LOGIN_THROTTLED error event.
func (t *Transport) Throttle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- transport.Event{Kind: transport.EventError, Reason: transport.ReasonLoginThrottled}:
	default:
	}
}
