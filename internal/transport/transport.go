// Package transport defines the contract for the game-client collaborator
// named in spec §6: a black-box authenticated protocol client that takes
// (owner, assetId, proof, marketId) and raises a single inspect result
// event. Its wire-level encoding is explicitly out of scope (spec §1
// Non-goal a) — the core only depends on this interface.
package transport

import "context"

// Credential is the login material for one bot account.
type Credential struct {
	Username string
	Password string
}

// EventKind enumerates the asynchronous events a Transport can raise
// outside of a direct method call's return value.
type EventKind int

const (
	EventDisconnected EventKind = iota
	EventError
)

// ErrorReason is the caller-visible, fixed set of transport-reported reason
// codes the core must recognize (spec §4.1 "Permanent errors").
type ErrorReason string

const (
	ReasonAccountDisabled        ErrorReason = "ACCOUNT_DISABLED"
	ReasonInvalidPassword        ErrorReason = "INVALID_PASSWORD"
	ReasonRateLimitExceededPerma ErrorReason = "RATE_LIMIT_EXCEEDED_PERMANENT"
	ReasonLoginThrottled         ErrorReason = "LOGIN_THROTTLED"
	ReasonTransportDrop          ErrorReason = "TRANSPORT_DROP"
	ReasonUnknown                ErrorReason = "UNKNOWN"
)

// Event is an out-of-band notification from a logged-in Transport.
type Event struct {
	Kind   EventKind
	Reason ErrorReason
}

// InspectResult carries the raw, loosely-typed attribute bag the transport
// returns for a single inspect call. internal/bot projects it into
// domain.InspectResult.
type InspectResult struct {
	Fields map[string]any
}

// Transport is one logged-in game-client connection. Implementations must
// be safe for a single inspect in flight at a time — the Bot above it never
// calls Inspect again before the previous call's result or error arrives.
type Transport interface {
	// Login authenticates the account. A non-empty ErrorReason classifies the
	// failure per the fixed list above; the caller decides whether it is
	// permanent or worth a reconnect.
	Login(ctx context.Context, cred Credential, proxyURL string) (ErrorReason, error)

	// Inspect performs one protocol round trip and returns the raw result.
	Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (InspectResult, error)

	// Events returns the channel the transport publishes disconnect/error
	// notifications on. Closed when the transport is destroyed.
	Events() <-chan Event

	// Close tears down the connection. Best-effort; safe to call more than
	// once.
	Close() error
}
