// Package bot implements the per-account state machine from spec §4.1: one
// logged-in game-client connection, its reconnect backoff, and the event
// stream consumers read instead of relying on dynamic event-emitter
// dispatch (Design Note "Event-emitter bot").
package bot

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/transport"
)

// State is the bot's tagged-variant lifecycle state (spec §3 BotState).
type State int

const (
	StateInitializing State = iota
	StateReady
	StateBusy
	StateCooldown
	StateDisconnected
	StateError
	StatePermanentlyFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateCooldown:
		return "cooldown"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// EventKind enumerates the typed events a Bot emits onto its channel.
type EventKind int

const (
	EventReady EventKind = iota
	EventInspected
	EventInspectError
	EventDisconnected
	EventReconnectScheduled
	EventReconnecting
	EventReconnected
	EventMaxReconnectAttemptsReached
	EventPermanentlyFailed
)

// Event is one notification off a Bot's channel.
type Event struct {
	Kind    EventKind
	AssetID uint64
	Result  domain.InspectResult
	Err     error
	Attempt int
	MaxAttempts int
	Delay   time.Duration
}

// ReconnectStatus mirrors spec §3's ReconnectStatus.
type ReconnectStatus struct {
	Attempts          int
	Scheduled         bool
	CanReconnect      bool
	PermanentlyFailed bool
	LastError         error
}

// Config bundles the timing knobs from spec §6 that govern a single bot.
type Config struct {
	CooldownTime         time.Duration
	InspectTimeout       time.Duration
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
}

// Bot drives one logged-in transport.Transport connection.
type Bot struct {
	Username string

	cfg       Config
	transport transport.Transport
	log       zerolog.Logger
	events    chan Event

	mu    sync.Mutex
	state State

	busyAssetID  uint64
	busyStarted  time.Time
	cooldownUntil time.Time
	permReason   error

	reconnect ReconnectStatus

	inspectCount  int64
	successCount  int64
	failureCount  int64
	lastInspectAt atomic.Value // time.Time

	cancelReconnect context.CancelFunc
}

// New constructs a Bot bound to a transport instance. The transport is not
// yet logged in; call Initialize.
func New(username string, t transport.Transport, cfg Config, log zerolog.Logger) *Bot {
	b := &Bot{
		Username:  username,
		cfg:       cfg,
		transport: t,
		log:       log.With().Str("bot", username).Logger(),
		events:    make(chan Event, 32),
		state:     StateInitializing,
	}
	b.reconnect.CanReconnect = true
	go b.watchTransportEvents()
	return b
}

// Events returns the channel consumers should read lifecycle notifications
// from.
func (b *Bot) Events() <-chan Event {
	return b.events
}

func (b *Bot) emit(e Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn().Msg("event channel full, dropping event")
	}
}

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsReady, IsBusy, IsCooldown, IsDisconnected, IsError are the state-query
// predicates from spec §4.1.
func (b *Bot) IsReady() bool         { return b.State() == StateReady }
func (b *Bot) IsBusy() bool          { return b.State() == StateBusy }
func (b *Bot) IsCooldown() bool      { return b.State() == StateCooldown }
func (b *Bot) IsDisconnected() bool  { return b.State() == StateDisconnected }
func (b *Bot) IsError() bool         { return b.State() == StateError }
func (b *Bot) IsPermanentlyFailed() bool { return b.State() == StatePermanentlyFailed }

// Initialize logs the bot in. On success it transitions to Ready; on
// failure it transitions to Error (permanent errors terminal, others left
// for the shard's health check to schedule a reconnect) and returns the
// domain error the transport's reason code maps to.
func (b *Bot) Initialize(ctx context.Context, cred transport.Credential, proxyURL string) error {
	reason, err := b.transport.Login(ctx, cred, proxyURL)
	if err != nil {
		b.recordLoginFailure(reason, err)
		return mapReason(reason, err)
	}
	b.setState(StateReady)
	b.mu.Lock()
	b.reconnect.Attempts = 0
	b.mu.Unlock()
	b.emit(Event{Kind: EventReady})
	return nil
}

func (b *Bot) recordLoginFailure(reason transport.ErrorReason, err error) {
	mapped := mapReason(reason, err)
	b.mu.Lock()
	b.reconnect.LastError = mapped
	b.mu.Unlock()

	if domain.IsPermanent(mapped) {
		b.setState(StatePermanentlyFailed)
		b.mu.Lock()
		b.permReason = mapped
		b.reconnect.PermanentlyFailed = true
		b.reconnect.CanReconnect = false
		b.mu.Unlock()
		b.emit(Event{Kind: EventPermanentlyFailed, Err: mapped})
		return
	}

	b.setState(StateError)
}

func mapReason(reason transport.ErrorReason, err error) error {
	switch reason {
	case transport.ReasonAccountDisabled:
		return domain.ErrAccountDisabled
	case transport.ReasonInvalidPassword:
		return domain.ErrInvalidPassword
	case transport.ReasonRateLimitExceededPerma:
		return domain.ErrRateLimitExceededPerma
	case transport.ReasonLoginThrottled:
		return domain.ErrLoginThrottled
	case transport.ReasonTransportDrop:
		return domain.ErrTransportDrop
	default:
		if err != nil {
			return err
		}
		return domain.ErrTransportDrop
	}
}

// Inspect drives one inspect round trip. The bot transitions Ready->Busy
// for its duration, and Busy->Cooldown on completion (success or timeout)
// per spec §4.1. The result/error is delivered both synchronously (return
// value) and via the event channel so shard-level consumers that only
// watch Events() still observe it.
func (b *Bot) Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (domain.InspectResult, error) {
	b.mu.Lock()
	if b.state != StateReady {
		b.mu.Unlock()
		return domain.InspectResult{}, domain.ErrNoBotsReady
	}
	b.state = StateBusy
	b.busyAssetID = assetID
	b.busyStarted = time.Now()
	b.mu.Unlock()

	ictx, cancel := context.WithTimeout(ctx, b.cfg.InspectTimeout)
	defer cancel()

	raw, err := b.transport.Inspect(ictx, owner, assetID, proof, marketID)

	atomic.AddInt64(&b.inspectCount, 1)
	b.lastInspectAt.Store(time.Now())

	if err != nil {
		atomic.AddInt64(&b.failureCount, 1)
		var outErr error
		if ictx.Err() != nil {
			outErr = domain.ErrInspectTimeout
		} else {
			outErr = domain.ErrTransportDrop
		}
		b.enterCooldown()
		b.emit(Event{Kind: EventInspectError, AssetID: assetID, Err: outErr})
		return domain.InspectResult{}, outErr
	}

	atomic.AddInt64(&b.successCount, 1)
	result := projectResult(raw)
	b.enterCooldown()
	b.emit(Event{Kind: EventInspected, AssetID: assetID, Result: result})
	return result, nil
}

func (b *Bot) enterCooldown() {
	until := time.Now().Add(b.cfg.CooldownTime)
	b.mu.Lock()
	b.state = StateCooldown
	b.cooldownUntil = until
	b.mu.Unlock()

	time.AfterFunc(b.cfg.CooldownTime, func() {
		b.mu.Lock()
		if b.state == StateCooldown {
			b.state = StateReady
		}
		b.mu.Unlock()
	})
}

// ForceReconnect tears down the transport and immediately attempts a fresh
// login, bypassing the backoff schedule.
func (b *Bot) ForceReconnect(ctx context.Context, cred transport.Credential, proxyURL string) error {
	_ = b.transport.Close()
	b.setState(StateDisconnected)
	return b.Initialize(ctx, cred, proxyURL)
}

// ScheduleReconnect starts the exponential-backoff-with-full-jitter
// reconnect loop described in spec §4.1. It is idempotent: calling it while
// a reconnect is already scheduled is a no-op.
func (b *Bot) ScheduleReconnect(ctx context.Context, cred transport.Credential, proxyURL string) {
	b.mu.Lock()
	if b.reconnect.Scheduled || b.reconnect.PermanentlyFailed {
		b.mu.Unlock()
		return
	}
	b.reconnect.Scheduled = true
	attempt := b.reconnect.Attempts
	b.mu.Unlock()

	if attempt >= b.cfg.MaxReconnectAttempts {
		b.mu.Lock()
		b.reconnect.Scheduled = false
		b.reconnect.PermanentlyFailed = true
		b.reconnect.CanReconnect = false
		b.mu.Unlock()
		b.setState(StatePermanentlyFailed)
		b.emit(Event{Kind: EventMaxReconnectAttemptsReached})
		b.emit(Event{Kind: EventPermanentlyFailed})
		return
	}

	delay := backoffDelay(b.cfg.BaseReconnectDelay, b.cfg.MaxReconnectDelay, attempt)
	b.emit(Event{Kind: EventReconnectScheduled, Attempt: attempt, MaxAttempts: b.cfg.MaxReconnectAttempts, Delay: delay})

	rctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelReconnect = cancel
	b.mu.Unlock()

	go func() {
		select {
		case <-time.After(delay):
		case <-rctx.Done():
			return
		}

		b.mu.Lock()
		b.reconnect.Attempts++
		b.mu.Unlock()
		b.emit(Event{Kind: EventReconnecting, Attempt: attempt})

		if err := b.Initialize(rctx, cred, proxyURL); err != nil {
			b.mu.Lock()
			b.reconnect.Scheduled = false
			b.mu.Unlock()
			if !domain.IsPermanent(err) {
				b.ScheduleReconnect(ctx, cred, proxyURL)
			}
			return
		}

		b.mu.Lock()
		b.reconnect.Scheduled = false
		b.reconnect.Attempts = 0
		b.mu.Unlock()
		b.emit(Event{Kind: EventReconnected})
	}()
}

// backoffDelay implements "delay = min(maxDelay, base*2^attempt) *
// rand(0.5, 1.0)" (spec §4.1), so every delay lies in
// [base/2, min(max, base*2^attempt)].
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	capped := base << uint(attempt)
	if capped <= 0 || capped > maxDelay { // overflow or exceeds ceiling
		capped = maxDelay
	}
	jitter := 0.5 + rand.Float64()*0.5
	d := time.Duration(float64(capped) * jitter)
	if d < base/2 {
		d = base / 2
	}
	return d
}

// Destroy tears down the underlying transport. Best-effort: errors are
// returned but the bot is considered gone either way.
func (b *Bot) Destroy() error {
	b.mu.Lock()
	if b.cancelReconnect != nil {
		b.cancelReconnect()
	}
	b.mu.Unlock()
	return b.transport.Close()
}

// GetReconnectStatus returns a snapshot of the bot's reconnect bookkeeping.
func (b *Bot) GetReconnectStatus() ReconnectStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reconnect
}

// Counters is a snapshot of the bot's lifetime inspect counters.
type Counters struct {
	InspectCount  int64
	SuccessCount  int64
	FailureCount  int64
	LastInspectAt time.Time
}

// Counters returns a snapshot of the bot's counters (spec §3 BotState).
func (b *Bot) Counters() Counters {
	last, _ := b.lastInspectAt.Load().(time.Time)
	return Counters{
		InspectCount:  atomic.LoadInt64(&b.inspectCount),
		SuccessCount:  atomic.LoadInt64(&b.successCount),
		FailureCount:  atomic.LoadInt64(&b.failureCount),
		LastInspectAt: last,
	}
}

// BusyAssetID returns the asset id currently being inspected, if the bot is
// Busy.
func (b *Bot) BusyAssetID() (uint64, time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busyAssetID, b.busyStarted, b.state == StateBusy
}

// watchTransportEvents bridges asynchronous transport notifications
// (disconnects, throttles) into bot-level state transitions.
func (b *Bot) watchTransportEvents() {
	for ev := range b.transport.Events() {
		switch ev.Kind {
		case transport.EventDisconnected:
			b.setState(StateDisconnected)
			b.emit(Event{Kind: EventDisconnected})
		case transport.EventError:
			mapped := mapReason(ev.Reason, nil)
			if ev.Reason == transport.ReasonLoginThrottled {
				until := time.Now().Add(30 * time.Minute)
				b.mu.Lock()
				b.state = StateCooldown
				b.cooldownUntil = until
				b.reconnect.LastError = mapped
				b.mu.Unlock()
				continue
			}
			b.mu.Lock()
			b.reconnect.LastError = mapped
			b.mu.Unlock()
			if domain.IsPermanent(mapped) {
				b.setState(StatePermanentlyFailed)
				b.emit(Event{Kind: EventPermanentlyFailed, Err: mapped})
			} else {
				b.setState(StateError)
			}
		}
	}
}

// projectResult turns the transport's opaque field bag into the typed
// domain.InspectResult (Design Note "Dynamic result shape").
func projectResult(raw transport.InspectResult) domain.InspectResult {
	r := domain.InspectResult{Extra: map[string]any{}}
	for k, v := range raw.Fields {
		switch k {
		case "itemid":
			r.ItemID = toUint64(v)
		case "defindex":
			r.DefIndex = toInt(v)
		case "paintindex":
			r.PaintIndex = toInt(v)
		case "paintseed":
			iv := toInt(v)
			r.PaintSeed = &iv
		case "paintwear":
			fv := toFloat(v)
			r.PaintWear = &fv
		case "rarity":
			r.Rarity = toInt(v)
		case "quality":
			r.Quality = toInt(v)
		case "origin":
			r.Origin = toInt(v)
		case "questid":
			r.QuestID = toInt(v)
		case "owner":
			if s, ok := v.(string); ok {
				r.Owner = s
			}
		case "stickers":
			r.Stickers = toStickers(v)
		case "keychains":
			r.Keychains = toStickers(v)
		default:
			r.Extra[k] = v
		}
	}
	return r
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toStickers(v any) []domain.Sticker {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]domain.Sticker, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.Sticker{
			Slot:      toInt(m["slot"]),
			StickerID: toInt(m["sticker_id"]),
			Wear:      toFloat(m["wear"]),
			OffsetX:   toFloat(m["offset_x"]),
			OffsetY:   toFloat(m["offset_y"]),
			OffsetZ:   toFloat(m["offset_z"]),
			Rotation:  toFloat(m["rotation"]),
		})
	}
	return out
}
