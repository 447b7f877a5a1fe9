// Package shard implements the Worker Shard from spec §4.2: an
// independent goroutine owning up to BotsPerWorker bot connections,
// dispatching inspect requests by random choice over the ready set and
// running the periodic health check / reconnect sweep.
package shard

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/bot"
	"github.com/cs2inspect/gateway/internal/credstore"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/transport"
)

// Config bundles the shard-level timing knobs from spec §6.
type Config struct {
	Bot                 bot.Config
	MaxInitRetries      int
	HealthCheckInterval time.Duration
	StatsUpdateInterval time.Duration
	ProxyURL            string
}

// NewTransport constructs a fresh transport.Transport for one bot account.
// Shards never share a credential (spec §5 Shared resources), so each bot
// gets its own transport instance.
type NewTransport func(username string) transport.Transport

// BotRow is a single row of the per-shard stats snapshot (spec §4.2 Stats
// reporting).
type BotRow struct {
	Username        string
	State           bot.State
	Counters        bot.Counters
	ReconnectStatus bot.ReconnectStatus
}

// Stats is the shard-level snapshot emitted every StatsUpdateInterval.
type Stats struct {
	ShardID int
	Bots    []BotRow
	Ready   int
	Busy    int
}

// Shard owns a disjoint partition of bot accounts.
type Shard struct {
	ID         int
	log        zerolog.Logger
	cfg        Config
	newTransport NewTransport

	mu        sync.RWMutex
	bots      map[string]*bot.Bot
	creds     map[string]credstore.Credential
	throttled map[string]time.Time // account-level LOGIN_THROTTLED until
	failedAt  map[string]time.Time // time of the last failed init

	statsCh chan Stats
	done    chan struct{}
}

// New creates a Shard for the given partition of accounts. Bots are not yet
// logged in; call Initialize.
func New(id int, creds []credstore.Credential, cfg Config, newTransport NewTransport, log zerolog.Logger) *Shard {
	s := &Shard{
		ID:           id,
		log:          log.With().Int("shard", id).Logger(),
		cfg:          cfg,
		newTransport: newTransport,
		bots:         make(map[string]*bot.Bot),
		creds:        make(map[string]credstore.Credential),
		throttled:    make(map[string]time.Time),
		failedAt:     make(map[string]time.Time),
		statsCh:      make(chan Stats, 4),
		done:         make(chan struct{}),
	}
	for _, c := range creds {
		s.creds[c.Username] = c
	}
	return s
}

// Initialize logs in every account in the partition, honoring
// ACCOUNT_DISABLED (drop) and LOGIN_THROTTLED (skip, cooldown 30m) per
// spec §4.2.
func (s *Shard) Initialize(ctx context.Context) {
	s.mu.RLock()
	creds := make([]credstore.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		creds = append(creds, c)
	}
	s.mu.RUnlock()

	for _, c := range creds {
		s.initOne(ctx, c)
	}

	go s.run(ctx)
}

func (s *Shard) initOne(ctx context.Context, c credstore.Credential) {
	s.mu.Lock()
	if until, ok := s.throttled[c.Username]; ok && time.Now().Before(until) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	b := bot.New(c.Username, s.newTransport(c.Username), s.cfg.Bot, s.log)

	var err error
	maxRetries := s.cfg.MaxInitRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = b.Initialize(ctx, transport.Credential{Username: c.Username, Password: c.Password}, s.cfg.ProxyURL)
		if err == nil {
			break
		}
		if domain.IsPermanent(err) {
			break
		}
	}

	if err != nil {
		if err == domain.ErrLoginThrottled {
			s.mu.Lock()
			s.throttled[c.Username] = time.Now().Add(30 * time.Minute)
			s.mu.Unlock()
			s.log.Warn().Str("account", c.Username).Msg("login throttled, skipping")
			return
		}
		if err == domain.ErrAccountDisabled {
			s.mu.Lock()
			delete(s.creds, c.Username)
			s.mu.Unlock()
			s.log.Warn().Str("account", c.Username).Msg("account disabled, dropping from partition")
			return
		}
		s.mu.Lock()
		s.failedAt[c.Username] = time.Now()
		s.mu.Unlock()
		s.log.Error().Err(err).Str("account", c.Username).Msg("failed to initialize bot")
		return
	}

	s.mu.Lock()
	s.bots[c.Username] = b
	s.mu.Unlock()
}

// run drives the health-check and stats-emission loops for the shard's
// lifetime.
func (s *Shard) run(ctx context.Context) {
	initialDelay := time.NewTimer(30 * time.Second)
	defer initialDelay.Stop()

	healthTicker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer healthTicker.Stop()

	statsTicker := time.NewTicker(s.cfg.StatsUpdateInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-initialDelay.C:
			s.HealthCheck(ctx)
		case <-healthTicker.C:
			s.HealthCheck(ctx)
		case <-statsTicker.C:
			s.emitStats()
		}
	}
}

// HealthCheck implements spec §4.2's walk: schedule reconnects for
// errored/disconnected bots, and attempt fresh logins for partition
// accounts with no bot whose failure cooldown has elapsed.
func (s *Shard) HealthCheck(ctx context.Context) {
	s.mu.RLock()
	bots := make([]*bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	s.mu.RUnlock()

	for _, b := range bots {
		if !b.IsError() && !b.IsDisconnected() {
			continue
		}
		if b.IsPermanentlyFailed() {
			continue
		}
		rs := b.GetReconnectStatus()
		if rs.Scheduled {
			continue
		}
		cred, ok := s.credentialFor(b.Username)
		if !ok {
			continue
		}
		b.ScheduleReconnect(ctx, cred, s.cfg.ProxyURL)
	}

	s.mu.RLock()
	var missing []credstore.Credential
	now := time.Now()
	for username, c := range s.creds {
		if _, exists := s.bots[username]; exists {
			continue
		}
		if until, throttled := s.throttled[username]; throttled && now.Before(until) {
			continue
		}
		if failedAt, failed := s.failedAt[username]; failed && now.Sub(failedAt) < 30*time.Minute {
			continue
		}
		missing = append(missing, c)
	}
	s.mu.RUnlock()

	for _, c := range missing {
		s.initOne(ctx, c)
	}

	s.emitStats()
}

func (s *Shard) credentialFor(username string) (transport.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[username]
	if !ok {
		return transport.Credential{}, false
	}
	return transport.Credential{Username: c.Username, Password: c.Password}, true
}

func (s *Shard) emitStats() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ShardID: s.ID}
	for username, b := range s.bots {
		row := BotRow{
			Username:        username,
			State:           b.State(),
			Counters:        b.Counters(),
			ReconnectStatus: b.GetReconnectStatus(),
		}
		st.Bots = append(st.Bots, row)
		switch row.State {
		case bot.StateReady:
			st.Ready++
		case bot.StateBusy:
			st.Busy++
		}
	}

	select {
	case s.statsCh <- st:
	default:
	}
}

// StatsCh exposes the periodic stats snapshot channel.
func (s *Shard) StatsCh() <-chan Stats {
	return s.statsCh
}

// ReadyCount returns the number of currently Ready bots, used by the
// Worker Manager's weighted shard dispatch (spec §4.4).
func (s *Shard) ReadyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, b := range s.bots {
		if b.IsReady() {
			count++
		}
	}
	return count
}

// Inspect dispatches one inspect call to a uniformly-random Ready bot
// (spec §4.2 Selection policy). Returns ErrNoBotsReady if the snapshot of
// ready bots is empty.
func (s *Shard) Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (domain.InspectResult, error) {
	b := s.pickReadyBot()
	if b == nil {
		return domain.InspectResult{}, domain.ErrNoBotsReady
	}
	return b.Inspect(ctx, owner, assetID, proof, marketID)
}

func (s *Shard) pickReadyBot() *bot.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*bot.Bot
	for _, b := range s.bots {
		if b.IsReady() {
			ready = append(ready, b)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	return ready[rand.Intn(len(ready))]
}

// ReconnectBot forces the named bot to reconnect immediately.
func (s *Shard) ReconnectBot(ctx context.Context, username string) bool {
	s.mu.RLock()
	b, ok := s.bots[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	cred, ok := s.credentialFor(username)
	if !ok {
		return false
	}
	_ = b.ForceReconnect(ctx, cred, s.cfg.ProxyURL)
	return true
}

// ReconnectAll forces every bot in the shard to reconnect.
func (s *Shard) ReconnectAll(ctx context.Context) {
	s.mu.RLock()
	usernames := make([]string, 0, len(s.bots))
	for u := range s.bots {
		usernames = append(usernames, u)
	}
	s.mu.RUnlock()
	for _, u := range usernames {
		s.ReconnectBot(ctx, u)
	}
}

// Shutdown destroys every bot, best-effort, and closes the shard's
// lifetime. Errors are aggregated but never block the shutdown; per
// spec §9 Open Questions, destroy() on already-permanently-failed bots is
// still attempted here (best-effort join), matching the original's
// allSettled semantics.
func (s *Shard) Shutdown() error {
	close(s.done)

	s.mu.RLock()
	bots := make([]*bot.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(bots))
	for _, b := range bots {
		wg.Add(1)
		go func(b *bot.Bot) {
			defer wg.Done()
			if err := b.Destroy(); err != nil {
				errs <- err
			}
		}(b)
	}
	wg.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
