// Package manager implements the Worker Manager from spec §4.4: sharding
// accounts across Worker Shards, dispatching requests by weighted random
// choice over shards with ready bots, de-duplicating in-flight requests by
// asset id, retrying transient failures, and aggregating fleet metrics.
package manager

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/credstore"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/shard"
)

// Config bundles the manager-level knobs from spec §6.
type Config struct {
	BotsPerWorker int
	MaxRetries    int
	// RetryBackoff paces the drive retry loop when every shard reports
	// ErrNoBotsReady, so a fleet that's briefly saturated doesn't spin a
	// goroutine at 100% CPU waiting for a bot to free up. Defaults to
	// 25ms.
	RetryBackoff time.Duration
	Shard        shard.Config
}

// Counters are the cumulative, monotonic fleet counters from spec §3
// FleetMetrics.
type Counters struct {
	Success          int64
	Cached           int64
	Failed           int64
	Timeouts         int64
	Retried          int64
	SuccessAfterRetry int64
}

// Stats is the manager's merged snapshot: per-shard rows plus cumulative
// counters and response-time percentiles.
type Stats struct {
	Shards    []shard.Stats
	Counters  Counters
	AllTime   Percentiles
	Last5Min  Percentiles
}

// pendingEntry tracks one in-flight, de-duplicated request so concurrent
// callers for the same asset id await a single physical inspect (spec §4.4
// "pending-request table").
type pendingEntry struct {
	completion *managerCompletion
	retryCount int
}

// Manager owns the shard fleet and the pending-request de-dup table.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	shards []*shard.Shard

	mu      sync.Mutex
	pending map[uint64]*pendingEntry
	latency *latencyTracker

	counters struct {
		sync.Mutex
		Counters
	}
}

// New partitions creds into shards of at most cfg.BotsPerWorker accounts
// each (spec §4.4 Sharding) and constructs their Shard objects, un-started.
func New(creds []credstore.Credential, cfg Config, newTransport shard.NewTransport, log zerolog.Logger) *Manager {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	partitions := credstore.Partition(creds, cfg.BotsPerWorker)
	m := &Manager{
		cfg:     cfg,
		log:     log,
		pending: make(map[uint64]*pendingEntry),
		latency: newLatencyTracker(5 * time.Minute),
	}
	for i, part := range partitions {
		m.shards = append(m.shards, shard.New(i, part, cfg.Shard, newTransport, log))
	}
	return m
}

// Start initializes every shard (logging in its bot accounts).
func (m *Manager) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.shards {
		wg.Add(1)
		go func(s *shard.Shard) {
			defer wg.Done()
			s.Initialize(ctx)
		}(s)
	}
	wg.Wait()
}

// IncrementCached bumps the cumulative cached counter (spec §4.4 Contract).
func (m *Manager) IncrementCached() {
	m.counters.Lock()
	m.counters.Cached++
	m.counters.Unlock()
}

// Inspect dispatches one inspect request, de-duplicating on assetID and
// retrying transient failures up to cfg.MaxRetries within the caller's
// context deadline (spec §4.4 Dispatch/Retry policy).
func (m *Manager) Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (domain.InspectResult, error) {
	m.mu.Lock()
	if existing, ok := m.pending[assetID]; ok {
		m.mu.Unlock()
		return m.await(ctx, existing.completion)
	}

	entry := &pendingEntry{completion: newManagerCompletion()}
	m.pending[assetID] = entry
	m.mu.Unlock()

	enqueuedAt := time.Now()
	go m.drive(ctx, assetID, owner, proof, marketID, entry)

	result, err := m.await(ctx, entry.completion)
	m.latency.Record(time.Since(enqueuedAt))
	return result, err
}

// drive performs the dispatch-with-retry loop for one de-duplicated
// request, resolving entry.completion exactly once.
func (m *Manager) drive(ctx context.Context, assetID, owner, proof, marketID uint64, entry *pendingEntry) {
	defer func() {
		m.mu.Lock()
		delete(m.pending, assetID)
		m.mu.Unlock()
	}()

	var lastErr error
	for {
		s := m.pickShard()
		if s == nil {
			lastErr = domain.ErrNoBotsReady
			if entry.retryCount > 0 {
				select {
				case <-time.After(m.cfg.RetryBackoff):
				case <-ctx.Done():
				}
			}
		} else {
			result, err := s.Inspect(ctx, owner, assetID, proof, marketID)
			if err == nil {
				m.bumpSuccess(entry.retryCount > 0)
				entry.completion.Resolve(result, nil)
				return
			}
			lastErr = err
		}

		if !domain.IsTransient(lastErr) {
			m.bumpFailed()
			entry.completion.Resolve(domain.InspectResult{}, lastErr)
			return
		}

		if entry.retryCount >= m.cfg.MaxRetries || ctx.Err() != nil {
			if lastErr == domain.ErrInspectTimeout {
				m.bumpTimeout()
			} else {
				m.bumpFailed()
			}
			entry.completion.Resolve(domain.InspectResult{}, lastErr)
			return
		}

		entry.retryCount++
		m.bumpRetried()
	}
}

func (m *Manager) await(ctx context.Context, c *managerCompletion) (domain.InspectResult, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return domain.InspectResult{}, domain.ErrInspectTimeout
	}
}

// pickShard implements spec §4.4's weighted-random dispatch: weight is the
// shard's ready-bot count, restricted to shards with >=1 ready bot.
func (m *Manager) pickShard() *shard.Shard {
	type weighted struct {
		s *shard.Shard
		w int
	}
	var candidates []weighted
	total := 0
	for _, s := range m.shards {
		if w := s.ReadyCount(); w > 0 {
			candidates = append(candidates, weighted{s, w})
			total += w
		}
	}
	if total == 0 {
		return nil
	}
	pick := rand.Intn(total)
	for _, c := range candidates {
		if pick < c.w {
			return c.s
		}
		pick -= c.w
	}
	return candidates[len(candidates)-1].s
}

func (m *Manager) bumpSuccess(afterRetry bool) {
	m.counters.Lock()
	m.counters.Success++
	if afterRetry {
		m.counters.SuccessAfterRetry++
	}
	m.counters.Unlock()
}

func (m *Manager) bumpFailed() {
	m.counters.Lock()
	m.counters.Failed++
	m.counters.Unlock()
}

func (m *Manager) bumpTimeout() {
	m.counters.Lock()
	m.counters.Timeouts++
	m.counters.Unlock()
}

func (m *Manager) bumpRetried() {
	m.counters.Lock()
	m.counters.Retried++
	m.counters.Unlock()
}

// ReconnectBot forces the named bot to reconnect, searching every shard.
func (m *Manager) ReconnectBot(ctx context.Context, username string) bool {
	for _, s := range m.shards {
		if s.ReconnectBot(ctx, username) {
			return true
		}
	}
	return false
}

// ReconnectAll forces a reconnect across every shard in the fleet.
func (m *Manager) ReconnectAll(ctx context.Context) {
	for _, s := range m.shards {
		s.ReconnectAll(ctx)
	}
}

// Shutdown resolves every still-pending request with ErrShuttingDown (spec
// §5 Cancellation) and tears down every shard.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint64]*pendingEntry)
	m.mu.Unlock()

	for _, e := range pending {
		e.completion.Resolve(domain.InspectResult{}, domain.ErrShuttingDown)
	}

	for _, s := range m.shards {
		_ = s.Shutdown()
	}
}

// Stats merges the manager's counters with the latest per-shard snapshots
// and response-time percentiles (spec §4.4 Aggregation).
func (m *Manager) Stats() Stats {
	var shardStats []shard.Stats
	for _, s := range m.shards {
		select {
		case st := <-s.StatsCh():
			shardStats = append(shardStats, st)
		default:
		}
	}

	m.counters.Lock()
	counters := m.counters.Counters
	m.counters.Unlock()

	return Stats{
		Shards:   shardStats,
		Counters: counters,
		AllTime:  m.latency.AllTime(),
		Last5Min: m.latency.Window(),
	}
}

// managerCompletion is a single-resolution future, mirroring
// queue.Completion's shape without importing queue's Entry-specific
// bookkeeping.
type managerCompletion struct {
	done   chan struct{}
	once   sync.Once
	result domain.InspectResult
	err    error
}

func newManagerCompletion() *managerCompletion {
	return &managerCompletion{done: make(chan struct{})}
}

func (c *managerCompletion) Resolve(result domain.InspectResult, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// Percentiles holds p50/p95/p99 response-time latencies.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// latencyTracker keeps all-time and sliding-window (default 5-minute)
// samples for percentile computation (spec §3 FleetMetrics).
type latencyTracker struct {
	mu      sync.Mutex
	window  time.Duration
	allTime []time.Duration
	recent  []sample
}

type sample struct {
	at time.Time
	d  time.Duration
}

func newLatencyTracker(window time.Duration) *latencyTracker {
	return &latencyTracker{window: window}
}

func (t *latencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allTime = append(t.allTime, d)
	t.recent = append(t.recent, sample{at: time.Now(), d: d})
	t.prune()
}

func (t *latencyTracker) prune() {
	cutoff := time.Now().Add(-t.window)
	i := 0
	for i < len(t.recent) && t.recent[i].at.Before(cutoff) {
		i++
	}
	t.recent = t.recent[i:]
}

func (t *latencyTracker) AllTime() Percentiles {
	t.mu.Lock()
	defer t.mu.Unlock()
	return percentilesOf(t.allTime)
}

func (t *latencyTracker) Window() Percentiles {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	durs := make([]time.Duration, len(t.recent))
	for i, s := range t.recent {
		durs[i] = s.d
	}
	return percentilesOf(durs)
}

func percentilesOf(durs []time.Duration) Percentiles {
	if len(durs) == 0 {
		return Percentiles{}
	}
	sorted := append([]time.Duration(nil), durs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(p float64) time.Duration {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return Percentiles{P50: pick(0.50), P95: pick(0.95), P99: pick(0.99)}
}
