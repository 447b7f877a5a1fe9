// Package coordinator implements the Inspect Coordinator from spec §4.5:
// the public entry point that consults the cache, drives the Worker
// Manager, persists the result, classifies the history event, and returns
// a formatted response.
package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/cache"
	"github.com/cs2inspect/gateway/internal/domain"
	"github.com/cs2inspect/gateway/internal/events"
	"github.com/cs2inspect/gateway/internal/formatter"
	"github.com/cs2inspect/gateway/internal/history"
	"github.com/cs2inspect/gateway/internal/manager"
	"github.com/cs2inspect/gateway/internal/queue"
	"github.com/cs2inspect/gateway/internal/store/postgres"
)

// Dispatcher is the subset of the Worker Manager the coordinator depends
// on, narrowed for testability.
type Dispatcher interface {
	Inspect(ctx context.Context, owner, assetID, proof, marketID uint64) (domain.InspectResult, error)
	IncrementCached()
}

var _ Dispatcher = (*manager.Manager)(nil)

// Outcome is the coordinator's result for one inspectItem call: exactly one
// of Item or Accepted is populated on success, Err otherwise.
type Outcome struct {
	Item     *formatter.ItemInfo
	Accepted *formatter.Accepted
	Err      error
}

// Config bundles the coordinator's own timing knob.
type Config struct {
	QueueTimeout time.Duration
	MaxQueueSize int
	AllowRefresh bool
}

// Coordinator ties the admission queue, dispatcher, cache, persistence and
// event bridge together behind a single inspectItem entry point.
type Coordinator struct {
	cfg        Config
	dispatcher Dispatcher
	cache      *cache.Cache
	store      *postgres.Store
	bridge     *events.Bridge
	log        zerolog.Logger

	admission *queue.Queue
}

// New wires a Coordinator. bridge may be nil if the event bridge is
// disabled.
func New(cfg Config, dispatcher Dispatcher, c *cache.Cache, store *postgres.Store, bridge *events.Bridge, log zerolog.Logger) *Coordinator {
	co := &Coordinator{
		cfg:        cfg,
		dispatcher: dispatcher,
		cache:      c,
		store:      store,
		bridge:     bridge,
		log:        log,
	}
	co.admission = queue.New(cfg.MaxQueueSize, cfg.QueueTimeout, nil)
	return co
}

// Shutdown resolves every resident admission-queue entry with
// ErrShuttingDown (spec §5 Cancellation) without dispatching it. Already
// in-flight bot operations are left to finish and are discarded on
// completion, per the Open Questions note on destroy() semantics.
func (co *Coordinator) Shutdown() {
	for {
		e := co.admission.Pop()
		if e == nil {
			return
		}
		e.Completion.Resolve(domain.InspectResult{}, domain.ErrShuttingDown)
	}
}

// InspectItem implements the §4.5 flow.
func (co *Coordinator) InspectItem(ctx context.Context, d domain.InspectDescriptor) Outcome {
	if err := d.Validate(); err != nil {
		return Outcome{Err: err}
	}

	refresh := d.Refresh && co.cfg.AllowRefresh
	if !refresh {
		if rec := co.cache.Lookup(ctx, d.AssetID); rec != nil {
			co.dispatcher.IncrementCached()
			item := formatter.FromAsset(*rec)
			return Outcome{Item: &item}
		}
	}

	if co.admission.IsFull() {
		return Outcome{Err: domain.ErrQueueFull}
	}

	priority := domain.PriorityNormal
	if d.LowPriority {
		priority = domain.PriorityLow
	}

	completion, result := co.admission.Add(d.AssetID, d.Owner, d.Proof, d.MarketID, priority)
	if result == queue.Added {
		co.log.Debug().Str("request_id", completion.RequestID().String()).Uint64("asset_id", d.AssetID).Msg("admitted inspect request")
		go co.drive(d, completion)
	}

	if !d.Reply {
		return Outcome{Accepted: &formatter.Accepted{Accepted: true, AssetID: d.AssetID}}
	}

	res, err := completion.Wait(completion.Done())
	if err != nil {
		return Outcome{Err: err}
	}

	item, err := co.finalize(ctx, d, res)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Item: &item}
}

// drive performs the actual dispatch for one admitted, non-coalesced
// entry, resolving its completion exactly once. Reply-path waiters
// finalize (persist/classify/format) themselves once Wait returns;
// fire-and-forget requests never call Wait, so drive finalizes on their
// behalf here.
func (co *Coordinator) drive(d domain.InspectDescriptor, completion *queue.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), co.cfg.QueueTimeout)
	defer cancel()
	defer co.admission.Remove(d.AssetID)

	res, err := co.dispatcher.Inspect(ctx, d.Owner, d.AssetID, d.Proof, d.MarketID)
	completion.Resolve(res, err)

	// Shutdown or queue expiry may have resolved the completion first; the
	// result is then discarded rather than persisted.
	if _, cerr := completion.Wait(completion.Done()); err == nil && cerr == nil && !d.Reply {
		if _, ferr := co.finalize(context.Background(), d, res); ferr != nil {
			co.log.Warn().Err(ferr).Uint64("asset_id", d.AssetID).Msg("background finalize failed")
		}
	}
}

// finalize derives the uniqueId, upserts the asset, classifies and appends
// history, formats the response and refreshes the cache (spec §4.5 step 6).
func (co *Coordinator) finalize(ctx context.Context, d domain.InspectDescriptor, res domain.InspectResult) (formatter.ItemInfo, error) {
	res.ItemID = d.AssetID
	uniqueID := domain.UniqueID(res)

	prior, err := co.store.FindPriorAsset(ctx, uniqueID)
	if err != nil {
		return formatter.ItemInfo{}, domain.ErrPersistenceUnavailable
	}

	rec := domain.AssetRecord{
		UniqueID:   uniqueID,
		AssetID:    d.AssetID,
		DefIndex:   res.DefIndex,
		PaintIndex: res.PaintIndex,
		PaintSeed:  res.PaintSeed,
		PaintWear:  res.PaintWear,
		Rarity:     res.Rarity,
		Origin:     res.Origin,
		QuestID:    res.QuestID,
		Owner:      res.Owner,
		Stickers:   res.Stickers,
		Keychains:  res.Keychains,
		UpdatedAt:  time.Now(),
	}
	if err := co.store.UpsertAsset(ctx, rec); err != nil {
		return formatter.ItemInfo{}, domain.ErrPersistenceUnavailable
	}

	eventType := history.Classify(res, prior)
	if eventType != "" {
		hrec := domain.HistoryRecord{
			UniqueID:  uniqueID,
			AssetID:   d.AssetID,
			Type:      eventType,
			Owner:     res.Owner,
			CreatedAt: time.Now(),
		}
		if err := co.store.InsertHistory(ctx, hrec); err != nil {
			co.log.Warn().Err(err).Str("unique_id", uniqueID).Msg("failed to append history row")
		} else if co.bridge != nil {
			co.bridge.PublishHistoryAppended(events.HistoryAppended{HistoryRecord: hrec})
		}
	}

	co.cache.Store(ctx, rec)
	if co.bridge != nil {
		co.bridge.PublishInspectCompleted(events.InspectCompleted{
			UniqueID: uniqueID,
			AssetID:  d.AssetID,
			Owner:    res.Owner,
			Result:   res,
		})
	}

	return formatter.FromResult(res, uniqueID), nil
}
