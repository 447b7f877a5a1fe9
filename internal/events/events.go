// Package events is the optional downstream event bridge: a fire-and-forget
// publisher for completed inspects and history events, grounded in the
// ForwardProduce/StreamEvent pipeline this project's core borrows its
// manager idiom from. Disabled by default; failures are logged, never
// surfaced to the caller (spec "optional price-feed ping" collaborator,
// generalized to any subscriber).
package events

import (
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cs2inspect/gateway/internal/domain"
)

const bufferSize = 256

// StreamEvent is the wire envelope published to the configured channel.
type StreamEvent struct {
	Type string      `msgpack:"i"`
	Data interface{} `msgpack:"d"`
}

// InspectCompleted is published whenever an inspect finishes successfully.
type InspectCompleted struct {
	UniqueID string               `msgpack:"unique_id"`
	AssetID  uint64               `msgpack:"asset_id"`
	Owner    string               `msgpack:"owner"`
	Result   domain.InspectResult `msgpack:"result"`
}

// HistoryAppended is published whenever the classifier records a new
// history row.
type HistoryAppended struct {
	domain.HistoryRecord
}

// Bridge connects to NATS Streaming and forwards StreamEvents published to
// its internal channel, matching the teacher's produce-channel/
// ForwardProduce split.
type Bridge struct {
	enabled bool
	log     zerolog.Logger
	channel string

	produce chan StreamEvent

	nc *nats.Conn
	sc stan.Conn
}

// Config bundles the NATS/STAN connection parameters.
type Config struct {
	Enabled   bool
	Address   string
	ClusterID string
	ClientID  string
	Channel   string
}

// New constructs a Bridge. If cfg.Enabled is false, Publish* calls are
// no-ops and Run returns at once (spec default EVENTS_ENABLED=false).
func New(cfg Config, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		enabled: cfg.Enabled,
		log:     log,
		channel: cfg.Channel,
		produce: make(chan StreamEvent, bufferSize),
	}
	if !cfg.Enabled {
		return b, nil
	}

	nc, err := nats.Connect(cfg.Address)
	if err != nil {
		return nil, err
	}
	sc, err := stan.Connect(cfg.ClusterID, cfg.ClientID, stan.NatsConn(nc))
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.nc = nc
	b.sc = sc
	return b, nil
}

// Run drains the produce channel and publishes to STAN until the channel is
// closed. Intended to run in its own goroutine for the process lifetime.
func (b *Bridge) Run() {
	if !b.enabled {
		return
	}
	for e := range b.produce {
		payload, err := msgpack.Marshal(e)
		if err != nil {
			b.log.Warn().Err(err).Str("type", e.Type).Msg("failed to marshal stream event")
			continue
		}
		if err := b.sc.Publish(b.channel, payload); err != nil {
			b.log.Warn().Err(err).Str("type", e.Type).Msg("failed to publish stream event")
		}
	}
}

// PublishInspectCompleted forwards a completed inspect, best-effort.
func (b *Bridge) PublishInspectCompleted(e InspectCompleted) {
	b.enqueue("inspect_completed", e)
}

// PublishHistoryAppended forwards a new history row, best-effort.
func (b *Bridge) PublishHistoryAppended(e HistoryAppended) {
	b.enqueue("history_appended", e)
}

func (b *Bridge) enqueue(eventType string, data interface{}) {
	if !b.enabled {
		return
	}
	se := StreamEvent{Type: eventType, Data: data}
	select {
	case b.produce <- se:
	default:
		b.log.Warn().Str("type", eventType).Msg("event bridge backpressured, dropping")
	}
}

// Close closes the produce channel, which ends Run once it has read the
// buffered events, and tears down the STAN/NATS connections. It does not
// wait for Run to publish the events still buffered.
func (b *Bridge) Close() {
	if !b.enabled {
		return
	}
	close(b.produce)
	if b.sc != nil {
		_ = b.sc.Close()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
