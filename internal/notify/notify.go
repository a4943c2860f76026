// Package notify carries lifecycle events from the write path to delivery
// sinks (webhooks, realtime) without blocking request handlers.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/homeflowhq/homeflow/internal/idgen"
	"github.com/homeflowhq/homeflow/internal/metrics"
)

// Event types emitted by the marketplace core.
const (
	EventOfferAccepted       = "offer.accepted"
	EventOfferDeclined       = "offer.declined"
	EventOfferCountered      = "offer.countered"
	EventEscrowDocumentAdded = "escrow.document_added"
	EventEscrowStatusChanged = "escrow.status_changed"
	EventListingCreated      = "listing.created"
)

// Event is a lifecycle notification. UserIDs names the parties the event
// concerns; sinks decide how to fan it out.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserIDs   []string       `json:"-"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink delivers events to some destination. Deliver must not block for
// long; slow destinations should queue internally.
type Sink interface {
	Deliver(ctx context.Context, ev Event)
}

// Outbox is a bounded in-process event queue with a single worker that
// fans events out to the registered sinks. Enqueue never blocks; events
// are dropped (and counted) when the queue is full.
type Outbox struct {
	queue chan Event
	sinks []Sink
	log   *slog.Logger
}

// NewOutbox creates an outbox with the given queue depth.
func NewOutbox(buffer int, log *slog.Logger, sinks ...Sink) *Outbox {
	if buffer <= 0 {
		buffer = 256
	}
	return &Outbox{
		queue: make(chan Event, buffer),
		sinks: sinks,
		log:   log,
	}
}

// Enqueue adds an event to the queue. It assigns the event ID and
// timestamp. Returns false if the queue was full and the event dropped.
func (o *Outbox) Enqueue(ev Event) bool {
	ev.ID = idgen.WithPrefix("evt")
	ev.CreatedAt = time.Now().UTC()

	select {
	case o.queue <- ev:
		metrics.OutboxEventsTotal.WithLabelValues(ev.Type).Inc()
		return true
	default:
		metrics.OutboxDroppedTotal.Inc()
		o.log.Warn("outbox full, dropping event", "type", ev.Type)
		return false
	}
}

// Depth returns the current number of queued events.
func (o *Outbox) Depth() int {
	return len(o.queue)
}

// Run drains the queue until ctx is cancelled. Call in a goroutine.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.queue:
			for _, s := range o.sinks {
				s.Deliver(ctx, ev)
			}
		}
	}
}
