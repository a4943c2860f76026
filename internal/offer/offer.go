// Package offer implements the buyer/seller negotiation lifecycle.
//
// An offer moves through PENDING and COUNTERED until the seller accepts or
// declines it. Every response appends an immutable negotiation entry, and
// acceptance opens an escrow. All three writes commit in one transaction
// or not at all.
package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/escrow"
	"github.com/homeflowhq/homeflow/internal/idgen"
	"github.com/homeflowhq/homeflow/internal/metrics"
	"github.com/homeflowhq/homeflow/internal/notify"
	"github.com/homeflowhq/homeflow/internal/syncutil"
	"github.com/homeflowhq/homeflow/internal/traces"
)

var (
	ErrOfferNotFound         = errors.New("offer not found")
	ErrInvalidAmount         = errors.New("offer amount must not be negative")
	ErrCounterAmountRequired = errors.New("counter requires a positive amount")
	ErrInvalidAction         = errors.New("unknown offer action")
	ErrOfferResolved         = errors.New("offer already resolved")
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCountered Status = "COUNTERED"
	StatusAccepted  Status = "ACCEPTED"
	StatusDeclined  Status = "DECLINED"
)

// Terminal reports whether no further responses are allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// Action is a seller response to an offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCounter Action = "counter"
)

// Offer is a buyer's bid against a listing. Amount is an integer in the
// listing's currency with no minor units.
type Offer struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	BuyerID   string    `json:"buyer_id"`
	Amount    int64     `json:"amount"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Negotiation is an append-only audit entry for one response to an offer.
// Message encodes the action and, when one was involved, the amount, e.g.
// "ACCEPT" or "COUNTER:450000".
type Negotiation struct {
	ID        string    `json:"id"`
	OfferID   string    `json:"offer_id"`
	FromRole  auth.Role `json:"from_role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists offers and their negotiation history.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	ListByListing(ctx context.Context, listingID string) ([]*Offer, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*Offer, error)
	// History returns negotiation entries oldest first. An offer with no
	// responses yields an empty slice, not an error.
	History(ctx context.Context, offerID string) ([]*Negotiation, error)
	// ApplyResponse commits the offer update, the negotiation entry, and,
	// when e is non-nil, the new escrow as one atomic write. A failure of
	// any part leaves no partial effect.
	ApplyResponse(ctx context.Context, o *Offer, n *Negotiation, e *escrow.Escrow) error
}

// SubmitRequest contains the parameters for submitting an offer.
type SubmitRequest struct {
	ListingID string `json:"listing_id" binding:"required"`
	Amount    int64  `json:"amount"`
}

// RespondRequest contains the parameters for a seller response.
type RespondRequest struct {
	Action Action `json:"action" binding:"required"`
	Amount *int64 `json:"amount"`
}

// Service implements the offer lifecycle.
type Service struct {
	store  Store
	outbox *notify.Outbox
	locks  *syncutil.ContextShardedMutex // per-offer serialization of responses
}

// NewService creates a new offer service.
func NewService(store Store) *Service {
	return &Service{store: store, locks: syncutil.NewContextShardedMutex()}
}

// WithOutbox attaches the lifecycle event outbox.
func (s *Service) WithOutbox(o *notify.Outbox) *Service {
	s.outbox = o
	return s
}

// Submit creates a PENDING offer for a listing. Duplicate submissions are
// not merged; every call creates a new offer.
func (s *Service) Submit(ctx context.Context, buyerID string, req SubmitRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.submit")
	defer span.End()

	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	o := &Offer{
		ID:        idgen.WithPrefix("off"),
		ListingID: req.ListingID,
		BuyerID:   buyerID,
		Amount:    req.Amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	metrics.OffersSubmittedTotal.Inc()
	span.SetAttributes(attribute.String("offer.id", o.ID))
	return o, nil
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	return s.store.Get(ctx, id)
}

// ListByListing returns all offers made against a listing.
func (s *Service) ListByListing(ctx context.Context, listingID string) ([]*Offer, error) {
	return s.store.ListByListing(ctx, listingID)
}

// ListByBuyer returns all offers a buyer has submitted.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]*Offer, error) {
	return s.store.ListByBuyer(ctx, buyerID)
}

// Respond applies a seller action to an offer. ACCEPTED and DECLINED are
// terminal: responding to a resolved offer fails with ErrOfferResolved
// instead of overwriting it. On accept, the escrow is opened inside the
// same transaction as the offer update and audit entry.
func (s *Service) Respond(ctx context.Context, offerID string, actor *auth.Actor, req RespondRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.respond",
		trace.WithAttributes(
			attribute.String("offer.id", offerID),
			attribute.String("offer.action", string(req.Action)),
		))
	defer span.End()

	switch req.Action {
	case ActionAccept, ActionDecline:
	case ActionCounter:
		if req.Amount == nil || *req.Amount <= 0 {
			return nil, ErrCounterAmountRequired
		}
	default:
		return nil, ErrInvalidAction
	}

	unlock, err := s.locks.LockContext(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrOfferResolved
	}

	now := time.Now().UTC()
	switch req.Action {
	case ActionAccept:
		o.Status = StatusAccepted
	case ActionDecline:
		o.Status = StatusDeclined
	case ActionCounter:
		o.Status = StatusCountered
		o.Amount = *req.Amount
	}
	o.UpdatedAt = now

	n := &Negotiation{
		ID:        idgen.WithPrefix("neg"),
		OfferID:   o.ID,
		FromRole:  actor.Role,
		Message:   responseMessage(req.Action, req.Amount),
		CreatedAt: now,
	}

	var e *escrow.Escrow
	if req.Action == ActionAccept {
		e = escrow.NewEscrow(o.ID, o.BuyerID, actor.UserID)
	}

	if err := s.store.ApplyResponse(ctx, o, n, e); err != nil {
		return nil, err
	}

	metrics.OfferResponsesTotal.WithLabelValues(string(req.Action)).Inc()
	if e != nil {
		metrics.EscrowsOpenedTotal.Inc()
	}
	s.emitResponse(o, actor, req.Action, e)
	return o, nil
}

// History returns the negotiation trail for an offer, oldest first.
func (s *Service) History(ctx context.Context, offerID string) ([]*Negotiation, error) {
	entries, err := s.store.History(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*Negotiation{}
	}
	return entries, nil
}

// responseMessage encodes an action for the audit trail: the action
// uppercased, with ":amount" appended when an amount was involved.
func responseMessage(action Action, amount *int64) string {
	msg := strings.ToUpper(string(action))
	if amount != nil && *amount > 0 {
		msg = fmt.Sprintf("%s:%d", msg, *amount)
	}
	return msg
}

func (s *Service) emitResponse(o *Offer, actor *auth.Actor, action Action, e *escrow.Escrow) {
	if s.outbox == nil {
		return
	}

	var eventType string
	payload := map[string]any{
		"offer_id": o.ID,
		"buyer_id": o.BuyerID,
	}
	switch action {
	case ActionAccept:
		eventType = notify.EventOfferAccepted
		payload["amount"] = o.Amount
		payload["escrow_id"] = e.ID
	case ActionDecline:
		eventType = notify.EventOfferDeclined
	case ActionCounter:
		eventType = notify.EventOfferCountered
		payload["new_amount"] = o.Amount
	default:
		return
	}

	s.outbox.Enqueue(notify.Event{
		Type:    eventType,
		UserIDs: []string{o.BuyerID, actor.UserID},
		Payload: payload,
	})
}
