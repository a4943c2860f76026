// Package escrow tracks the post-acceptance closing process for an offer.
//
// An escrow is opened automatically when a seller accepts an offer. Parties
// then attach closing documents (inspection reports, loan approvals, title
// work) and move the escrow through OPEN → IN_PROGRESS → CLOSED as the
// closing proceeds. Status transitions are not constrained: a closing can
// stall and reopen, so any known status may follow any other.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/homeflowhq/homeflow/internal/idgen"
	"github.com/homeflowhq/homeflow/internal/metrics"
	"github.com/homeflowhq/homeflow/internal/notify"
	"github.com/homeflowhq/homeflow/internal/syncutil"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrInvalidStatus  = errors.New("invalid escrow status")
	ErrEscrowExists   = errors.New("escrow already exists for offer")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusOpen       Status = "OPEN"        // Opened on offer acceptance
	StatusInProgress Status = "IN_PROGRESS" // Closing underway
	StatusClosed     Status = "CLOSED"      // Closing complete
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Escrow represents the closing process for an accepted offer.
// Buyer and seller are denormalized from the offer so delivery sinks can
// route notifications without a cross-package lookup.
type Escrow struct {
	ID        string      `json:"id"`
	OfferID   string      `json:"offer_id"`
	BuyerID   string      `json:"buyer_id"`
	SellerID  string      `json:"seller_id"`
	Status    Status      `json:"status"`
	Documents []*Document `json:"documents"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Document is a closing document attached to an escrow. Duplicate keys
// are allowed; revised versions of a document are common during closing.
type Document struct {
	ID         string    `json:"id"`
	EscrowID   string    `json:"escrow_id"`
	Name       string    `json:"name"`
	S3Key      string    `json:"s3_key"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists escrows and their documents.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// GetByOffer returns (nil, nil) when the offer has no escrow yet.
	GetByOffer(ctx context.Context, offerID string) (*Escrow, error)
	UpdateStatus(ctx context.Context, e *Escrow) error
	AddDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, escrowID string) ([]*Document, error)
}

// AddDocumentRequest contains the parameters for attaching a document.
type AddDocumentRequest struct {
	Name  string `json:"name" binding:"required"`
	S3Key string `json:"s3_key" binding:"required"`
}

// SetStatusRequest contains the parameters for a status update.
type SetStatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

// Service implements escrow business logic.
type Service struct {
	store  Store
	outbox *notify.Outbox
	locks  syncutil.ShardedMutex // per-escrow serialization of writes
}

// NewService creates a new escrow service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithOutbox attaches the lifecycle event outbox.
func (s *Service) WithOutbox(o *notify.Outbox) *Service {
	s.outbox = o
	return s
}

// NewEscrow builds an OPEN escrow record for an accepted offer. The caller
// persists it; offer acceptance writes it in the same transaction as the
// offer update.
func NewEscrow(offerID, buyerID, sellerID string) *Escrow {
	now := time.Now().UTC()
	return &Escrow{
		ID:        idgen.WithPrefix("esc"),
		OfferID:   offerID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns an escrow by ID with its documents attached.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.attachDocuments(ctx, e)
}

// GetByOffer returns the escrow for an offer with its documents attached,
// or (nil, nil) if the offer has not been accepted yet.
func (s *Service) GetByOffer(ctx context.Context, offerID string) (*Escrow, error) {
	e, err := s.store.GetByOffer(ctx, offerID)
	if err != nil || e == nil {
		return nil, err
	}
	return s.attachDocuments(ctx, e)
}

func (s *Service) attachDocuments(ctx context.Context, e *Escrow) (*Escrow, error) {
	docs, err := s.store.ListDocuments(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*Document{}
	}
	e.Documents = docs
	return e, nil
}

// AddDocument attaches a closing document to an escrow.
func (s *Service) AddDocument(ctx context.Context, escrowID, uploadedBy string, req AddDocumentRequest) (*Document, error) {
	unlock := s.locks.Lock(escrowID)
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:         idgen.WithPrefix("doc"),
		EscrowID:   e.ID,
		Name:       req.Name,
		S3Key:      req.S3Key,
		UploadedBy: uploadedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AddDocument(ctx, doc); err != nil {
		return nil, err
	}

	metrics.DocumentsAddedTotal.Inc()
	s.emit(notify.EventEscrowDocumentAdded, e, map[string]any{
		"escrow_id":   e.ID,
		"offer_id":    e.OfferID,
		"document_id": doc.ID,
		"name":        doc.Name,
	})
	return doc, nil
}

// ListDocuments returns the documents attached to an escrow, oldest first.
func (s *Service) ListDocuments(ctx context.Context, escrowID string) ([]*Document, error) {
	if _, err := s.store.Get(ctx, escrowID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, escrowID)
}

// SetStatus moves an escrow to the given status. Any known status may
// follow any other; only unknown statuses are rejected.
func (s *Service) SetStatus(ctx context.Context, escrowID string, status Status) (*Escrow, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	unlock := s.locks.Lock(escrowID)
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	from := e.Status
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateStatus(ctx, e); err != nil {
		return nil, err
	}

	metrics.EscrowStatusChangesTotal.WithLabelValues(string(status)).Inc()
	s.emit(notify.EventEscrowStatusChanged, e, map[string]any{
		"escrow_id": e.ID,
		"offer_id":  e.OfferID,
		"from":      from,
		"to":        status,
	})
	return e, nil
}

func (s *Service) emit(eventType string, e *Escrow, payload map[string]any) {
	if s.outbox == nil {
		return
	}
	s.outbox.Enqueue(notify.Event{
		Type:    eventType,
		UserIDs: []string{e.BuyerID, e.SellerID},
		Payload: payload,
	})
}
