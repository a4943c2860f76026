// Package listing manages seller property listings and search.
package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/homeflowhq/homeflow/internal/idgen"
	"github.com/homeflowhq/homeflow/internal/metrics"
	"github.com/homeflowhq/homeflow/internal/notify"
	"github.com/homeflowhq/homeflow/internal/pagination"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrInvalidPrice    = errors.New("listing price must not be negative")
	ErrNotOwner        = errors.New("listing belongs to another seller")
)

// Listing is a seller-owned property record. Price is an integer in the
// platform currency with no minor units.
type Listing struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Query filters a listing search. Zero values mean "no constraint".
type Query struct {
	Text     string
	MinPrice int64
	MaxPrice int64
	Cursor   *pagination.Cursor
	Limit    int
}

// Store persists listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	Delete(ctx context.Context, id string) error
	// Search returns newest-first matches, fetching up to Limit+1 rows so
	// the caller can compute the next page cursor.
	Search(ctx context.Context, q Query) ([]*Listing, error)
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description" binding:"required"`
	Price       int64    `json:"price"`
	Tags        []string `json:"tags"`
}

// UpdateRequest contains the parameters for a partial listing update.
type UpdateRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *int64   `json:"price"`
	Tags        []string `json:"tags"`
}

// Service implements listing business logic.
type Service struct {
	store  Store
	outbox *notify.Outbox
}

// NewService creates a new listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithOutbox attaches the lifecycle event outbox.
func (s *Service) WithOutbox(o *notify.Outbox) *Service {
	s.outbox = o
	return s
}

// Create adds a listing. When no tags are supplied they are derived from
// the description.
func (s *Service) Create(ctx context.Context, sellerID string, req CreateRequest) (*Listing, error) {
	if req.Price < 0 {
		return nil, ErrInvalidPrice
	}

	tags := req.Tags
	if len(tags) == 0 {
		tags = SuggestTags(req.Description)
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:          idgen.WithPrefix("lst"),
		SellerID:    sellerID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}

	metrics.ListingsCreatedTotal.Inc()
	if s.outbox != nil {
		s.outbox.Enqueue(notify.Event{
			Type:    notify.EventListingCreated,
			UserIDs: []string{sellerID},
			Payload: map[string]any{
				"listing_id": l.ID,
				"title":      l.Title,
				"price":      l.Price,
			},
		})
	}
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Update applies a partial edit to a seller's own listing. When the
// description changes and no tags are supplied, tags are re-derived.
func (s *Service) Update(ctx context.Context, id, sellerID string, req UpdateRequest) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotOwner
	}

	if req.Price != nil {
		if *req.Price < 0 {
			return nil, ErrInvalidPrice
		}
		l.Price = *req.Price
	}
	if req.Title != nil {
		l.Title = *req.Title
	}
	if req.Description != nil {
		l.Description = *req.Description
		if len(req.Tags) == 0 {
			l.Tags = SuggestTags(*req.Description)
		}
	}
	if len(req.Tags) > 0 {
		l.Tags = req.Tags
	}
	l.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Delete removes a seller's own listing. Hard delete; offers referencing
// the listing keep their rows.
func (s *Service) Delete(ctx context.Context, id, sellerID string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.SellerID != sellerID {
		return ErrNotOwner
	}
	return s.store.Delete(ctx, id)
}

// Search returns listings matching the query, newest first, with an
// opaque cursor for the next page.
func (s *Service) Search(ctx context.Context, q Query) ([]*Listing, string, bool, error) {
	q.Limit = pagination.ClampLimit(q.Limit)
	items, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, "", false, err
	}
	items, next, more := pagination.ComputePage(items, q.Limit, func(l *Listing) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	if items == nil {
		items = []*Listing{}
	}
	return items, next, more, nil
}

// tagKeywords are matched against descriptions to derive listing tags.
var tagKeywords = []string{"cozy", "spacious", "modern", "updated", "downtown", "garden", "garage", "pool"}

// SuggestTags derives up to five tags from free-form listing text.
func SuggestTags(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
			if len(tags) == 5 {
				break
			}
		}
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}
