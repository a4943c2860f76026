package offer

import (
	"context"
	"sort"
	"sync"

	"github.com/homeflowhq/homeflow/internal/escrow"
)

// MemoryStore is an in-memory Store for development and tests. It shares
// the escrow memory store so accept responses commit across both.
type MemoryStore struct {
	mu           sync.RWMutex
	offers       map[string]*Offer
	negotiations map[string][]*Negotiation // by offer ID
	escrows      *escrow.MemoryStore
}

// NewMemoryStore creates an in-memory store writing escrows into escrows.
func NewMemoryStore(escrows *escrow.MemoryStore) *MemoryStore {
	return &MemoryStore{
		offers:       make(map[string]*Offer),
		negotiations: make(map[string][]*Negotiation),
		escrows:      escrows,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListByListing(ctx context.Context, listingID string) ([]*Offer, error) {
	return m.list(func(o *Offer) bool { return o.ListingID == listingID })
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string) ([]*Offer, error) {
	return m.list(func(o *Offer) bool { return o.BuyerID == buyerID })
}

func (m *MemoryStore) list(match func(*Offer) bool) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Offer
	for _, o := range m.offers {
		if match(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) History(ctx context.Context, offerID string) ([]*Negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.negotiations[offerID]
	out := make([]*Negotiation, len(entries))
	for i, n := range entries {
		cp := *n
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ApplyResponse validates every write before mutating anything so the
// commit is all-or-nothing, mirroring the transactional store.
func (m *MemoryStore) ApplyResponse(ctx context.Context, o *Offer, n *Negotiation, e *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.offers[o.ID]
	if !ok {
		return ErrOfferNotFound
	}

	if e != nil {
		m.escrows.Lock()
		defer m.escrows.Unlock()
		if m.escrows.HasOfferLocked(e.OfferID) {
			return escrow.ErrEscrowExists
		}
	}

	cur.Status = o.Status
	cur.Amount = o.Amount
	cur.UpdatedAt = o.UpdatedAt
	ncp := *n
	m.negotiations[o.ID] = append(m.negotiations[o.ID], &ncp)
	if e != nil {
		if err := m.escrows.CreateLocked(e); err != nil {
			return err
		}
	}
	return nil
}
