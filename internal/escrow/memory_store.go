package escrow

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow   // by escrow ID
	byOffer map[string]string    // offer ID -> escrow ID
	docs    map[string][]*Document // by escrow ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		byOffer: make(map[string]string),
		docs:    make(map[string][]*Document),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateLocked(e)
}

// CreateLocked inserts without taking the lock. Used by the offer memory
// store to commit an escrow inside its own critical section.
func (m *MemoryStore) CreateLocked(e *Escrow) error {
	if _, exists := m.byOffer[e.OfferID]; exists {
		return ErrEscrowExists
	}
	cp := *e
	m.escrows[e.ID] = &cp
	m.byOffer[e.OfferID] = e.ID
	return nil
}

// HasOfferLocked reports whether an escrow exists for the offer. Caller
// must hold the lock.
func (m *MemoryStore) HasOfferLocked(offerID string) bool {
	_, ok := m.byOffer[offerID]
	return ok
}

// Lock exposes the store mutex so a sibling store can make a cross-store
// write appear atomic in memory mode.
func (m *MemoryStore) Lock()   { m.mu.Lock() }
func (m *MemoryStore) Unlock() { m.mu.Unlock() }

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByOffer(ctx context.Context, offerID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byOffer[offerID]
	if !ok {
		return nil, nil
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.escrows[e.ID]
	if !ok {
		return ErrEscrowNotFound
	}
	cur.Status = e.Status
	cur.UpdatedAt = e.UpdatedAt
	return nil
}

func (m *MemoryStore) AddDocument(ctx context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[d.EscrowID]; !ok {
		return ErrEscrowNotFound
	}
	cp := *d
	m.docs[d.EscrowID] = append(m.docs[d.EscrowID], &cp)
	return nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, escrowID string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.docs[escrowID]
	out := make([]*Document, len(docs))
	for i, d := range docs {
		cp := *d
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
