package listing

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

var _ Store = (*MemoryStore)(nil)

func copyListing(l *Listing) *Listing {
	cp := *l
	cp.Tags = append([]string(nil), l.Tags...)
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = copyListing(l)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return copyListing(l), nil
}

func (m *MemoryStore) Update(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.ID]; !ok {
		return ErrListingNotFound
	}
	m.listings[l.ID] = copyListing(l)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[id]; !ok {
		return ErrListingNotFound
	}
	delete(m.listings, id)
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, q Query) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text := strings.ToLower(q.Text)
	var out []*Listing
	for _, l := range m.listings {
		if text != "" &&
			!strings.Contains(strings.ToLower(l.Title), text) &&
			!strings.Contains(strings.ToLower(l.Description), text) {
			continue
		}
		if q.MinPrice > 0 && l.Price < q.MinPrice {
			continue
		}
		if q.MaxPrice > 0 && l.Price > q.MaxPrice {
			continue
		}
		out = append(out, copyListing(l))
	}

	// Newest first
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Cursor != nil {
		filtered := out[:0]
		for _, l := range out {
			if l.CreatedAt.Before(q.Cursor.CreatedAt) {
				filtered = append(filtered, l)
			}
		}
		out = filtered
	}
	if q.Limit > 0 && len(out) > q.Limit+1 {
		out = out[:q.Limit+1]
	}
	return out, nil
}
