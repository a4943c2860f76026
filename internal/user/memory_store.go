package user

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/homeflowhq/homeflow/internal/idgen"
)

// MemoryStore is an in-memory Store for development and tests. Anonymize
// scrubs only the user record; the offer and listing detachment is a
// cross-table write that only the transactional store performs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User  // by ID
	byEmail map[string]string // email -> ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Upsert(ctx context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byEmail[u.Email]; ok {
		cur := m.users[id]
		cur.FullName = u.FullName
		cur.Role = u.Role
		cur.UpdatedAt = time.Now().UTC()
		cp := *cur
		return &cp, nil
	}

	cp := *u
	cp.ID = idgen.WithPrefix("usr")
	m.users[cp.ID] = &cp
	m.byEmail[cp.Email] = cp.ID
	out := cp
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) Anonymize(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}

	delete(m.byEmail, u.Email)
	now := time.Now().UTC()
	u.Email = fmt.Sprintf("deleted_%s@example.com", id)
	u.FullName = "Deleted User"
	u.DeletedAt = &now
	u.UpdatedAt = now
	m.byEmail[u.Email] = id
	return nil
}
