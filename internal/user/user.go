// Package user manages platform accounts and GDPR-style anonymization.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homeflowhq/homeflow/internal/auth"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidRole  = errors.New("unknown user role")
)

// User is a platform account. Email is unique.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      auth.Role  `json:"role"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store persists users.
type Store interface {
	// Upsert inserts a user keyed by email, or updates the full name and
	// role of the existing account with that email.
	Upsert(ctx context.Context, u *User) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Anonymize scrubs the user's PII and detaches their offers and
	// listings, atomically where the backend supports it.
	Anonymize(ctx context.Context, id string) error
}

// UpsertRequest contains the parameters for registering or updating a user.
type UpsertRequest struct {
	Email    string    `json:"email" binding:"required"`
	FullName string    `json:"full_name" binding:"required"`
	Role     auth.Role `json:"role" binding:"required"`
}

// Service implements user account logic.
type Service struct {
	store Store
	auth  *auth.Manager
}

// NewService creates a new user service.
func NewService(store Store, authm *auth.Manager) *Service {
	return &Service{store: store, auth: authm}
}

// Upsert registers a user or refreshes an existing account's name and
// role, and returns the account with a fresh access token.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*User, string, error) {
	if !req.Role.Valid() {
		return nil, "", ErrInvalidRole
	}

	now := time.Now().UTC()
	u := &User{
		Email:     req.Email,
		FullName:  req.FullName,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u, err := s.store.Upsert(ctx, u)
	if err != nil {
		return nil, "", fmt.Errorf("upsert user: %w", err)
	}

	token, err := s.auth.Issue(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// GetByEmail returns a user by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.GetByEmail(ctx, email)
}

// Anonymize scrubs an account: the email and name are replaced, the
// deletion is timestamped, and the user's offers and listings are
// detached from their identity.
func (s *Service) Anonymize(ctx context.Context, id string) error {
	return s.store.Anonymize(ctx, id)
}
