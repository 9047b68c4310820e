package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development mode and tests.
// A single mutex makes the active-email uniqueness check and insert atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*User
	active map[string]string // email_norm -> user id, active users only
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*User),
		active: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.MemoryStore.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Email:        in.Email,
		EmailNorm:    NormalizeEmail(in.Email),
		Username:     in.Username,
		Phone:        in.Phone,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
		Lifecycle:    Active(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.active[u.EmailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = &u
	s.active[u.EmailNorm] = u.ID

	return u, nil
}

// GetActiveByEmail implements Store.
func (s *MemoryStore) GetActiveByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.MemoryStore.GetActiveByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return *s.byID[id], nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.MemoryStore.GetByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return *u, nil
}

// TouchLastSeen implements Store.
func (s *MemoryStore) TouchLastSeen(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.byID[id]; ok {
		t := now.UTC()
		u.LastSeenAt = &t
	}
	return nil
}

// SoftDelete implements Store.
func (s *MemoryStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const op = "identity.MemoryStore.SoftDelete"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if !u.Lifecycle.IsActive() {
		return nil
	}
	u.Lifecycle = Deleted(now)
	if s.active[u.EmailNorm] == u.ID {
		delete(s.active, u.EmailNorm)
	}
	return nil
}
