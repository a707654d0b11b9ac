package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps accounts in process memory. It backs the development
// backend when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]Account{}}
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(account.Email)
	for _, a := range s.accounts {
		if a.Email == email {
			return ErrAccountExists
		}
	}
	account.ID = uuid.NewString()
	account.Email = email
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; !ok {
		return ErrUserNotFound
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) CompleteOnboarding(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	a.markOnboarded()
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return &a, nil
}

func (s *MemoryStore) SetLocked(_ context.Context, id string, locked bool) error {
	return s.update(id, func(a *Account) { a.AccountLocked = locked })
}

func (s *MemoryStore) SetExpired(_ context.Context, id string, expired bool) error {
	return s.update(id, func(a *Account) { a.AccountExpired = expired })
}

func (s *MemoryStore) update(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(&a)
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}
