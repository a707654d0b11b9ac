package user

import "context"

// MockStore provides customizable hooks for testing Store consumers.
type MockStore struct {
	GetAccountByIDFunc     func(ctx context.Context, id string) (*Account, error)
	GetAccountByEmailFunc  func(ctx context.Context, email string) (*Account, error)
	CreateAccountFunc      func(ctx context.Context, account *Account) error
	UpdateAccountFunc      func(ctx context.Context, account *Account) error
	DeleteAccountFunc      func(ctx context.Context, id string) error
	CompleteOnboardingFunc func(ctx context.Context, id string) (*Account, error)
	SetLockedFunc          func(ctx context.Context, id string, locked bool) error
	SetExpiredFunc         func(ctx context.Context, id string, expired bool) error
}

var _ Store = (*MockStore)(nil)

// GetAccountByID calls GetAccountByIDFunc if set, otherwise returns ErrUserNotFound
func (m *MockStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	if m.GetAccountByIDFunc != nil {
		return m.GetAccountByIDFunc(ctx, id)
	}
	return nil, ErrUserNotFound
}

// GetAccountByEmail calls GetAccountByEmailFunc if set, otherwise returns ErrUserNotFound
func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	if m.GetAccountByEmailFunc != nil {
		return m.GetAccountByEmailFunc(ctx, email)
	}
	return nil, ErrUserNotFound
}

func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, account)
	}
	return nil
}

func (m *MockStore) UpdateAccount(ctx context.Context, account *Account) error {
	if m.UpdateAccountFunc != nil {
		return m.UpdateAccountFunc(ctx, account)
	}
	return nil
}

func (m *MockStore) DeleteAccount(ctx context.Context, id string) error {
	if m.DeleteAccountFunc != nil {
		return m.DeleteAccountFunc(ctx, id)
	}
	return nil
}

func (m *MockStore) CompleteOnboarding(ctx context.Context, id string) (*Account, error) {
	if m.CompleteOnboardingFunc != nil {
		return m.CompleteOnboardingFunc(ctx, id)
	}
	return nil, ErrUserNotFound
}

func (m *MockStore) SetLocked(ctx context.Context, id string, locked bool) error {
	if m.SetLockedFunc != nil {
		return m.SetLockedFunc(ctx, id, locked)
	}
	return nil
}

func (m *MockStore) SetExpired(ctx context.Context, id string, expired bool) error {
	if m.SetExpiredFunc != nil {
		return m.SetExpiredFunc(ctx, id, expired)
	}
	return nil
}
