package accounts_test

import (
	"context"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAccountStore implements accounts.AccountStore
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) Create(ctx context.Context, account *accounts.Account, profile *accounts.Profile) (*accounts.Account, error) {
	args := m.Called(ctx, account, profile)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	args := m.Called(ctx, id)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	args := m.Called(ctx, email)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) GetProfile(ctx context.Context, userID uuid.UUID) (*accounts.Profile, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Update(ctx context.Context, account *accounts.Account, expectedVersion int64) (*accounts.Account, error) {
	args := m.Called(ctx, account, expectedVersion)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) UpdateProfile(ctx context.Context, profile *accounts.Profile) (*accounts.Profile, error) {
	args := m.Called(ctx, profile)
	if res := args.Get(0); res != nil {
		return res.(*accounts.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	args := m.Called(ctx, id, expectedVersion)
	return args.Error(0)
}

// MockResetTokenRepository implements accounts.ResetTokenRepository
type MockResetTokenRepository struct {
	mock.Mock
}

func (m *MockResetTokenRepository) Create(ctx context.Context, token *accounts.ResetToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockResetTokenRepository) Get(ctx context.Context, digest string) (*accounts.ResetToken, error) {
	args := m.Called(ctx, digest)
	if res := args.Get(0); res != nil {
		return res.(*accounts.ResetToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockResetTokenRepository) MarkUsed(ctx context.Context, digest string, now time.Time) (bool, error) {
	args := m.Called(ctx, digest, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockResetTokenRepository) RevokeOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	args := m.Called(ctx, userID, now)
	return args.Int(0), args.Error(1)
}

// stubStores combines arbitrary repositories into accounts.Stores. RunInTx
// runs f against the same repositories without isolation.
type stubStores struct {
	accountStore accounts.AccountStore
	tokenRepo    accounts.ResetTokenRepository
}

func (s *stubStores) Accounts() accounts.AccountStore            { return s.accountStore }
func (s *stubStores) ResetTokens() accounts.ResetTokenRepository { return s.tokenRepo }

func (s *stubStores) RunInTx(ctx context.Context, f func(ctx context.Context, stores accounts.Stores) error) error {
	return f(ctx, s)
}
