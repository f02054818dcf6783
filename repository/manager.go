package repository

import (
	"context"
	"errors"
	"log"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Manager groups the Bun repositories and implements accounts.Stores.
type Manager struct {
	db          *bun.DB
	accounts    *AccountRepository
	resetTokens *ResetTokenRepository
}

var _ accounts.Stores = (*Manager)(nil)

// NewRepositoryManager wires every repository to db.
func NewRepositoryManager(db *bun.DB) *Manager {
	return &Manager{
		db:          db,
		accounts:    NewAccountRepository(db),
		resetTokens: NewResetTokenRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.resetTokens == nil {
		return errors.New("repository resetTokens should be initialized")
	}

	for _, v := range []any{m.accounts.accounts, m.accounts.profiles, m.resetTokens.tokens} {
		if validator, ok := v.(repository.Validator); ok {
			if err := validator.Validate(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx runs f with stores bound to one transaction. The transaction rolls
// back when f returns an error.
func (m *Manager) RunInTx(ctx context.Context, f func(ctx context.Context, stores accounts.Stores) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return f(ctx, txStores{
				accounts:    m.accounts.withTx(tx),
				resetTokens: m.resetTokens.withTx(tx),
			})
		})
	}
}

func (m *Manager) Accounts() accounts.AccountStore {
	return m.accounts
}

func (m *Manager) ResetTokens() accounts.ResetTokenRepository {
	return m.resetTokens
}

// Ping reports whether the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

type txStores struct {
	accounts    *AccountRepository
	resetTokens *ResetTokenRepository
}

func (s txStores) Accounts() accounts.AccountStore            { return s.accounts }
func (s txStores) ResetTokens() accounts.ResetTokenRepository { return s.resetTokens }

// RunInTx joins the enclosing transaction.
func (s txStores) RunInTx(ctx context.Context, f func(ctx context.Context, stores accounts.Stores) error) error {
	return f(ctx, s)
}
