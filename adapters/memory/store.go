// Package memory provides an in-process implementation of the account stores.
// It is safe for concurrent use and honors the same compare-and-swap
// contract as the SQL repositories.
package memory

import (
	"context"
	"sync"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
)

type state struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*accounts.Account
	emails   map[string]uuid.UUID
	profiles map[uuid.UUID]*accounts.Profile
	tokens   map[string]*accounts.ResetToken
}

// snapshot deep copies every map. The caller holds the write lock.
func (st *state) snapshot() *state {
	c := &state{
		accounts: make(map[uuid.UUID]*accounts.Account, len(st.accounts)),
		emails:   make(map[string]uuid.UUID, len(st.emails)),
		profiles: make(map[uuid.UUID]*accounts.Profile, len(st.profiles)),
		tokens:   make(map[string]*accounts.ResetToken, len(st.tokens)),
	}
	for id, a := range st.accounts {
		c.accounts[id] = a.Clone()
	}
	for email, id := range st.emails {
		c.emails[email] = id
	}
	for id, p := range st.profiles {
		c.profiles[id] = p.Clone()
	}
	for digest, t := range st.tokens {
		c.tokens[digest] = t.Clone()
	}
	return c
}

// restore puts back the maps of a snapshot. The caller holds the write lock.
func (st *state) restore(from *state) {
	st.accounts = from.accounts
	st.emails = from.emails
	st.profiles = from.profiles
	st.tokens = from.tokens
}

// Store keeps accounts, profiles and reset tokens in maps guarded by one mutex.
// Reset token records outlive the account they were issued for.
type Store struct {
	*state
	// inTx is set on the view handed to RunInTx callbacks, which already
	// hold the write lock.
	inTx bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: &state{
		accounts: make(map[uuid.UUID]*accounts.Account),
		emails:   make(map[string]uuid.UUID),
		profiles: make(map[uuid.UUID]*accounts.Profile),
		tokens:   make(map[string]*accounts.ResetToken),
	}}
}

var (
	_ accounts.Stores               = (*Store)(nil)
	_ accounts.AccountStore         = accountStore{}
	_ accounts.ResetTokenRepository = resetTokenStore{}
)

// Accounts implements accounts.Stores.
func (s *Store) Accounts() accounts.AccountStore { return accountStore{s} }

// ResetTokens implements accounts.Stores.
func (s *Store) ResetTokens() accounts.ResetTokenRepository { return resetTokenStore{s} }

// RunInTx implements accounts.Stores. The write lock is held for the whole
// callback so other callers never observe partial writes, and every change
// is reverted when f fails. Nested calls join the running transaction.
func (s *Store) RunInTx(ctx context.Context, f func(ctx context.Context, stores accounts.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return f(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot()
	if err := f(ctx, &Store{state: s.state, inTx: true}); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (s *Store) rlock() {
	if !s.inTx {
		s.mu.RLock()
	}
}

func (s *Store) runlock() {
	if !s.inTx {
		s.mu.RUnlock()
	}
}

type accountStore struct{ *Store }

func (s accountStore) Create(ctx context.Context, account *accounts.Account, profile *accounts.Profile) (*accounts.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lock()
	defer s.unlock()

	email := accounts.NormalizeEmail(account.Email)
	if _, taken := s.emails[email]; taken {
		return nil, accounts.ErrDuplicateEmail
	}

	stored := account.Clone()
	stored.Email = email
	stored.Version = 1
	s.accounts[stored.ID] = stored
	s.emails[email] = stored.ID

	if profile != nil {
		p := profile.Clone()
		p.UserID = stored.ID
		s.profiles[stored.ID] = p
	} else {
		s.profiles[stored.ID] = &accounts.Profile{UserID: stored.ID, UpdatedAt: stored.CreatedAt}
	}

	return stored.Clone(), nil
}

func (s accountStore) GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.rlock()
	defer s.runlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return account.Clone(), nil
}

func (s accountStore) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.rlock()
	defer s.runlock()

	id, ok := s.emails[accounts.NormalizeEmail(email)]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s accountStore) GetProfile(ctx context.Context, userID uuid.UUID) (*accounts.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.rlock()
	defer s.runlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return profile.Clone(), nil
}

func (s accountStore) Update(ctx context.Context, account *accounts.Account, expectedVersion int64) (*accounts.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lock()
	defer s.unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, accounts.ErrConcurrentModification
	}

	email := accounts.NormalizeEmail(account.Email)
	if email != current.Email {
		if owner, taken := s.emails[email]; taken && owner != current.ID {
			return nil, accounts.ErrDuplicateEmail
		}
		delete(s.emails, current.Email)
		s.emails[email] = current.ID
	}

	next := account.Clone()
	next.Email = email
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	s.accounts[next.ID] = next

	return next.Clone(), nil
}

func (s accountStore) UpdateProfile(ctx context.Context, profile *accounts.Profile) (*accounts.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lock()
	defer s.unlock()

	if _, ok := s.accounts[profile.UserID]; !ok {
		return nil, accounts.ErrNotFound
	}

	next := profile.Clone()
	s.profiles[next.UserID] = next
	return next.Clone(), nil
}

func (s accountStore) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock()
	defer s.unlock()

	current, ok := s.accounts[id]
	if !ok {
		return accounts.ErrNotFound
	}
	if current.Version != expectedVersion {
		return accounts.ErrConcurrentModification
	}

	delete(s.accounts, id)
	delete(s.emails, current.Email)
	delete(s.profiles, id)
	return nil
}

type resetTokenStore struct{ *Store }

func (s resetTokenStore) Create(ctx context.Context, token *accounts.ResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock()
	defer s.unlock()

	if _, ok := s.accounts[token.UserID]; !ok {
		return accounts.ErrNotFound
	}
	s.tokens[token.Digest] = token.Clone()
	return nil
}

func (s resetTokenStore) Get(ctx context.Context, digest string) (*accounts.ResetToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.rlock()
	defer s.runlock()

	token, ok := s.tokens[digest]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return token.Clone(), nil
}

func (s resetTokenStore) MarkUsed(ctx context.Context, digest string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.lock()
	defer s.unlock()

	token, ok := s.tokens[digest]
	if !ok || !token.IsConsumable(now) {
		return false, nil
	}
	token.Used = true
	usedAt := now
	token.UsedAt = &usedAt
	return true, nil
}

func (s resetTokenStore) RevokeOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.lock()
	defer s.unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.UserID != userID || !token.IsConsumable(now) {
			continue
		}
		token.Used = true
		usedAt := now
		token.UsedAt = &usedAt
		revoked++
	}
	return revoked, nil
}
