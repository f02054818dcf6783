package accounts_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/adapters/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type resetFixture struct {
	resets *accounts.ResetTokenStore
	store  *memory.Store
	hasher *accounts.BcryptHasher
	clock  *fakeClock
	user   *accounts.Account
}

func newResetFixture(t *testing.T, opts ...accounts.ResetTokenStoreOption) *resetFixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	hasher := newTestHasher(t)

	hash, err := hasher.Hash("original")
	require.NoError(t, err)
	user, err := store.Accounts().Create(context.Background(), &accounts.Account{
		ID:           uuid.New(),
		Email:        "ada@example.com",
		PasswordHash: hash,
		Role:         accounts.RoleUser,
		Status:       accounts.StatusActive,
		CreatedAt:    clock.Now(),
		UpdatedAt:    clock.Now(),
	}, &accounts.Profile{})
	require.NoError(t, err)

	base := []accounts.ResetTokenStoreOption{accounts.WithResetTokenClock(clock.Now)}
	resets := accounts.NewResetTokenStore(store, hasher, append(base, opts...)...)

	return &resetFixture{resets: resets, store: store, hasher: hasher, clock: clock, user: user}
}

func TestResetTokenStoreIssue(t *testing.T) {
	f := newResetFixture(t)

	token, record, err := f.resets.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)

	assert.Len(t, token, 43, "32 bytes base64url without padding")
	assert.Equal(t, accounts.DigestResetToken(token), record.Digest)
	assert.NotContains(t, record.Digest, token)
	assert.Equal(t, f.clock.Now().Add(accounts.DefaultResetTokenTTL), record.ExpiresAt)
	assert.False(t, record.Used)

	stored, err := f.store.ResetTokens().Get(context.Background(), record.Digest)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, stored.UserID)

	other, _, err := f.resets.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestResetTokenStoreIssueUsesRandomSource(t *testing.T) {
	f := newResetFixture(t, accounts.WithResetTokenRandom(bytes.NewReader(make([]byte, 64))))

	first, _, err := f.resets.Issue(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", first)

	f.resets = accounts.NewResetTokenStore(f.store, f.hasher,
		accounts.WithResetTokenRandom(bytes.NewReader(nil)))
	_, _, err = f.resets.Issue(context.Background(), f.user.ID)
	assert.Error(t, err)
}

func TestResetTokenStoreCustomTTL(t *testing.T) {
	f := newResetFixture(t, accounts.WithResetTokenTTL(time.Minute))
	ctx := context.Background()

	token, record, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Minute), record.ExpiresAt)

	f.clock.Advance(59 * time.Second)
	_, err = f.resets.Consume(ctx, token, "next", "next")
	assert.NoError(t, err)
}

func TestResetTokenStoreConsume(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, _, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	userID, err := f.resets.Consume(ctx, token, "replacement", "replacement")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, userID)

	account, err := f.store.Accounts().GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify("replacement", account.PasswordHash))
	assert.False(t, f.hasher.Verify("original", account.PasswordHash))
	assert.Greater(t, account.Version, f.user.Version)

	_, err = f.resets.Consume(ctx, token, "again", "again")
	assert.ErrorIs(t, err, accounts.ErrTokenExpiredOrUsed)
}

func TestResetTokenStoreConsumeFailures(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		f := newResetFixture(t)
		_, err := f.resets.Consume(context.Background(), "", "a", "a")
		assert.ErrorIs(t, err, accounts.ErrInvalidToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newResetFixture(t)
		_, err := f.resets.Consume(context.Background(), "never-issued", "a", "a")
		assert.ErrorIs(t, err, accounts.ErrInvalidToken)
	})

	t.Run("usable at the expiry instant", func(t *testing.T) {
		f := newResetFixture(t)
		token, _, err := f.resets.Issue(context.Background(), f.user.ID)
		require.NoError(t, err)

		f.clock.Advance(accounts.DefaultResetTokenTTL)
		_, err = f.resets.Consume(context.Background(), token, "a", "a")
		assert.NoError(t, err)
	})

	t.Run("expired right after ttl", func(t *testing.T) {
		f := newResetFixture(t)
		token, _, err := f.resets.Issue(context.Background(), f.user.ID)
		require.NoError(t, err)

		f.clock.Advance(accounts.DefaultResetTokenTTL + time.Nanosecond)
		_, err = f.resets.Consume(context.Background(), token, "a", "a")
		assert.ErrorIs(t, err, accounts.ErrTokenExpiredOrUsed)
	})

	t.Run("mismatch leaves token usable", func(t *testing.T) {
		f := newResetFixture(t)
		token, _, err := f.resets.Issue(context.Background(), f.user.ID)
		require.NoError(t, err)

		_, err = f.resets.Consume(context.Background(), token, "a", "b")
		assert.ErrorIs(t, err, accounts.ErrPasswordMismatch)

		_, err = f.resets.Consume(context.Background(), token, "a", "a")
		assert.NoError(t, err)
	})

	t.Run("empty password leaves token usable", func(t *testing.T) {
		f := newResetFixture(t)
		token, _, err := f.resets.Issue(context.Background(), f.user.ID)
		require.NoError(t, err)

		_, err = f.resets.Consume(context.Background(), token, "", "")
		assert.ErrorIs(t, err, accounts.ErrEmptyPassword)

		_, err = f.resets.Consume(context.Background(), token, "a", "a")
		assert.NoError(t, err)
	})

	t.Run("account pending deletion", func(t *testing.T) {
		f := newResetFixture(t)
		ctx := context.Background()
		token, _, err := f.resets.Issue(ctx, f.user.ID)
		require.NoError(t, err)

		held := f.user.Clone()
		held.Status = accounts.StatusDeletionRequested
		_, err = f.store.Accounts().Update(ctx, held, f.user.Version)
		require.NoError(t, err)

		_, err = f.resets.Consume(ctx, token, "a", "a")
		assert.ErrorIs(t, err, accounts.ErrDeletionPending)
	})
}

func TestResetTokenStoreConcurrentConsumeHasOneWinner(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, _, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.resets.Consume(ctx, token, "winner", "winner")
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, accounts.ErrTokenExpiredOrUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestResetTokenStoreConsumeRevokesOutstanding(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	first, _, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)
	second, secondRecord, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	_, err = f.resets.Consume(ctx, first, "a", "a")
	require.NoError(t, err)

	record, err := f.store.ResetTokens().Get(ctx, secondRecord.Digest)
	require.NoError(t, err)
	assert.True(t, record.Used)

	_, err = f.resets.Consume(ctx, second, "b", "b")
	assert.ErrorIs(t, err, accounts.ErrTokenExpiredOrUsed)
}

func TestResetTokenStoreLosingMarkUsedRace(t *testing.T) {
	tokens := &MockResetTokenRepository{}
	store := memory.NewStore()
	hasher := newTestHasher(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	user, err := store.Accounts().Create(context.Background(), &accounts.Account{
		ID:     uuid.New(),
		Email:  "ada@example.com",
		Role:   accounts.RoleUser,
		Status: accounts.StatusActive,
	}, nil)
	require.NoError(t, err)

	digest := accounts.DigestResetToken("raw")
	tokens.On("Get", mock.Anything, digest).Return(&accounts.ResetToken{
		Digest:    digest,
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Minute),
	}, nil).Once()
	tokens.On("MarkUsed", mock.Anything, digest, now).Return(false, nil).Once()

	resets := accounts.NewResetTokenStore(&stubStores{accountStore: store.Accounts(), tokenRepo: tokens}, hasher,
		accounts.WithResetTokenClock(func() time.Time { return now }))

	_, err = resets.Consume(context.Background(), "raw", "a", "a")
	assert.ErrorIs(t, err, accounts.ErrTokenExpiredOrUsed)
	tokens.AssertNotCalled(t, "RevokeOutstanding", mock.Anything, mock.Anything, mock.Anything)

	account, err := store.Accounts().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, account.PasswordHash, "password must not change when the race is lost")
}

func TestResetTokenStoreRepositoryErrors(t *testing.T) {
	tokens := &MockResetTokenRepository{}
	store := memory.NewStore()
	boom := errors.New("connection reset")

	tokens.On("Get", mock.Anything, mock.Anything).Return(nil, boom).Once()
	tokens.On("Create", mock.Anything, mock.Anything).Return(boom).Once()

	resets := accounts.NewResetTokenStore(&stubStores{accountStore: store.Accounts(), tokenRepo: tokens}, newTestHasher(t))

	_, err := resets.Consume(context.Background(), "raw", "a", "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, accounts.ErrInvalidToken)
	assert.ErrorIs(t, err, boom)

	_, _, err = resets.Issue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}

// conflictingStores makes every account update inside a transaction lose
// its compare-and-swap.
type conflictingStores struct {
	*memory.Store
}

func (s *conflictingStores) RunInTx(ctx context.Context, f func(ctx context.Context, stores accounts.Stores) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx accounts.Stores) error {
		return f(ctx, conflictingTx{Stores: tx})
	})
}

type conflictingTx struct {
	accounts.Stores
}

func (t conflictingTx) Accounts() accounts.AccountStore {
	return conflictingAccounts{AccountStore: t.Stores.Accounts()}
}

type conflictingAccounts struct {
	accounts.AccountStore
}

func (conflictingAccounts) Update(context.Context, *accounts.Account, int64) (*accounts.Account, error) {
	return nil, accounts.ErrConcurrentModification
}

func TestResetTokenStoreFailedPasswordWriteKeepsToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, record, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	failing := accounts.NewResetTokenStore(&conflictingStores{Store: f.store}, f.hasher,
		accounts.WithResetTokenClock(f.clock.Now))
	_, err = failing.Consume(ctx, token, "replacement", "replacement")
	assert.ErrorIs(t, err, accounts.ErrConcurrentModification)

	stored, err := f.store.ResetTokens().Get(ctx, record.Digest)
	require.NoError(t, err)
	assert.False(t, stored.Used, "token must survive a failed password write")
	assert.Nil(t, stored.UsedAt)

	account, err := f.store.Accounts().GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify("original", account.PasswordHash))

	userID, err := f.resets.Consume(ctx, token, "replacement", "replacement")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, userID)

	account, err = f.store.Accounts().GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify("replacement", account.PasswordHash))
}

func TestResetTokenStoreTokenOutlivesAccount(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, record, err := f.resets.Issue(ctx, f.user.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Accounts().Delete(ctx, f.user.ID, f.user.Version))

	_, err = f.resets.Consume(ctx, token, "a", "a")
	assert.ErrorIs(t, err, accounts.ErrNotFound)

	stored, err := f.store.ResetTokens().Get(ctx, record.Digest)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, stored.UserID)
	assert.False(t, stored.Used)
}
