package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists accounts and their profiles. Update and Delete are
// compare-and-swap operations keyed on Account.Version: they fail with
// ErrConcurrentModification when the stored version differs from expected.
type AccountStore interface {
	// Create stores a new account and its profile together. It fails with
	// ErrDuplicateEmail when the normalized email is taken.
	Create(ctx context.Context, account *Account, profile *Profile) (*Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	// Update replaces the mutable account fields if the stored version equals
	// expectedVersion and returns the stored record with its new version.
	Update(ctx context.Context, account *Account, expectedVersion int64) (*Account, error)
	UpdateProfile(ctx context.Context, profile *Profile) (*Profile, error)
	// Delete removes the account and its profile if the stored version equals
	// expectedVersion. Reset token records of the account are kept.
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error
}

// ResetTokenRepository persists reset token records by digest. Records are
// never deleted, consumed and expired ones stay for audit.
type ResetTokenRepository interface {
	Create(ctx context.Context, token *ResetToken) error
	Get(ctx context.Context, digest string) (*ResetToken, error)
	// MarkUsed atomically flips used from false to true when now is not past
	// the token expiry. It reports whether this call won.
	MarkUsed(ctx context.Context, digest string, now time.Time) (bool, error)
	// RevokeOutstanding marks every consumable token of the user as used and
	// returns how many were revoked.
	RevokeOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

// Stores groups the repositories the Service depends on.
type Stores interface {
	Accounts() AccountStore
	ResetTokens() ResetTokenRepository
	// RunInTx runs f with stores whose writes commit together. Any error
	// returned by f discards every write made through them.
	RunInTx(ctx context.Context, f func(ctx context.Context, stores Stores) error) error
}

const maxCASAttempts = 3

// retryOnConflict runs fn until it stops failing with ErrConcurrentModification
// or the attempts run out. fn must reload state on every call.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
