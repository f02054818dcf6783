package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultResetTokenTTL is how long a reset token stays consumable.
const DefaultResetTokenTTL = 15 * time.Minute

// resetTokenBytes is the entropy of an issued token, 256 bits.
const resetTokenBytes = 32

// ResetTokenStoreOption customizes a ResetTokenStore.
type ResetTokenStoreOption func(*ResetTokenStore)

// WithResetTokenTTL overrides the token lifetime.
func WithResetTokenTTL(ttl time.Duration) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithResetTokenClock injects a custom clock (useful for tests).
func WithResetTokenClock(now func() time.Time) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithResetTokenRandom overrides the entropy source.
func WithResetTokenRandom(r io.Reader) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if r != nil {
			s.random = r
		}
	}
}

// WithResetTokenLogger overrides the logger.
func WithResetTokenLogger(logger Logger) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// ResetTokenStore issues and consumes single-use password reset tokens.
type ResetTokenStore struct {
	stores Stores
	hasher PasswordHasher
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	logger Logger
}

// NewResetTokenStore wires the token protocol to its repositories.
func NewResetTokenStore(stores Stores, hasher PasswordHasher, opts ...ResetTokenStoreOption) *ResetTokenStore {
	s := &ResetTokenStore{
		stores: stores,
		hasher: hasher,
		ttl:    DefaultResetTokenTTL,
		now:    time.Now,
		random: rand.Reader,
		logger: ResolveLogger("accounts.password_reset", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// DigestResetToken is the at-rest form of a reset token.
func DigestResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue generates a fresh token for userID and persists its digest. The raw
// token is returned once and never stored. Earlier tokens stay valid until
// they expire or a reset succeeds.
func (s *ResetTokenStore) Issue(ctx context.Context, userID uuid.UUID) (string, *ResetToken, error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now()
	record := &ResetToken{
		Digest:    DigestResetToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	if err := s.stores.ResetTokens().Create(ctx, record); err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
	}

	return token, record, nil
}

// Consume validates token, flips it to used with a single conditional update
// and stores the new password hash for its account. Both writes, plus the
// revocation of the other outstanding tokens, commit in one transaction so a
// failed password write leaves the token usable. Of any number of concurrent
// calls with the same token at most one succeeds.
func (s *ResetTokenStore) Consume(ctx context.Context, token, newPassword, confirmPassword string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrInvalidToken
	}
	digest := DigestResetToken(token)

	record, err := s.stores.ResetTokens().Get(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, ErrInvalidToken
		}
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
	}

	now := s.now()
	if !record.IsConsumable(now) {
		return uuid.Nil, ErrTokenExpiredOrUsed
	}

	if newPassword != confirmPassword {
		return uuid.Nil, ErrPasswordMismatch
	}

	account, err := s.stores.Accounts().GetByID(ctx, record.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	if account.Status.IsHeld() {
		return uuid.Nil, ErrDeletionPending
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return uuid.Nil, err
	}

	var revoked int
	err = s.stores.RunInTx(ctx, func(ctx context.Context, tx Stores) error {
		won, err := tx.ResetTokens().MarkUsed(ctx, digest, now)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}
		if !won {
			return ErrTokenExpiredOrUsed
		}

		err = retryOnConflict(ctx, func() error {
			current, err := tx.Accounts().GetByID(ctx, record.UserID)
			if err != nil {
				return err
			}
			if current.Status.IsHeld() {
				return ErrDeletionPending
			}
			next := current.Clone()
			next.PasswordHash = passwordHash
			next.UpdatedAt = now
			_, err = tx.Accounts().Update(ctx, next, current.Version)
			return err
		})
		if err != nil {
			return err
		}

		revoked, err = tx.ResetTokens().RevokeOutstanding(ctx, record.UserID, now)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke outstanding reset tokens")
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrTokenExpiredOrUsed) {
			s.logger.Warn("password reset rolled back", "user_id", record.UserID, "error", err)
		}
		return uuid.Nil, err
	}

	if revoked > 0 {
		s.logger.Debug("revoked outstanding reset tokens", "user_id", record.UserID, "count", revoked)
	}

	return record.UserID, nil
}
