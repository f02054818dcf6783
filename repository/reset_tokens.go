package repository

import (
	"context"
	"time"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResetTokenRepository implements accounts.ResetTokenRepository using Bun.
// Rows are never deleted.
type ResetTokenRepository struct {
	db     bun.IDB
	tokens repository.Repository[*ResetTokenModel]
}

// NewResetTokenRepository creates a new repository.
func NewResetTokenRepository(db *bun.DB) *ResetTokenRepository {
	return &ResetTokenRepository{
		db:     db,
		tokens: NewResetTokenModelRepository(db),
	}
}

// NewResetTokenModelRepository returns the generic repository for reset token
// rows. Identifier lookups go by digest.
func NewResetTokenModelRepository(db *bun.DB) repository.Repository[*ResetTokenModel] {
	return repository.NewRepository[*ResetTokenModel](db, repository.ModelHandlers[*ResetTokenModel]{
		NewRecord: func() *ResetTokenModel { return &ResetTokenModel{} },
		GetID: func(m *ResetTokenModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *ResetTokenModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "digest"
		},
		GetIdentifierValue: func(m *ResetTokenModel) string {
			if m == nil {
				return ""
			}
			return m.Digest
		},
	})
}

var _ accounts.ResetTokenRepository = (*ResetTokenRepository)(nil)

func (r *ResetTokenRepository) withTx(tx bun.IDB) *ResetTokenRepository {
	c := *r
	c.db = tx
	return &c
}

// Create implements accounts.ResetTokenRepository.
func (r *ResetTokenRepository) Create(ctx context.Context, token *accounts.ResetToken) error {
	if _, err := r.tokens.CreateTx(ctx, r.db, fromResetToken(token)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert reset token")
	}
	return nil
}

// Get implements accounts.ResetTokenRepository.
func (r *ResetTokenRepository) Get(ctx context.Context, digest string) (*accounts.ResetToken, error) {
	model, err := r.tokens.GetByIdentifierTx(ctx, r.db, digest)
	if err != nil {
		return nil, notFoundOr(err, "failed to load reset token")
	}
	return toResetToken(model), nil
}

// MarkUsed implements accounts.ResetTokenRepository with a single
// conditional UPDATE; the database decides the winner. The expiry instant
// itself still counts as live.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, digest string, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := r.db.NewUpdate().
		Model((*ResetTokenModel)(nil)).
		Set("used = ?", true).
		Set("used_at = ?", now).
		Where("digest = ?", digest).
		Where("used = ?", false).
		Where("expires_at >= ?", now).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark reset token used")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	return n == 1, nil
}

// RevokeOutstanding implements accounts.ResetTokenRepository.
func (r *ResetTokenRepository) RevokeOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	now = now.UTC()
	res, err := r.db.NewUpdate().
		Model((*ResetTokenModel)(nil)).
		Set("used = ?", true).
		Set("used_at = ?", now).
		Where("user_id = ?", userID).
		Where("used = ?", false).
		Where("expires_at >= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke reset tokens")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}
	return int(n), nil
}
