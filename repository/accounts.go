package repository

import (
	"context"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountRepository implements accounts.AccountStore using Bun.
type AccountRepository struct {
	db       bun.IDB
	accounts repository.Repository[*AccountModel]
	profiles repository.Repository[*ProfileModel]
}

// NewAccountRepository creates a new repository.
func NewAccountRepository(db *bun.DB) *AccountRepository {
	return &AccountRepository{
		db:       db,
		accounts: NewAccountModelRepository(db),
		profiles: NewProfileModelRepository(db),
	}
}

// NewAccountModelRepository returns the generic repository for account rows.
// Identifier lookups go by email.
func NewAccountModelRepository(db *bun.DB) repository.Repository[*AccountModel] {
	return repository.NewRepository[*AccountModel](db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel { return &AccountModel{} },
		GetID: func(m *AccountModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *AccountModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
		GetIdentifierValue: func(m *AccountModel) string {
			if m == nil {
				return ""
			}
			return m.Email
		},
	})
}

// NewProfileModelRepository returns the generic repository for profile rows,
// which share the id of their account.
func NewProfileModelRepository(db *bun.DB) repository.Repository[*ProfileModel] {
	return repository.NewRepository[*ProfileModel](db, repository.ModelHandlers[*ProfileModel]{
		NewRecord: func() *ProfileModel { return &ProfileModel{} },
		GetID: func(m *ProfileModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.UserID
		},
		SetID: func(m *ProfileModel, id uuid.UUID) {
			if m != nil {
				m.UserID = id
			}
		},
	})
}

var _ accounts.AccountStore = (*AccountRepository)(nil)

// withTx returns a copy of r that runs every statement on tx.
func (r *AccountRepository) withTx(tx bun.IDB) *AccountRepository {
	c := *r
	c.db = tx
	return &c
}

// Create implements accounts.AccountStore. The account and its profile are
// inserted in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *accounts.Account, profile *accounts.Profile) (*accounts.Account, error) {
	model := fromAccount(account)
	model.Version = 1

	if profile == nil {
		profile = &accounts.Profile{UpdatedAt: account.CreatedAt}
	}
	profileModel := fromProfile(profile)
	profileModel.UserID = model.ID

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := r.accounts.CreateTx(ctx, tx, model); err != nil {
			return err
		}
		_, err := r.profiles.CreateTx(ctx, tx, profileModel)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, accounts.ErrDuplicateEmail
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert account")
	}

	return toAccount(model), nil
}

// GetByID implements accounts.AccountStore.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	model, err := r.accounts.GetByIDTx(ctx, r.db, id.String())
	if err != nil {
		return nil, notFoundOr(err, "failed to load account")
	}
	return toAccount(model), nil
}

// GetByEmail implements accounts.AccountStore.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	model, err := r.accounts.GetByIdentifierTx(ctx, r.db, accounts.NormalizeEmail(email))
	if err != nil {
		return nil, notFoundOr(err, "failed to load account by email")
	}
	return toAccount(model), nil
}

// GetProfile implements accounts.AccountStore.
func (r *AccountRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*accounts.Profile, error) {
	model, err := r.profiles.GetTx(ctx, r.db, repository.SelectBy("user_id", "=", userID.String()))
	if err != nil {
		return nil, notFoundOr(err, "failed to load profile")
	}
	return toProfile(model), nil
}

// Update implements accounts.AccountStore. The row only changes when its
// version still equals expectedVersion.
func (r *AccountRepository) Update(ctx context.Context, account *accounts.Account, expectedVersion int64) (*accounts.Account, error) {
	model := fromAccount(account)
	model.Version = expectedVersion + 1

	_, err := r.accounts.UpdateTx(ctx, r.db, model,
		repository.UpdateColumns("email", "password_hash", "role", "status", "version", "updated_at", "last_login_at", "deletion_requested_at"),
		whereVersion(expectedVersion),
	)
	if err != nil {
		if repository.IsSQLExpectedCountViolation(err) {
			return nil, r.missingOrConflict(ctx, model.ID)
		}
		if isUniqueViolation(err) {
			return nil, accounts.ErrDuplicateEmail
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account")
	}

	return r.GetByID(ctx, model.ID)
}

// UpdateProfile implements accounts.AccountStore.
func (r *AccountRepository) UpdateProfile(ctx context.Context, profile *accounts.Profile) (*accounts.Profile, error) {
	model := fromProfile(profile)

	_, err := r.profiles.UpdateTx(ctx, r.db, model,
		repository.UpdateColumns("first_name", "last_name", "phone_number", "address", "date_of_birth", "avatar_url", "updated_at"),
	)
	if err != nil {
		if repository.IsSQLExpectedCountViolation(err) {
			return nil, accounts.ErrNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return toProfile(model), nil
}

// Delete implements accounts.AccountStore. The profile goes with the account
// in the same transaction; reset token records are left in place.
func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.profiles.DeleteWhereTx(ctx, tx,
			repository.DeleteBy("user_id", "=", id.String()),
		); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete profile")
		}

		res, err := tx.NewDelete().
			Model((*AccountModel)(nil)).
			Where("id = ?", id).
			Where("version = ?", expectedVersion).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account")
		}
		if err := repository.SQLExpectedCount(res, 1); err != nil {
			return r.withTx(tx).missingOrConflict(ctx, id)
		}
		return nil
	})
}

// missingOrConflict tells a lost compare-and-swap apart from a missing row.
func (r *AccountRepository) missingOrConflict(ctx context.Context, id uuid.UUID) error {
	exists, err := r.db.NewSelect().
		Model((*AccountModel)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check account")
	}
	if !exists {
		return accounts.ErrNotFound
	}
	return accounts.ErrConcurrentModification
}

func whereVersion(version int64) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("?TableAlias.version = ?", version)
	}
}

func notFoundOr(err error, msg string) error {
	if repository.IsRecordNotFound(err) {
		return accounts.ErrNotFound
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
