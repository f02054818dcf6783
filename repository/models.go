package repository

import (
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountModel is the Bun model for accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID                  uuid.UUID  `bun:"id,pk"`
	Email               string     `bun:"email,notnull"`
	PasswordHash        string     `bun:"password_hash,notnull"`
	Role                string     `bun:"role,notnull"`
	Status              string     `bun:"status,notnull"`
	Version             int64      `bun:"version,notnull"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull"`
	LastLoginAt         *time.Time `bun:"last_login_at"`
	DeletionRequestedAt *time.Time `bun:"deletion_requested_at"`
}

// ProfileModel is the Bun model for profiles.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`

	UserID      uuid.UUID  `bun:"user_id,pk"`
	FirstName   string     `bun:"first_name,notnull"`
	LastName    string     `bun:"last_name,notnull"`
	PhoneNumber string     `bun:"phone_number,notnull"`
	Address     string     `bun:"address,notnull"`
	DateOfBirth *time.Time `bun:"date_of_birth"`
	AvatarURL   string     `bun:"avatar_url,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

// ResetTokenModel is the Bun model for password reset tokens. UserID is a
// plain reference so records survive the deletion of their account.
type ResetTokenModel struct {
	bun.BaseModel `bun:"table:password_reset_tokens"`

	ID        uuid.UUID  `bun:"id,pk"`
	Digest    string     `bun:"digest,notnull,unique"`
	UserID    uuid.UUID  `bun:"user_id,notnull"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	Used      bool       `bun:"used,notnull"`
	UsedAt    *time.Time `bun:"used_at"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
}

func toAccount(m *AccountModel) *accounts.Account {
	return &accounts.Account{
		ID:                  m.ID,
		Email:               m.Email,
		PasswordHash:        m.PasswordHash,
		Role:                accounts.Role(m.Role),
		Status:              accounts.AccountStatus(m.Status),
		Version:             m.Version,
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
		LastLoginAt:         utcPtr(m.LastLoginAt),
		DeletionRequestedAt: utcPtr(m.DeletionRequestedAt),
	}
}

func fromAccount(a *accounts.Account) *AccountModel {
	return &AccountModel{
		ID:                  a.ID,
		Email:               accounts.NormalizeEmail(a.Email),
		PasswordHash:        a.PasswordHash,
		Role:                string(a.Role),
		Status:              string(a.Status),
		Version:             a.Version,
		CreatedAt:           a.CreatedAt.UTC(),
		UpdatedAt:           a.UpdatedAt.UTC(),
		LastLoginAt:         utcPtr(a.LastLoginAt),
		DeletionRequestedAt: utcPtr(a.DeletionRequestedAt),
	}
}

func toProfile(m *ProfileModel) *accounts.Profile {
	return &accounts.Profile{
		UserID:      m.UserID,
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		PhoneNumber: m.PhoneNumber,
		Address:     m.Address,
		DateOfBirth: utcPtr(m.DateOfBirth),
		AvatarURL:   m.AvatarURL,
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func fromProfile(p *accounts.Profile) *ProfileModel {
	return &ProfileModel{
		UserID:      p.UserID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		PhoneNumber: p.PhoneNumber,
		Address:     p.Address,
		DateOfBirth: utcPtr(p.DateOfBirth),
		AvatarURL:   p.AvatarURL,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func toResetToken(m *ResetTokenModel) *accounts.ResetToken {
	return &accounts.ResetToken{
		Digest:    m.Digest,
		UserID:    m.UserID,
		ExpiresAt: m.ExpiresAt.UTC(),
		Used:      m.Used,
		UsedAt:    utcPtr(m.UsedAt),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func fromResetToken(t *accounts.ResetToken) *ResetTokenModel {
	return &ResetTokenModel{
		Digest:    t.Digest,
		UserID:    t.UserID,
		ExpiresAt: t.ExpiresAt.UTC(),
		Used:      t.Used,
		UsedAt:    utcPtr(t.UsedAt),
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
