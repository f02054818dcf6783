package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account is the credential record of a user.
type Account struct {
	ID                  uuid.UUID     `json:"id"`
	Email               string        `json:"email"`
	PasswordHash        string        `json:"-"`
	Role                Role          `json:"role"`
	Status              AccountStatus `json:"status"`
	Version             int64         `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	LastLoginAt         *time.Time    `json:"last_login_at,omitempty"`
	DeletionRequestedAt *time.Time    `json:"deletion_requested_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	c.DeletionRequestedAt = cloneTime(a.DeletionRequestedAt)
	return &c
}

// Profile holds the personal details owned by an Account.
type Profile struct {
	UserID      uuid.UUID  `json:"user_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	Address     string     `json:"address,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.DateOfBirth = cloneTime(p.DateOfBirth)
	return &c
}

// DisplayName renders the name used in notifications, "LastName FirstName".
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(p.LastName) + " " + strings.TrimSpace(p.FirstName))
}

// ProfileFields is a partial profile update. Nil fields are left untouched.
type ProfileFields struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	Address     *string
	DateOfBirth *time.Time
	AvatarURL   *string
}

// IsEmpty reports whether the update would change nothing.
func (f ProfileFields) IsEmpty() bool {
	return f.FirstName == nil && f.LastName == nil && f.PhoneNumber == nil &&
		f.Address == nil && f.DateOfBirth == nil && f.AvatarURL == nil
}

// Apply copies the set fields onto profile.
func (f ProfileFields) Apply(profile *Profile) {
	if profile == nil {
		return
	}
	if f.FirstName != nil {
		profile.FirstName = *f.FirstName
	}
	if f.LastName != nil {
		profile.LastName = *f.LastName
	}
	if f.PhoneNumber != nil {
		profile.PhoneNumber = *f.PhoneNumber
	}
	if f.Address != nil {
		profile.Address = *f.Address
	}
	if f.DateOfBirth != nil {
		profile.DateOfBirth = cloneTime(f.DateOfBirth)
	}
	if f.AvatarURL != nil {
		profile.AvatarURL = *f.AvatarURL
	}
}

// ResetToken is the persisted half of a password reset token. Only the digest
// of the value handed to the user is stored.
type ResetToken struct {
	Digest    string     `json:"-"`
	UserID    uuid.UUID  `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Clone returns a deep copy of the token record.
func (t *ResetToken) Clone() *ResetToken {
	if t == nil {
		return nil
	}
	c := *t
	c.UsedAt = cloneTime(t.UsedAt)
	return &c
}

// IsConsumable reports whether the token can still be used at now. A token
// stays usable up to and including its expiry instant.
func (t *ResetToken) IsConsumable(now time.Time) bool {
	return t != nil && !t.Used && !now.After(t.ExpiresAt)
}

// AccountView joins an account with its profile for read operations.
type AccountView struct {
	Account *Account `json:"account"`
	Profile *Profile `json:"profile"`
}

// NormalizeEmail lowercases and trims an email so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
