package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSubject is the identity a bearer token is issued for.
type TokenSubject struct {
	UserID uuid.UUID
	Role   Role
	Email  string
}

// Claims is the signed claim set of a bearer token. The subject is the email.
type Claims struct {
	jwt.RegisteredClaims
	UID      string `json:"userId"`
	UserRole Role   `json:"role"`
}

// UserID returns the parsed userId claim
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.UID)
}

// Email returns the subject claim
func (c *Claims) Email() string {
	return c.RegisteredClaims.Subject
}

// Role returns the role claim
func (c *Claims) Role() Role {
	return c.UserRole
}

// Expires returns the expiry, zero when absent
func (c *Claims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the issue time, zero when absent
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Identity converts the claims back into the identity they were issued for.
func (c *Claims) Identity() (TokenSubject, error) {
	id, err := c.UserID()
	if err != nil {
		return TokenSubject{}, err
	}
	return TokenSubject{UserID: id, Role: c.UserRole, Email: c.RegisteredClaims.Subject}, nil
}

// Actor returns the caller identity carried by the token.
func (c *Claims) Actor() (Actor, error) {
	id, err := c.UserID()
	if err != nil {
		return Actor{}, ErrTokenMalformed
	}
	if !c.UserRole.IsValid() {
		return Actor{}, ErrTokenMalformed
	}
	return Actor{ID: id, Role: c.UserRole}, nil
}
