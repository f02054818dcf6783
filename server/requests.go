package server

import (
	"html"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	accounts "github.com/goliatone/go-accounts"
	"github.com/microcosm-cc/bluemonday"
)

const dateLayout = "2006-01-02"

// bcrypt ignores anything past 72 bytes
const maxPasswordLength = 72

// Sanitizer strips markup from free-text profile fields.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a sanitizer that removes every HTML element.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text removes markup and surrounding whitespace from s.
func (s *Sanitizer) Text(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func (s *Sanitizer) textPtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := s.Text(*v)
	return &out
}

// RegisterRequest is the payload of the register and create admin routes.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PhoneNumber     string `json:"phone_number"`
	Address         string `json:"address"`
	DateOfBirth     string `json:"date_of_birth"`
	AvatarURL       string `json:"avatar_url"`
}

// Validate will run validation rules. Password equality is checked by the
// service so a taken email is reported first.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Length(0, maxPasswordLength)),
		validation.Field(&r.ConfirmPassword, validation.Length(0, maxPasswordLength)),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.PhoneNumber, validation.Length(0, 32)),
		validation.Field(&r.Address, validation.Length(0, 500)),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
		validation.Field(&r.AvatarURL, validation.Length(0, 2048), is.URL),
	)
}

func (r RegisterRequest) toNewAccount(s *Sanitizer) accounts.NewAccount {
	out := accounts.NewAccount{
		Email:           r.Email,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
		FirstName:       s.Text(r.FirstName),
		LastName:        s.Text(r.LastName),
		PhoneNumber:     s.Text(r.PhoneNumber),
		Address:         s.Text(r.Address),
		AvatarURL:       s.Text(r.AvatarURL),
	}
	if r.DateOfBirth != "" {
		if dob, err := time.Parse(dateLayout, r.DateOfBirth); err == nil {
			out.DateOfBirth = &dob
		}
	}
	return out
}

// LoginRequest is the login payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(0, maxPasswordLength)),
	)
}

// ProfileRequest is a partial profile update. Absent fields are left as is.
type ProfileRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	Address     *string `json:"address"`
	DateOfBirth *string `json:"date_of_birth"`
	AvatarURL   *string `json:"avatar_url"`
}

// Validate will run validation rules
func (r ProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.PhoneNumber, validation.Length(0, 32)),
		validation.Field(&r.Address, validation.Length(0, 500)),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
		validation.Field(&r.AvatarURL, validation.Length(0, 2048), is.URL),
	)
}

func (r ProfileRequest) toFields(s *Sanitizer) accounts.ProfileFields {
	fields := accounts.ProfileFields{
		FirstName:   s.textPtr(r.FirstName),
		LastName:    s.textPtr(r.LastName),
		PhoneNumber: s.textPtr(r.PhoneNumber),
		Address:     s.textPtr(r.Address),
		AvatarURL:   s.textPtr(r.AvatarURL),
	}
	if r.DateOfBirth != nil && *r.DateOfBirth != "" {
		if dob, err := time.Parse(dateLayout, *r.DateOfBirth); err == nil {
			fields.DateOfBirth = &dob
		}
	}
	return fields
}

// RoleRequest carries the new role. Role names are checked by the service
// after authorization.
type RoleRequest struct {
	Role string `json:"role"`
}

// Validate will run validation rules
func (r RoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required),
	)
}

// PasswordResetRequest starts a reset for an email.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

// PasswordResetConfirmRequest finishes a reset.
type PasswordResetConfirmRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will run validation rules
func (r PasswordResetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(0, 256)),
		validation.Field(&r.Password, validation.Length(0, maxPasswordLength)),
		validation.Field(&r.ConfirmPassword, validation.Length(0, maxPasswordLength)),
	)
}
