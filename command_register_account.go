package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// NewAccount carries the fields needed to create an account and its profile.
type NewAccount struct {
	Email           string     `json:"email"`
	Password        string     `json:"password"`
	ConfirmPassword string     `json:"confirm_password"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	PhoneNumber     string     `json:"phone_number"`
	Address         string     `json:"address"`
	DateOfBirth     *time.Time `json:"date_of_birth"`
	AvatarURL       string     `json:"avatar_url"`
}

type RegisterAccountMessage struct {
	NewAccount
	OnResponse func(resp *RegisterAccountResponse)
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

var (
	_ command.Message                           = RegisterAccountMessage{}
	_ command.Commander[RegisterAccountMessage] = (*RegisterAccountHandler)(nil)
)

type RegisterAccountResponse struct {
	Account *Account
	Profile *Profile
	// Token is only set when accounts start ACTIVE.
	Token string
}

// RegisterAccountHandler creates USER accounts.
type RegisterAccountHandler struct {
	accounts          AccountStore
	hasher            PasswordHasher
	tokens            TokenSigner
	events            *eventEmitter
	now               func() time.Time
	requireActivation bool
	logger            Logger
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		).WithMetadata(map[string]any{"command": command.GetMessageType(event)})
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Password != event.ConfirmPassword {
		if err := h.ensureEmailAvailable(ctx, event.Email); err != nil {
			return err
		}
		return ErrPasswordMismatch
	}

	status := StatusPending
	if !h.requireActivation {
		status = StatusActive
	}

	account, profile, err := h.create(ctx, event.NewAccount, RoleUser, status)
	if err != nil {
		return err
	}

	resp := &RegisterAccountResponse{Account: account, Profile: profile}

	if status == StatusActive {
		token, err := h.tokens.Issue(TokenSubject{UserID: account.ID, Role: account.Role, Email: account.Email})
		if err != nil {
			return err
		}
		resp.Token = token
	}

	evt := accountEvent(EventUserRegistered, account, profile)
	evt.ToStatus = account.Status
	h.events.emit(ctx, evt)

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// create persists a new account with role and status plus its profile.
func (h *RegisterAccountHandler) create(ctx context.Context, fields NewAccount, role Role, status AccountStatus) (*Account, *Profile, error) {
	email := NormalizeEmail(fields.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, goerrors.New("a valid email is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if err := h.ensureEmailAvailable(ctx, email); err != nil {
		return nil, nil, err
	}

	hash, err := h.hasher.Hash(fields.Password)
	if err != nil {
		return nil, nil, err
	}

	now := h.now()
	account := &Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &Profile{
		UserID:      account.ID,
		FirstName:   strings.TrimSpace(fields.FirstName),
		LastName:    strings.TrimSpace(fields.LastName),
		PhoneNumber: strings.TrimSpace(fields.PhoneNumber),
		Address:     strings.TrimSpace(fields.Address),
		DateOfBirth: cloneTime(fields.DateOfBirth),
		AvatarURL:   strings.TrimSpace(fields.AvatarURL),
		UpdatedAt:   now,
	}

	stored, err := h.accounts.Create(ctx, account, profile)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, nil, ErrDuplicateEmail
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create account")
	}

	h.logger.Info("account created", "user_id", stored.ID, "role", stored.Role, "status", stored.Status)
	return stored, profile, nil
}

func (h *RegisterAccountHandler) ensureEmailAvailable(ctx context.Context, email string) error {
	_, err := h.accounts.GetByEmail(ctx, NormalizeEmail(email))
	switch {
	case err == nil:
		return ErrDuplicateEmail
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}
}
