package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type RequestPasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *RequestPasswordResetResponse)
}

func (p RequestPasswordResetMessage) Type() string { return "account.password_reset.request" }

var (
	_ command.Message                                = RequestPasswordResetMessage{}
	_ command.Commander[RequestPasswordResetMessage] = (*RequestPasswordResetHandler)(nil)
)

type RequestPasswordResetResponse struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
	// Issued is false when no token was created. Callers must not reveal it.
	Issued bool
}

// RequestPasswordResetHandler issues a reset token and hands it to the
// notification consumer through a PasswordResetRequested event. Unknown
// emails succeed silently.
type RequestPasswordResetHandler struct {
	accounts AccountStore
	resets   *ResetTokenStore
	events   *eventEmitter
	logger   Logger
}

func (h *RequestPasswordResetHandler) Execute(ctx context.Context, event RequestPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		).WithMetadata(map[string]any{"command": command.GetMessageType(event)})
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestPasswordResetHandler) execute(ctx context.Context, event RequestPasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &RequestPasswordResetResponse{}
	defer func() {
		if event.OnResponse != nil {
			event.OnResponse(resp)
		}
	}()

	account, err := h.accounts.GetByEmail(ctx, NormalizeEmail(event.Email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	if account.Status.IsHeld() {
		h.logger.Debug("password reset requested for account pending deletion", "user_id", account.ID)
		return nil
	}

	token, record, err := h.resets.Issue(ctx, account.ID)
	if err != nil {
		return err
	}

	resp.UserID = account.ID
	resp.ExpiresAt = record.ExpiresAt
	resp.Issued = true

	profile, err := h.accounts.GetProfile(ctx, account.ID)
	if err != nil {
		h.logger.Warn("profile lookup failed for password reset event", "user_id", account.ID, "error", err)
		profile = nil
	}

	evt := accountEvent(EventPasswordResetRequested, account, profile)
	evt.Token = token
	h.events.emit(ctx, evt)

	h.logger.Info("password reset token issued", "user_id", account.ID, "expires_at", record.ExpiresAt)
	return nil
}
