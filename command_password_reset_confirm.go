package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type ConfirmPasswordResetMessage struct {
	Token           string `json:"token" doc:"Reset password token"`
	Password        string `json:"password" example:"some_secret_word" doc:"New password"`
	ConfirmPassword string `json:"confirm_password" example:"some_secret_word" doc:"New password confirmation"`
	OnResponse      func(resp *ConfirmPasswordResetResponse)
}

func (p ConfirmPasswordResetMessage) Type() string { return "account.password_reset.confirm" }

var (
	_ command.Message                                = ConfirmPasswordResetMessage{}
	_ command.Commander[ConfirmPasswordResetMessage] = (*ConfirmPasswordResetHandler)(nil)
)

type ConfirmPasswordResetResponse struct {
	UserID uuid.UUID
}

// ConfirmPasswordResetHandler consumes a reset token and stores the new password.
type ConfirmPasswordResetHandler struct {
	accounts AccountStore
	resets   *ResetTokenStore
	events   *eventEmitter
	logger   Logger
}

func (h *ConfirmPasswordResetHandler) Execute(ctx context.Context, event ConfirmPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset confirmation",
		).WithMetadata(map[string]any{"command": command.GetMessageType(event)})
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmPasswordResetHandler) execute(ctx context.Context, event ConfirmPasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userID, err := h.resets.Consume(ctx, event.Token, event.Password, event.ConfirmPassword)
	if err != nil {
		return err
	}

	h.logger.Info("password reset completed", "user_id", userID)

	account, err := h.accounts.GetByID(ctx, userID)
	if err != nil {
		h.logger.Warn("account lookup failed after password reset", "user_id", userID, "error", err)
	} else {
		profile, err := h.accounts.GetProfile(ctx, userID)
		if err != nil {
			profile = nil
		}
		h.events.emit(ctx, accountEvent(EventPasswordResetCompleted, account, profile))
	}

	if event.OnResponse != nil {
		event.OnResponse(&ConfirmPasswordResetResponse{UserID: userID})
	}
	return nil
}
