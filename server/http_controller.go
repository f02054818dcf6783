package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/middleware/jwtware"
	"github.com/google/uuid"
)

// AccountController maps HTTP requests onto the account service.
type AccountController struct {
	service   AccountService
	sanitizer *Sanitizer
	logger    accounts.Logger
}

// RegisterResponse is returned by the register route. Token is only set
// when new accounts start active.
type RegisterResponse struct {
	Account *accounts.Account `json:"account"`
	Profile *accounts.Profile `json:"profile"`
	Token   string            `json:"token,omitempty"`
}

// LoginResponse is returned by the login route.
type LoginResponse struct {
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	ExpiresAt time.Time         `json:"expires_at"`
	Account   *accounts.Account `json:"account"`
}

// AccountResponse wraps a single account.
type AccountResponse struct {
	Account *accounts.Account `json:"account"`
}

func (a *AccountController) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	resp, err := a.service.Register(c.UserContext(), payload.toNewAccount(a.sanitizer))
	if err != nil {
		return err
	}
	a.logger.Debug("account registered over http", "user_id", resp.Account.ID, "ip", c.IP())

	return c.Status(fiber.StatusCreated).JSON(RegisterResponse{
		Account: resp.Account,
		Profile: resp.Profile,
		Token:   resp.Token,
	})
}

func (a *AccountController) Activate(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}

	account, err := a.service.Activate(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(AccountResponse{Account: account})
}

func (a *AccountController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	result, err := a.service.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return c.JSON(LoginResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.ExpiresAt,
		Account:   result.Account,
	})
}

func (a *AccountController) GetAccount(c *fiber.Ctx) error {
	actor, id, err := actorAndTarget(c)
	if err != nil {
		return err
	}

	view, err := a.service.GetAccount(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (a *AccountController) UpdateProfile(c *fiber.Ctx) error {
	actor, id, err := actorAndTarget(c)
	if err != nil {
		return err
	}

	payload := new(ProfileRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	view, err := a.service.UpdateProfile(c.UserContext(), actor, id, payload.toFields(a.sanitizer))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (a *AccountController) Deactivate(c *fiber.Ctx) error {
	return a.transition(c, a.service.Deactivate)
}

func (a *AccountController) Reactivate(c *fiber.Ctx) error {
	return a.transition(c, a.service.Reactivate)
}

func (a *AccountController) RequestDeletion(c *fiber.Ctx) error {
	return a.transition(c, a.service.RequestAccountDeletion)
}

func (a *AccountController) Delete(c *fiber.Ctx) error {
	actor, id, err := actorAndTarget(c)
	if err != nil {
		return err
	}

	if err := a.service.DeleteAccount(c.UserContext(), actor, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AccountController) CreateAdmin(c *fiber.Ctx) error {
	actor, ok := jwtware.ActorFromContext(c)
	if !ok {
		return accounts.ErrAccessDenied
	}

	payload := new(RegisterRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	view, err := a.service.CreateAdmin(c.UserContext(), actor, payload.toNewAccount(a.sanitizer))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (a *AccountController) UpdateRole(c *fiber.Ctx) error {
	actor, id, err := actorAndTarget(c)
	if err != nil {
		return err
	}

	payload := new(RoleRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	account, err := a.service.UpdateRole(c.UserContext(), actor, id, accounts.Role(payload.Role))
	if err != nil {
		return err
	}
	return c.JSON(AccountResponse{Account: account})
}

// RequestPasswordReset always answers 202 for well formed input so the
// response does not reveal whether the email is registered.
func (a *AccountController) RequestPasswordReset(c *fiber.Ctx) error {
	payload := new(PasswordResetRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	if err := a.service.RequestPasswordReset(c.UserContext(), payload.Email); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (a *AccountController) ConfirmPasswordReset(c *fiber.Ctx) error {
	payload := new(PasswordResetConfirmRequest)
	if err := bindAndValidate(c, payload); err != nil {
		return err
	}

	userID, err := a.service.ConfirmPasswordReset(c.UserContext(), payload.Token, payload.Password, payload.ConfirmPassword)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user_id": userID})
}

type transitionFunc func(ctx context.Context, actor accounts.Actor, target uuid.UUID) (*accounts.Account, error)

func (a *AccountController) transition(c *fiber.Ctx, fn transitionFunc) error {
	actor, id, err := actorAndTarget(c)
	if err != nil {
		return err
	}

	account, err := fn(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(AccountResponse{Account: account})
}

func bindAndValidate(c *fiber.Ctx, payload interface{ Validate() error }) error {
	if err := c.BodyParser(payload); err != nil {
		return errBadBody(err)
	}
	return validate(payload)
}

func userIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, ErrInvalidUserID
	}
	return id, nil
}

// actorAndTarget resolves the authenticated caller and the :id path param.
func actorAndTarget(c *fiber.Ctx) (accounts.Actor, uuid.UUID, error) {
	actor, ok := jwtware.ActorFromContext(c)
	if !ok {
		return accounts.Actor{}, uuid.Nil, accounts.ErrAccessDenied
	}
	id, err := userIDParam(c)
	if err != nil {
		return accounts.Actor{}, uuid.Nil, err
	}
	return actor, id, nil
}
