package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeBadRequest = "BAD_REQUEST"
	TextCodeInternal   = "INTERNAL_ERROR"
)

// ErrInvalidUserID is returned when a path id is not a UUID.
var ErrInvalidUserID = goerrors.New("user id must be a UUID", goerrors.CategoryValidation).
	WithTextCode(accounts.TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

func errBadBody(err error) error {
	return goerrors.New("failed to parse request body", goerrors.CategoryBadInput).
		WithTextCode(TextCodeBadRequest).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"reason": err.Error()})
}

// validate runs the ozzo rules of v and converts failures to a rich
// validation error.
func validate(v interface{ Validate() error }) error {
	if err := v.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid request").
			WithTextCode(accounts.TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// statusOf returns the HTTP status for err.
func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return accounts.StatusCode(err)
}

// toRichError turns any handler error into the go-errors value rendered to
// clients. Unknown errors are replaced by a generic internal error.
func toRichError(err error) *goerrors.Error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, categoryForStatus(fe.Code)).
			WithCode(fe.Code).
			WithTextCode(textCodeForStatus(fe.Code))
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 && rich.Code < http.StatusInternalServerError {
		out := rich.Clone()
		out.Source = nil
		out.StackTrace = nil
		out.Location = nil
		out.Timestamp = time.Now()
		return out
	}

	return goerrors.New("internal server error", goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeInternal)
}

func categoryForStatus(status int) goerrors.Category {
	switch status {
	case http.StatusNotFound:
		return goerrors.CategoryRouting
	case http.StatusMethodNotAllowed:
		return goerrors.CategoryMethodNotAllowed
	case http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case http.StatusForbidden:
		return goerrors.CategoryAuthz
	}
	if status >= http.StatusInternalServerError {
		return goerrors.CategoryInternal
	}
	return goerrors.CategoryBadInput
}

func textCodeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "ROUTE_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	}
	if status >= http.StatusInternalServerError {
		return TextCodeInternal
	}
	return TextCodeBadRequest
}

// errorHandler renders errors as go-errors JSON responses.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	rich := toRichError(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	} else {
		s.logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "status", status, "text_code", rich.TextCode)
	}

	return c.Status(rich.Code).JSON(rich.ToErrorResponse(false, nil))
}
