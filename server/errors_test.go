package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestToRichError(t *testing.T) {
	t.Run("sentinel keeps its code and drops internals", func(t *testing.T) {
		got := toRichError(accounts.ErrDuplicateEmail)
		assert.Equal(t, http.StatusConflict, got.Code)
		assert.Equal(t, accounts.TextCodeDuplicateEmail, got.TextCode)
		assert.NotSame(t, accounts.ErrDuplicateEmail, got)
	})

	t.Run("fiber errors", func(t *testing.T) {
		got := toRichError(fiber.ErrMethodNotAllowed)
		assert.Equal(t, http.StatusMethodNotAllowed, got.Code)
		assert.Equal(t, goerrors.CategoryMethodNotAllowed, got.Category)
	})

	t.Run("unknown errors are hidden", func(t *testing.T) {
		got := toRichError(errors.New("dial tcp 10.0.0.1:5432: connection refused"))
		assert.Equal(t, http.StatusInternalServerError, got.Code)
		assert.Equal(t, TextCodeInternal, got.TextCode)
		assert.NotContains(t, got.Message, "10.0.0.1")
	})

	t.Run("wrapped infrastructure errors are hidden", func(t *testing.T) {
		wrapped := goerrors.Wrap(errors.New("disk full"), goerrors.CategoryInternal, "failed to update account")
		got := toRichError(wrapped)
		assert.Equal(t, http.StatusInternalServerError, got.Code)
		assert.Nil(t, got.Source)
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(fiber.ErrNotFound))
	assert.Equal(t, http.StatusForbidden, statusOf(accounts.ErrAccessDenied))
	assert.Equal(t, http.StatusTooManyRequests, statusOf(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}
