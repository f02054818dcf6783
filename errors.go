package accounts

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	TextCodePasswordMismatch       = "PASSWORD_MISMATCH"
	TextCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	TextCodeAccessDenied           = "ACCESS_DENIED"
	TextCodeInvalidResetToken      = "INVALID_RESET_TOKEN"
	TextCodeDeletionRequested      = "ACCOUNT_DELETION_REQUESTED"
	TextCodeDeletionAlreadyPending = "DELETION_ALREADY_REQUESTED"
	TextCodeTokenSignatureInvalid  = "TOKEN_SIGNATURE_INVALID"
	TextCodeInvalidTransition      = "INVALID_ACCOUNT_STATE_TRANSITION"
	TextCodeInvalidRole            = "INVALID_ROLE"
	TextCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	TextCodeInvalidEvent           = "INVALID_EVENT"
	TextCodeValidation             = "VALIDATION_ERROR"
)

// ErrDuplicateEmail is returned when the email is already registered (any case).
var ErrDuplicateEmail = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrPasswordMismatch is returned when a password and its confirmation differ.
var ErrPasswordMismatch = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = goerrors.New("empty password not allowed", goerrors.CategoryValidation).
	WithTextCode(goerrors.TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrNotFound is returned when the target account does not exist.
var ErrNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredentials covers both unknown emails and wrong passwords.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotActivated is returned on login to a PENDING account.
var ErrAccountNotActivated = goerrors.New("account has not been activated", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeAccountPending).
	WithCode(goerrors.CodeForbidden)

// ErrAccountDeactivated is returned on login to a DEACTIVATED account.
var ErrAccountDeactivated = goerrors.New("account is deactivated", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeAccountDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrDeletionPending is returned for any mutation of an account waiting to be purged.
var ErrDeletionPending = goerrors.New("account deletion has been requested", goerrors.CategoryConflict).
	WithTextCode(TextCodeDeletionRequested).
	WithCode(goerrors.CodeConflict)

// ErrAccessDenied is returned when the authorization policy rejects the actor.
var ErrAccessDenied = goerrors.New("access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccessDenied).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken is returned when a reset token is unknown.
var ErrInvalidToken = goerrors.New("invalid password reset token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidResetToken).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpiredOrUsed is returned when a reset token was consumed or has expired.
var ErrTokenExpiredOrUsed = goerrors.New("password reset token has expired or was already used", goerrors.CategoryConflict).
	WithTextCode(goerrors.TextCodeTokenAlreadyUsed).
	WithCode(http.StatusGone)

// ErrAlreadyRequested is returned on a second deletion request.
var ErrAlreadyRequested = goerrors.New("account deletion already requested", goerrors.CategoryConflict).
	WithTextCode(TextCodeDeletionAlreadyPending).
	WithCode(goerrors.CodeConflict)

// ErrTokenSignatureInvalid is returned when a bearer token signature does not verify.
var ErrTokenSignatureInvalid = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSignatureInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a bearer token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a bearer token cannot be parsed or its claims are unusable.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(goerrors.TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRole is returned for roles outside USER and ADMIN.
var ErrInvalidRole = goerrors.New("invalid role", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrConcurrentModification is returned when a compare-and-swap keeps losing.
var ErrConcurrentModification = goerrors.New("account was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeConcurrentModification).
	WithCode(goerrors.CodeConflict)

// ErrInvalidEvent is returned by Event.Validate.
var ErrInvalidEvent = goerrors.New("invalid event", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEvent).
	WithCode(goerrors.CodeBadRequest)

// ErrorKind returns the stable text code of err, or "" when err carries none.
func ErrorKind(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// StatusCode returns the HTTP status attached to err, defaulting to 500.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
