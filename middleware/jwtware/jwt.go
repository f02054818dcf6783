package jwtware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultContextKey = "actor"
	DefaultClaimsKey  = "claims"
)

var defaultTokenLookup = "header:" + fiber.HeaderAuthorization

// ErrJWTMissingOrMalformed is returned when no bearer token could be extracted.
var ErrJWTMissingOrMalformed = goerrors.New("missing or malformed JWT", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MISSING").
	WithCode(goerrors.CodeUnauthorized)

// TokenVerifier verifies a raw bearer token. accounts.TokenService satisfies it.
type TokenVerifier interface {
	Verify(token string) (*accounts.Claims, error)
}

// ValidationListener is invoked after a token has been verified but before
// authorization checks.
type ValidationListener func(c *fiber.Ctx, actor accounts.Actor, claims *accounts.Claims) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	// ErrorHandler defaults to returning the error so the app error handler
	// renders it.
	ErrorHandler fiber.ErrorHandler
	ContextKey   string
	ClaimsKey    string
	TokenLookup  string
	AuthScheme   string
	// TokenVerifier is required
	TokenVerifier TokenVerifier

	// RequiredRole rejects callers whose role differs. Empty admits any role.
	RequiredRole accounts.Role

	// ContextEnricher propagates the actor to the request user context.
	ContextEnricher func(ctx context.Context, actor accounts.Actor) context.Context

	ValidationListeners []ValidationListener
}

// New returns a fiber handler that authenticates the bearer token and stores
// the caller in c.Locals under ContextKey.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.TokenVerifier.Verify(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		actor, err := claims.Actor()
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, actor, claims); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		if cfg.RequiredRole != "" && actor.Role != cfg.RequiredRole {
			return cfg.ErrorHandler(c, accounts.ErrAccessDenied)
		}

		c.Locals(cfg.ContextKey, actor)
		c.Locals(cfg.ClaimsKey, claims)

		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), actor))
		}

		return cfg.SuccessHandler(c)
	}
}

// GetDefaultConfig fills the zero fields of the first config. It panics when
// no TokenVerifier is configured.
func GetDefaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenVerifier == nil {
		panic("jwtware: TokenVerifier is required")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return err
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.ClaimsKey == "" {
		cfg.ClaimsKey = DefaultClaimsKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
		if cfg.AuthScheme == "" {
			cfg.AuthScheme = "Bearer"
		}
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = WithActor
	}

	return cfg
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// ExtractRawToken tries each extractor in order and returns the first token.
func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	var token string
	var err error

	for _, extractor := range extractors {
		token, err = extractor(c)
		if token != "" && err == nil {
			break
		}
	}

	if err != nil {
		return "", err
	}

	if token == "" {
		return "", ErrJWTMissingOrMalformed
	}

	return token, nil
}

// GetExtractors parses a lookup string such as
// "header:Authorization,cookie:jwt,query:token".
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	var extractors []JWTExtractor

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "param":
			extractors = append(extractors, jwtFromParam(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l:]); token != "" {
				return token, nil
			}
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
