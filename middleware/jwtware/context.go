package jwtware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
)

type actorCtxKey struct{}

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor accounts.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromStdContext returns the caller stored by WithActor.
func ActorFromStdContext(ctx context.Context) (accounts.Actor, bool) {
	if ctx == nil {
		return accounts.Actor{}, false
	}
	actor, ok := ctx.Value(actorCtxKey{}).(accounts.Actor)
	return actor, ok
}

// ActorFromContext returns the caller stored under DefaultContextKey.
func ActorFromContext(c *fiber.Ctx) (accounts.Actor, bool) {
	return ActorFromLocals(c, DefaultContextKey)
}

// ActorFromLocals returns the caller stored under key.
func ActorFromLocals(c *fiber.Ctx, key string) (accounts.Actor, bool) {
	actor, ok := c.Locals(key).(accounts.Actor)
	return actor, ok
}

// ClaimsFromContext returns the verified claims stored under DefaultClaimsKey.
func ClaimsFromContext(c *fiber.Ctx) (*accounts.Claims, bool) {
	claims, ok := c.Locals(DefaultClaimsKey).(*accounts.Claims)
	return claims, ok && claims != nil
}
