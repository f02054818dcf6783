package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/middleware/jwtware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBasePath prefixes every account route.
const DefaultBasePath = "/v1/api/auth"

// AccountService is the set of lifecycle operations exposed over HTTP.
// *accounts.Service implements it.
type AccountService interface {
	Register(ctx context.Context, fields accounts.NewAccount) (*accounts.RegisterAccountResponse, error)
	Activate(ctx context.Context, userID uuid.UUID) (*accounts.Account, error)
	Login(ctx context.Context, email, password string) (*accounts.LoginResult, error)
	Deactivate(ctx context.Context, actor accounts.Actor, target uuid.UUID) (*accounts.Account, error)
	Reactivate(ctx context.Context, actor accounts.Actor, target uuid.UUID) (*accounts.Account, error)
	RequestAccountDeletion(ctx context.Context, actor accounts.Actor, target uuid.UUID) (*accounts.Account, error)
	DeleteAccount(ctx context.Context, actor accounts.Actor, target uuid.UUID) error
	CreateAdmin(ctx context.Context, actor accounts.Actor, fields accounts.NewAccount) (*accounts.AccountView, error)
	UpdateRole(ctx context.Context, actor accounts.Actor, target uuid.UUID, role accounts.Role) (*accounts.Account, error)
	UpdateProfile(ctx context.Context, actor accounts.Actor, target uuid.UUID, fields accounts.ProfileFields) (*accounts.AccountView, error)
	GetAccount(ctx context.Context, actor accounts.Actor, target uuid.UUID) (*accounts.AccountView, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, password, confirmPassword string) (uuid.UUID, error)
}

var _ AccountService = (*accounts.Service)(nil)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger accounts.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLoggerProvider resolves the server logger from provider.
func WithLoggerProvider(provider accounts.LoggerProvider) Option {
	return func(s *Server) {
		s.loggerProvider = provider
	}
}

// WithLoginRateLimit throttles the login and reset request routes per client.
func WithLoginRateLimit(cfg RateLimiterConfig) Option {
	return func(s *Server) {
		s.limitConfig = &cfg
	}
}

// WithRegistry sets where HTTP metrics are registered and gathered from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithHealthCheck adds a dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.health[name] = check
		}
	}
}

// WithBasePath overrides DefaultBasePath.
func WithBasePath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.basePath = path
		}
	}
}

// WithBodyLimit caps request bodies in bytes.
func WithBodyLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// Server is the HTTP transport of the account service.
type Server struct {
	app            *fiber.App
	service        AccountService
	tokens         jwtware.TokenVerifier
	logger         accounts.Logger
	loggerProvider accounts.LoggerProvider
	limitConfig    *RateLimiterConfig
	limiter        *RateLimiter
	registry       *prometheus.Registry
	metrics        *Metrics
	sanitizer      *Sanitizer
	health         map[string]HealthCheck
	basePath       string
	bodyLimit      int
}

// New builds the fiber app and mounts every route.
func New(service AccountService, tokens jwtware.TokenVerifier, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, errors.New("server: account service is required")
	}
	if tokens == nil {
		return nil, errors.New("server: token verifier is required")
	}

	s := &Server{
		service:   service,
		tokens:    tokens,
		sanitizer: NewSanitizer(),
		health:    map[string]HealthCheck{},
		basePath:  DefaultBasePath,
		bodyLimit: 64 * 1024,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.logger = accounts.ResolveLogger("accounts.server", s.loggerProvider, s.logger)

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)

	if s.limitConfig != nil {
		s.limiter = NewRateLimiter(*s.limitConfig, s.logger)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "accountsd",
		ErrorHandler:          s.errorHandler,
		BodyLimit:             s.bodyLimit,
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	s.routes()

	return s, nil
}

// App exposes the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(s.metrics.Middleware())

	s.app.Get("/healthz", s.healthz)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	throttle := func(c *fiber.Ctx) error { return c.Next() }
	if s.limiter != nil {
		throttle = s.limiter.Middleware()
	}

	authn := jwtware.New(jwtware.Config{TokenVerifier: s.tokens})
	c := &AccountController{service: s.service, sanitizer: s.sanitizer, logger: s.logger}

	api := s.app.Group(s.basePath)

	api.Post("/register", c.Register).Name("register.post")
	api.Post("/activate/:id", c.Activate).Name("activate.post")
	api.Post("/login", throttle, c.Login).Name("login.post")
	api.Post("/reset-password/request", throttle, c.RequestPasswordReset).Name("pwd-reset.post")
	api.Post("/reset-password/confirm", c.ConfirmPasswordReset).Name("pwd-reset-do.post")

	api.Get("/users/:id/info", authn, c.GetAccount).Name("user-info.get")
	api.Put("/profiles/:id", authn, c.UpdateProfile).Name("profile.put")
	api.Post("/users/:id/deactivate", authn, c.Deactivate).Name("deactivate.post")
	api.Post("/users/:id/reactivate", authn, c.Reactivate).Name("reactivate.post")
	api.Post("/users/:id/deletion-request", authn, c.RequestDeletion).Name("deletion-request.post")
	api.Delete("/users/:id", authn, c.Delete).Name("user.delete")
	api.Post("/admins", authn, c.CreateAdmin).Name("admins.post")
	api.Put("/users/:id/role", authn, c.UpdateRole).Name("role.put")
}

func (s *Server) healthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = "down"
			s.logger.Warn("health check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "up"
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": checks})
}
