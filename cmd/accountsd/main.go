package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/adapters/memory"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/publisher"
	"github.com/goliatone/go-accounts/repository"
	"github.com/goliatone/go-accounts/server"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
)

// App holds the process wide dependencies.
type App struct {
	config   *config.Config
	logger   accounts.LoggerProvider
	registry *prometheus.Registry

	db      *bun.DB
	stores  accounts.Stores
	health  server.HealthCheck
	events  accounts.EventPublisher
	closers []io.Closer

	tokens  *accounts.TokenService
	service *accounts.Service
	srv     *server.Server
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		glog.NewLogger(glog.WithWriter(os.Stderr), glog.WithName("accountsd")).
			Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	app := &App{
		config:   cfg,
		logger:   newLogger(cfg, os.Stdout),
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		app.GetLogger("app").Error("accountsd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	defer app.Close()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}

	if err := WithEvents(app); err != nil {
		return err
	}

	if err := WithAccounts(app); err != nil {
		return err
	}

	if err := WithHTTPServer(app); err != nil {
		return err
	}

	return Serve(ctx, app)
}

// GetLogger returns a named logger.
func (a *App) GetLogger(name string) accounts.Logger {
	return a.logger.GetLogger(name)
}

// Close releases every resource opened by the With* steps.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.GetLogger("app").Warn("failed to close resource", "error", err)
		}
	}
}

// WithPersistence opens the configured store and applies migrations.
func WithPersistence(ctx context.Context, app *App) error {
	logger := app.GetLogger("persistence")

	if app.config.StorageDriver == config.DriverMemory {
		app.stores = memory.NewStore()
		app.health = func(context.Context) error { return nil }
		logger.Warn("using in-memory storage, data is lost on exit")
		return nil
	}

	db, err := repository.Open(ctx, app.config.StorageDriver, app.config.DatabaseURL)
	if err != nil {
		return err
	}
	app.db = db
	app.closers = append(app.closers, db)
	app.registry.MustRegister(collectors.NewDBStatsCollector(db.DB, app.config.StorageDriver))

	applied, err := repository.Migrate(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("database ready", "driver", app.config.StorageDriver, "migrations_applied", applied)

	repos := repository.NewRepositoryManager(db)
	repos.MustValidate()
	app.stores = repos
	app.health = repos.Ping

	return nil
}

// WithEvents builds the event publisher: Kafka when brokers are configured,
// structured logs otherwise.
func WithEvents(app *App) error {
	logger := app.GetLogger("events")

	var sink accounts.EventPublisher = publisher.NewLogPublisher(logger)

	if len(app.config.KafkaBrokers) > 0 {
		kafka, err := publisher.NewKafkaPublisher(app.config.KafkaBrokers,
			publisher.WithKafkaLogger(app.GetLogger("events.kafka")),
		)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, kafka)
		sink = publisher.Fanout{kafka, sink}
		logger.Info("publishing events to kafka", "brokers", app.config.KafkaBrokers, "topic", app.config.KafkaTopic)
	}

	app.events = publisher.NewMetrics(app.registry).Instrument(sink)
	return nil
}

// WithAccounts wires hashing, tokens and the lifecycle service.
func WithAccounts(app *App) error {
	hasher, err := accounts.NewBcryptHasher(app.config.BcryptCost)
	if err != nil {
		return err
	}

	app.tokens, err = accounts.NewTokenService(
		[]byte(app.config.JWTSigningKey),
		app.config.JWTTTL,
		app.config.JWTIssuer,
		accounts.WithTokenLogger(app.GetLogger("accounts.tokens")),
	)
	if err != nil {
		return err
	}

	app.service, err = accounts.NewService(app.stores, hasher, app.tokens,
		accounts.WithLoggerProvider(app.logger),
		accounts.WithEventPublisher(app.events),
		accounts.WithEventTopic(app.config.KafkaTopic),
		accounts.WithPublishTimeout(app.config.PublishTimeout),
		accounts.WithRequireActivation(app.config.RequireActivation),
		accounts.WithResetTokenOptions(accounts.WithResetTokenTTL(app.config.ResetTokenTTL)),
	)
	return err
}

// WithHTTPServer mounts the HTTP routes.
func WithHTTPServer(app *App) error {
	srv, err := server.New(app.service, app.tokens,
		server.WithLoggerProvider(app.logger),
		server.WithRegistry(app.registry),
		server.WithHealthCheck("storage", app.health),
		server.WithLoginRateLimit(server.PerMinute(app.config.LoginRatePerMinute, app.config.LoginRateBurst)),
	)
	if err != nil {
		return err
	}
	app.srv = srv
	return nil
}

// Serve blocks until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, app *App) error {
	logger := app.GetLogger("app")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.srv.Listen(app.config.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", app.config.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	if err := app.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLogger builds the root logger. Components get named children from it.
func newLogger(cfg *config.Config, w io.Writer) *glog.BaseLogger {
	loggerType := glog.LoggerTypeJSON
	if cfg.LogFormat == "text" {
		loggerType = glog.LoggerTypeConsole
	}

	return glog.NewLogger(
		glog.WithLoggerType(loggerType),
		glog.WithLevel(cfg.LogLevel),
		glog.WithName("accountsd"),
		glog.WithWriter(w),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}
