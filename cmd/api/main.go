package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/clock"
	"github.com/lamergameryt/entrypoint/internal/config"
	"github.com/lamergameryt/entrypoint/internal/events"
	"github.com/lamergameryt/entrypoint/internal/logging"
	"github.com/lamergameryt/entrypoint/internal/scheduler"
	"github.com/lamergameryt/entrypoint/internal/storage/memory"
	"github.com/lamergameryt/entrypoint/internal/storage/postgres"
	transporthttp "github.com/lamergameryt/entrypoint/internal/transport/http"
	"github.com/lamergameryt/entrypoint/migrations"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const startupTimeout = 5 * time.Second

func main() {
	envFile, envErr := config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	switch {
	case envErr != nil:
		log.WithError(envErr).Warn("failed to load .env")
	case envFile == "":
		log.Debug(".env not found in current or parent directories")
	default:
		log.WithField("path", envFile).Info("loaded env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("api exited")
	}
	log.Info("server stopped")
}

type repositories struct {
	ledger app.LedgerRepository
	holds  app.HoldRepository
	idem   app.IdempotencyRepository
	admin  app.AdminRepository
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	repos, closeStorage, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	publisher, closePublisher := openPublisher(cfg.AMQP, log)
	defer closePublisher()

	clk := clock.NewSystem()
	ledger := app.NewLedger(repos.ledger, clk, log,
		app.WithMaxRetries(cfg.Reservation.MaxRetries),
		app.WithRetryDelay(cfg.Reservation.RetryDelay),
	)
	guard := app.NewGuard(repos.idem, clk, cfg.Reservation.IdempotencyRetention)
	holds := app.NewHoldManager(repos.holds, ledger, guard, clk, app.WithHoldTTL(cfg.Reservation.HoldTTL))
	coordinator := app.NewCoordinator(holds, ledger, guard, clk, publisher, log)
	adminSvc := app.NewAdminService(repos.admin, ledger, clk)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		JWTSecret:   cfg.Auth.Secret,
		JWTIssuer:   cfg.Auth.Issuer,
	}, coordinator, adminSvc, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	sweeper := scheduler.New(coordinator, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, log)

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper.Start(runCtx)
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()
		log.Info("shutdown signal received, stopping server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (repositories, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return repositories{ledger: store, holds: store, idem: store, admin: store}, func() {}, nil
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(startupCtx, poolCfg)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(startupCtx); err != nil {
		pool.Close()
		return repositories{}, nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrations.Apply(startupCtx, pool, log); err != nil {
		pool.Close()
		return repositories{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return repositories{
		ledger: postgres.NewLedgerRepository(pool),
		holds:  postgres.NewHoldRepository(pool),
		idem:   postgres.NewIdempotencyRepository(pool),
		admin:  postgres.NewAdminRepository(pool),
	}, pool.Close, nil
}

// openPublisher falls back to dropping events when AMQP is not configured or
// the broker is unreachable at startup.
func openPublisher(cfg config.AMQPConfig, log logrus.FieldLogger) (app.EventPublisher, func()) {
	if cfg.URL == "" {
		log.Info("AMQP_URL not set, reservation events are not published")
		return app.NopPublisher(), func() {}
	}

	publisher, err := events.NewPublisher(cfg.URL, cfg.Exchange, log)
	if err != nil {
		log.WithError(err).Warn("connect to broker, reservation events are not published")
		return app.NopPublisher(), func() {}
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("close publisher")
		}
	}
}
