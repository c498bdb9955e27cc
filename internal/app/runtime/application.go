// Package runtime assembles the subscription daemon from configuration.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	app "github.com/R3E-Network/subscription_layer/internal/app"
	"github.com/R3E-Network/subscription_layer/internal/app/httpapi"
	"github.com/R3E-Network/subscription_layer/internal/app/notify"
	"github.com/R3E-Network/subscription_layer/internal/app/services/lifecycle"
	"github.com/R3E-Network/subscription_layer/internal/app/services/payments"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/memory"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/redis"
	"github.com/R3E-Network/subscription_layer/internal/chain"
	"github.com/R3E-Network/subscription_layer/internal/config"
	"github.com/R3E-Network/subscription_layer/internal/platform/migrations"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
	closers    []io.Closer
}

// NewApplication builds stores, services and the HTTP server described by cfg.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging.Logger())
	}

	stores, db, closers, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	rpc, err := chain.NewClient(chain.Config{RPCURL: cfg.Chain.RPCURL, Timeout: cfg.Chain.RPCTimeout})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("configure chain client: %w", err)
	}

	senders := []notify.Sender{notify.NewWebhookSender(cfg.Notify.WebhookTimeout)}
	if email := notify.NewEmailSender(cfg.Notify.SendGridAPIKey, cfg.Notify.FromName, cfg.Notify.FromEmail); email != nil {
		senders = append(senders, email)
	} else {
		log.Warn("SENDGRID_API_KEY or NOTIFY_FROM_EMAIL not set; email notifications disabled")
	}

	application, err := app.New(stores, app.Options{
		Plans: cfg.Plans,
		Chain: rpc,
		Payment: payments.Config{
			TokenHash: cfg.Chain.TokenHash,
			Treasury:  cfg.Chain.Treasury,
			Decimals:  cfg.Chain.Decimals,
		},
		Lifecycle:    lifecycle.Config{PublicURL: cfg.Lifecycle.PublicURL},
		Senders:      senders,
		Schedule:     cfg.Lifecycle.Schedule,
		SweepTimeout: cfg.Lifecycle.SweepTimeout,
	}, log)
	if err != nil {
		closeAll()
		return nil, err
	}

	handler := httpapi.NewHandler(application, httpapi.Config{
		CronSecret:     cfg.HTTP.CronSecret,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		SweepTimeout:   cfg.Lifecycle.SweepTimeout,
		Health:         healthCheck(db, rpc),
	}, log.Named("http"))

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		db:      db,
		closers: closers,
	}, nil
}

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then background services, then closes
// store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.WithError(err).Warn("error closing store connection")
		}
	}
	return errors.Join(errs...)
}

type blockCounter interface {
	GetBlockCount(ctx context.Context) (uint32, error)
}

// healthCheck pings the ledger database, when there is one, and the chain node.
func healthCheck(db *sql.DB, node blockCounter) func(context.Context) error {
	return func(ctx context.Context) error {
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if _, err := node.GetBlockCount(ctx); err != nil {
			return fmt.Errorf("chain node: %w", err)
		}
		return nil
	}
}

func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, []io.Closer, error) {
	var (
		stores  app.Stores
		db      *sql.DB
		closers []io.Closer
	)

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if err := migrations.Up(cfg.Storage.DatabaseURL); err != nil {
			return app.Stores{}, nil, nil, err
		}
		var err error
		db, err = postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return app.Stores{}, nil, nil, err
		}
		closers = append(closers, db)
		store := postgres.New(db)
		stores = app.Stores{Users: store, Subscriptions: store, Payments: store, Usage: store}
	case config.DriverMemory:
		log.Warn("STORAGE_DRIVER=memory; ledger state is lost on restart")
		mem := memory.New()
		stores = app.Stores{Users: mem, Subscriptions: mem, Payments: mem, Usage: mem}
	default:
		return app.Stores{}, nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	var usageStore storage.UsageStore
	switch cfg.Storage.UsageBackend {
	case config.DriverRedis:
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return app.Stores{}, nil, nil, err
		}
		closers = append(closers, client)
		usageStore = redis.NewUsageStore(client, cfg.Storage.UsageRetention)
	case config.DriverMemory:
		usageStore = memory.New()
	}
	if usageStore != nil {
		stores.Usage = usageStore
	}
	return stores, db, closers, nil
}
