package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/notify"
	"github.com/R3E-Network/subscription_layer/internal/app/services/entitlements"
	"github.com/R3E-Network/subscription_layer/internal/app/services/lifecycle"
	"github.com/R3E-Network/subscription_layer/internal/app/services/notifications"
	"github.com/R3E-Network/subscription_layer/internal/app/services/payments"
	"github.com/R3E-Network/subscription_layer/internal/app/services/quota"
	"github.com/R3E-Network/subscription_layer/internal/app/services/subscriptions"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/memory"
	"github.com/R3E-Network/subscription_layer/internal/app/system"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Subscriptions storage.SubscriptionStore
	Payments      storage.PaymentStore
	Usage         storage.UsageStore
}

// Options configures the domain services.
type Options struct {
	Plans     tier.Catalogue
	Chain     payments.ChainReader
	Payment   payments.Config
	Lifecycle lifecycle.Config
	// Senders are tried in order when notifying a user.
	Senders []notify.Sender
	// Schedule is the cron expression for the lifecycle sweep. Empty disables
	// the in-process scheduler.
	Schedule     string
	SweepTimeout time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Plans         tier.Catalogue
	Verifier      *payments.Verifier
	Subscriptions *subscriptions.Service
	Entitlements  *entitlements.Resolver
	Quota         *quota.Guard
	Lifecycle     *lifecycle.Reconciler
	Notifications *notifications.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Plans == nil {
		opts.Plans = tier.DefaultCatalogue()
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Subscriptions == nil {
		stores.Subscriptions = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}

	verifier, err := payments.NewVerifier(opts.Chain, opts.Plans, opts.Payment, log.Named("payments"))
	if err != nil {
		return nil, fmt.Errorf("configure payment verifier: %w", err)
	}

	dispatcher := notify.NewDispatcher(log.Named("notify"), opts.Senders...)
	reconciler := lifecycle.New(stores.Users, stores.Subscriptions, dispatcher, opts.Plans, opts.Lifecycle, log.Named("lifecycle"))
	resolver := entitlements.New(stores.Subscriptions, reconciler, log.Named("entitlements"))
	guard := quota.New(stores.Usage, resolver, opts.Plans, log.Named("quota"))
	subService := subscriptions.New(stores.Subscriptions, stores.Payments, verifier, opts.Plans, log.Named("subscriptions"))
	notifyService := notifications.New(stores.Users, dispatcher, log.Named("notifications"))

	manager := system.NewManager()
	if opts.Schedule != "" {
		scheduler, err := lifecycle.NewScheduler(reconciler, opts.Schedule, opts.SweepTimeout, log.Named("lifecycle-scheduler"))
		if err != nil {
			return nil, fmt.Errorf("configure lifecycle scheduler: %w", err)
		}
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	} else {
		log.Warn("lifecycle schedule not set; sweeps run only on demand")
	}

	return &Application{
		manager:       manager,
		log:           log,
		Plans:         opts.Plans,
		Verifier:      verifier,
		Subscriptions: subService,
		Entitlements:  resolver,
		Quota:         guard,
		Lifecycle:     reconciler,
		Notifications: notifyService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
