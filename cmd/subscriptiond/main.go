// Command subscriptiond serves the entitlement and subscription API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/subscription_layer/internal/app/runtime"
	"github.com/R3E-Network/subscription_layer/internal/config"
	"github.com/R3E-Network/subscription_layer/internal/platform/migrations"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	boot := logger.NewDefault("subscriptiond")

	cfg, err := config.Load(*envFile)
	if err != nil {
		boot.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Logger()).Named("subscriptiond")

	if *migrateOnly {
		if cfg.Storage.Driver != config.DriverPostgres {
			log.Error("-migrate requires STORAGE_DRIVER=postgres")
			os.Exit(1)
		}
		if err := migrations.Up(cfg.Storage.DatabaseURL); err != nil {
			log.WithError(err).Error("migration failed")
			os.Exit(1)
		}
		version, dirty, err := migrations.Version(cfg.Storage.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("read migration version")
			os.Exit(1)
		}
		log.WithField("version", version).WithField("dirty", dirty).Info("migrations applied")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build application")
		os.Exit(1)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("server error")
	}

	log.Info("shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
	log.Info("stopped")
}
