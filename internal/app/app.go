// Package app wires configuration into stores, repositories and services.
// Both the HTTP server and perswayctl build on it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rpattn/persway/internal/audience"
	"github.com/rpattn/persway/internal/config"
	"github.com/rpattn/persway/internal/db"
	"github.com/rpattn/persway/internal/export"
	"github.com/rpattn/persway/internal/ingestion"
	"github.com/rpattn/persway/internal/lock"
	"github.com/rpattn/persway/internal/logger"
	"github.com/rpattn/persway/internal/metafield"
	"github.com/rpattn/persway/internal/repository"
)

type App struct {
	Config config.Config
	Log    *logger.Logger

	Store  metafield.Store
	Locker lock.Locker

	Profiles   repository.ProfileRepository
	Migrations repository.MigrationRepository
	Audiences  repository.AudienceRepository

	Ingestion *ingestion.Service
	Audience  *audience.Service
	// Export is nil when the store backend cannot enumerate metafields.
	Export *export.Service

	closers []func()
}

// Build opens the configured store backend and locker and wires the services
// on top. The Postgres backend is migrated before use.
func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Config: cfg, Log: log}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Locker = locker

	a.Profiles = repository.NewProfileRepository(store)
	a.Migrations = repository.NewMigrationRepository(store)
	a.Audiences = repository.NewAudienceRepository(store)

	a.Ingestion = ingestion.NewService(a.Profiles, a.Migrations,
		ingestion.WithLocker(locker),
		ingestion.WithLogger(log.With("component", "ingestion")),
		ingestion.WithMaxConcurrency(cfg.Ingest.MaxConcurrency),
	)
	a.Audience = audience.NewService(a.Audiences,
		audience.WithLocker(locker),
		audience.WithLogger(log.With("component", "audience")),
	)
	if lister, ok := store.(metafield.Lister); ok {
		a.Export = export.NewService(repository.NewProfileLister(lister))
	} else {
		log.Warn("store backend cannot list metafields, profile export disabled", "backend", cfg.Store.Backend)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (metafield.Store, error) {
	switch a.Config.Store.Backend {
	case config.BackendSQLite:
		store, err := metafield.OpenSQLite(a.Config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Log.Info("using sqlite metafield store", "path", a.Config.Store.SQLitePath)
		return store, nil

	case config.BackendShopify:
		limiter := metafield.NewLimiter(a.Config.Shopify.RateLimit.MaxRequests, a.Config.Shopify.RateLimit.Window)
		store, err := metafield.NewShopifyStore(metafield.ShopifyConfig{
			ShopDomain:  a.Config.Shopify.ShopDomain,
			AccessToken: a.Config.Shopify.AccessToken,
			APIVersion:  a.Config.Shopify.APIVersion,
		}, &http.Client{Timeout: 15 * time.Second}, limiter)
		if err != nil {
			return nil, err
		}
		a.Log.Info("using shopify metafield store", "shop", a.Config.Shopify.ShopDomain)
		return store, nil

	case config.BackendPostgres:
		if err := db.RunMigrations(a.Config.Database); err != nil {
			return nil, err
		}
		conn, err := db.NewConnection(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		a.Log.Info("using postgres metafield store", "host", a.Config.Database.Host, "db", a.Config.Database.DBName)
		return metafield.NewPostgresStore(conn.Pool), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
	}
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return lock.NewMemoryLocker(), nil
	}
	locker, err := lock.NewRedisLocker(ctx, a.Config.Redis.Addr,
		lock.WithTTL(a.Config.Redis.LockTTL),
		lock.WithLockLogger(a.Log.With("component", "lock")),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = locker.Close() })
	a.Log.Info("using redis customer locks", "addr", a.Config.Redis.Addr)
	return locker, nil
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
