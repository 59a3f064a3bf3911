package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidfriends/groupcast/internal/broadcast"
	"github.com/vidfriends/groupcast/internal/config"
	"github.com/vidfriends/groupcast/internal/db"
	"github.com/vidfriends/groupcast/internal/groups"
	"github.com/vidfriends/groupcast/internal/handlers"
	"github.com/vidfriends/groupcast/internal/invites"
	"github.com/vidfriends/groupcast/internal/membership"
	"github.com/vidfriends/groupcast/internal/middleware"
	"github.com/vidfriends/groupcast/internal/repositories"
	"github.com/vidfriends/groupcast/internal/repositories/sqlite"
	"github.com/vidfriends/groupcast/internal/storage"
	"github.com/vidfriends/groupcast/internal/uploads"
)

// contentStore is the delivery history backing both the dispatcher and the
// status tracker.
type contentStore interface {
	broadcast.ContentCreator
	membership.History
}

var (
	_ groups.Repository           = (*repositories.PostgresGroupRepository)(nil)
	_ groups.Repository           = (*sqlite.Store)(nil)
	_ contentStore                = (*repositories.PostgresContentRepository)(nil)
	_ contentStore                = (*sqlite.Store)(nil)
	_ uploads.Transport           = (*storage.S3Transport)(nil)
	_ broadcast.UploadCoordinator = (*uploads.Coordinator)(nil)
	_ handlers.GroupService       = (*groups.Store)(nil)
	_ handlers.Broadcaster        = (*broadcast.Dispatcher)(nil)
	_ handlers.StatusTracker      = (*membership.Tracker)(nil)
	_ handlers.RateLimiter        = (*middleware.KeyedLimiter)(nil)
)

// backend bundles the persistence implementations selected by configuration.
type backend struct {
	groups  groups.Repository
	content contentStore
	ping    func(ctx context.Context) error
	close   func()
}

// openBackend picks SQLite for sqlite:/file: URLs and PostgreSQL otherwise.
func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	if cfg.UsesSQLite() {
		store, err := sqlite.Open(sqlite.PathFromURL(cfg.DatabaseURL))
		if err != nil {
			return backend{}, err
		}
		return backend{
			groups:  store,
			content: store,
			ping:    store.Ping,
			close:   func() { _ = store.Close() },
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}
	return backend{
		groups:  repositories.NewPostgresGroupRepository(pool),
		content: repositories.NewPostgresContentRepository(pool),
		ping:    pool.Ping,
		close:   pool.Close,
	}, nil
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, store backend, cfg config.Config, reg *prometheus.Registry, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	transport, err := storage.NewS3Transport(ctx, cfg.ObjectStore)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	return assemble(store, transport, cfg, reg, logger)
}

func assemble(store backend, transport uploads.Transport, cfg config.Config, reg *prometheus.Registry, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	windows, err := membership.NewCronWindows(cfg.StatusWindow, time.UTC)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("status window: %w", err)
	}

	coordinator := uploads.NewCoordinator(transport, uploads.Config{
		Timeout: cfg.UploadTimeout,
		Logger:  logger,
		Metrics: uploads.NewMetrics(reg),
	})

	dispatcher := broadcast.NewDispatcher(coordinator, store.content, broadcast.Config{
		Workers:         cfg.DeliveryWorkers,
		DeliveryTimeout: cfg.DeliveryTimeout,
		RatePerSecond:   cfg.DeliveryRate,
		Metrics:         broadcast.NewMetrics(reg),
	})

	groupStore := groups.NewStore(store.groups, invites.NewGenerator(cfg.InviteCodeLength), groups.StoreConfig{
		MaxCodeAttempts: cfg.InviteCodeAttempts,
	})

	deps := handlers.Dependencies{
		Groups:      groupStore,
		Broadcasts:  dispatcher,
		Statuses:    membership.NewTracker(store.content),
		Windows:     windows,
		JoinLimiter: middleware.NewKeyedLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow, cfg.JoinRateBurst, 10*time.Minute),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HealthCheck: store.ping,
	}

	return deps, coordinator.Shutdown, nil
}
