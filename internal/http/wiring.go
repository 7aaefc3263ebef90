package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Slamanii/Ride-hailing/internal/config"
	"github.com/Slamanii/Ride-hailing/internal/dispatch"
	"github.com/Slamanii/Ride-hailing/internal/eta"
	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/ingest"
	"github.com/Slamanii/Ride-hailing/internal/limiter"
	"github.com/Slamanii/Ride-hailing/internal/matcher"
	"github.com/Slamanii/Ride-hailing/internal/registry"
	"github.com/Slamanii/Ride-hailing/internal/settlement"
	"github.com/Slamanii/Ride-hailing/internal/storage"
	"github.com/Slamanii/Ride-hailing/internal/trips"
)

// NewServerFromConfig wires the API from configuration with fallbacks for
// local runs: memory storage without PG_DSN, an in-process directory without
// Redis or Postgres, and offline settlement without a Stripe key. The
// returned func releases external connections.
func NewServerFromConfig(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Server, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var store storage.Store
	var pg *storage.PostgresStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, ps.Close)
		if cfg.RunMigrations {
			if err := migrate(ctx, ps, cfg.MigrationPath); err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			logger.Info("migration applied", "path", cfg.MigrationPath)
		}
		store, pg = ps, ps
	} else {
		store = storage.NewMemoryStore()
	}

	var dir geo.Directory
	switch {
	case cfg.RedisAddr != "":
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		closers = append(closers, rg.Close)
		dir = rg
	case pg != nil:
		dir = pg
	default:
		dir = geo.NewIndex()
	}

	reg := registry.New()
	ws := dispatch.NewWSRegistry(logger)
	var notifier matcher.Notifier = ws
	if cfg.DriverNotifyURL != "" {
		notifier = &dispatch.Fallback{Primary: ws, Secondary: dispatch.NewHTTPDispatcher(cfg.DriverNotifyURL)}
	}

	var settler trips.Settler = settlement.OfflineSettler{}
	if cfg.StripeAPIKey != "" {
		settler = settlement.NewStripeSettler(cfg.StripeAPIKey, cfg.SettlementCurrency)
	} else {
		logger.Warn("STRIPE_API_KEY not set, trips settle offline")
	}

	deps := Deps{Directory: dir, Store: store, Registry: reg, WS: ws}
	tripSvc := &trips.Service{
		Trips:    store,
		Drivers:  dir,
		Settler:  settler,
		FareRate: cfg.FareSettlementRate,
		Log:      logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventTopic)
		closers = append(closers, kp.Close)
		deps.Locations = kp
		tripSvc.Events = kp
	}
	if cfg.OSRMURL != "" {
		deps.ETA = &eta.Estimator{Client: eta.NewOSRMClient(cfg.OSRMURL), Cache: eta.NewCache(cfg.ETACacheTTL)}
	}

	deps.Trips = tripSvc
	deps.Matcher = &matcher.Service{
		Dir:      dir,
		Notify:   notifier,
		Registry: reg,
		Trips:    store,
		Riders:   store,
		Limiter:  limiter.New(store),
		Cfg: matcher.Config{
			Rounds:             cfg.MatchRounds,
			CandidatesPerRound: cfg.MatchCandidates,
			ResponseTimeout:    cfg.MatchResponseTimeout,
			RoundBackoff:       cfg.MatchRoundBackoff,
			ProximityKm:        cfg.MatchProximityKm,
			RequireRider:       cfg.MatchRequireRider,
		},
		Log: logger,
	}
	return NewServer(deps, logger), closeAll, nil
}

func migrate(ctx context.Context, ps *storage.PostgresStore, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if err := ps.Migrate(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}
