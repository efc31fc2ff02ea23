package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/config"
	httptransport "courier/internal/http"
	"courier/internal/infra"
	"courier/internal/logging"
	"courier/internal/modules/assignment"
	"courier/internal/modules/broadcast"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/modules/matching"
)

type stores struct {
	drivers    driver.Store
	users      driver.UserDirectory
	deliveries delivery.Store
	ledger     location.Ledger
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	st, closeDB, err := openStores(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer closeDB()

	var geo location.GeoIndex
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		geo = location.NewRedisGeoIndex(rdb)
		log.Info("redis geo index enabled", "addr", cfg.Redis.Addr)
	}

	policy, err := assignment.ParsePolicy(cfg.Assignment.UnassignPolicy)
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(cfg.Broadcast.BufferSize, log)
	registry := driver.NewRegistry(st.drivers, st.users, log)
	tracker := location.NewTracker(registry, st.ledger, st.deliveries, hub, location.Options{
		HistoryDefaultLimit: cfg.Location.HistoryDefaultLimit,
		Geo:                 geo,
	}, log)
	matcher := matching.NewMatcher(registry, matching.Options{
		MaxStaleness: cfg.Matching.MaxStaleness,
		Geo:          geo,
	}, log)
	coordinator := assignment.NewCoordinator(registry, st.deliveries, hub, policy, log)

	if geo != nil {
		n, err := tracker.Reindex(ctx)
		if err != nil {
			log.Warn("geo reindex failed", "err", err)
		} else {
			log.Info("geo index rebuilt", "drivers", n)
		}
	}

	if cfg.RabbitMQ.URL != "" {
		mq, err := infra.NewRabbitMQ(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return err
		}
		defer mq.Close()
		dispatcher := matching.NewDispatcher(matcher, coordinator, st.deliveries, mq, log)
		consumer := matching.NewConsumer(mq, dispatcher, matching.ConsumerConfig{
			Queue:      cfg.RabbitMQ.Queue,
			BindingKey: cfg.RabbitMQ.BindingKey,
			Prefetch:   cfg.RabbitMQ.Prefetch,
		}, log)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("delivery consumer stopped", "err", err)
			}
		}()
		defer consumer.Wait()
	}

	server := httptransport.NewServer(cfg.HTTP.Addr, cfg.HTTP.ShutdownTimeout, httptransport.ServerDeps{
		Registry:        registry,
		Tracker:         tracker,
		Matcher:         matcher,
		Coordinator:     coordinator,
		Hub:             hub,
		Verifier:        verifier,
		Log:             log,
		DefaultRadiusKm: cfg.Matching.DefaultRadiusKm,
	})
	return server.Run(ctx)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (infra.TokenVerifier, error) {
	switch cfg.Mode {
	case "firebase":
		return infra.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	case "jwt":
		return infra.NewJWTVerifier(cfg.JWTSecret)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// openStores picks Postgres when a DSN is configured and in-memory stores otherwise.
func openStores(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (stores, func(), error) {
	if cfg.DSN == "" {
		log.Warn("db.dsn not set; using in-memory stores")
		return stores{
			drivers:    driver.NewMemoryStore(),
			deliveries: delivery.NewMemoryStore(),
			ledger:     location.NewMemoryLedger(),
		}, func() {}, nil
	}
	db, err := infra.NewDB(ctx, cfg.DSN)
	if err != nil {
		return stores{}, nil, err
	}
	if err := probeSchema(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		drivers:    driver.NewPGStore(db),
		users:      driver.NewPGUserDirectory(db),
		deliveries: delivery.NewPGStore(db),
		ledger:     location.NewPGLedger(db),
	}, db.Close, nil
}

var errSchemaMissing = errors.New("database schema missing; run `courier-api migrate` first")

func probeSchema(ctx context.Context, db *pgxpool.Pool) error {
	var ok bool
	if err := db.QueryRow(ctx, `SELECT to_regclass('public.driver_locations') IS NOT NULL`).Scan(&ok); err != nil {
		return fmt.Errorf("probe schema: %w", err)
	}
	if !ok {
		return errSchemaMissing
	}
	return nil
}
