// Command server runs the NCR quality workflow API.
//
//	@title			NCR Quality Workflow API
//	@version		1.0
//	@description	Non-conformance tickets, AQL evaluation, multi-level approval and DNXL remediation.
//	@BasePath		/api/v1
//	@accept			json
//	@produce		json
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-ncr-backend/internal/cache"
	"github.com/tbourn/go-ncr-backend/internal/config"
	"github.com/tbourn/go-ncr-backend/internal/events"
	httpapi "github.com/tbourn/go-ncr-backend/internal/http"
	"github.com/tbourn/go-ncr-backend/internal/observability"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/scheduler"
	"github.com/tbourn/go-ncr-backend/internal/search"
	"github.com/tbourn/go-ncr-backend/internal/sysutil"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

func main() {
	cfg := config.MustLoad()
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	gin.SetMode(cfg.GinMode)
	version := sysutil.Version()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	catalog, err := workflow.LoadCatalog(cfg.DepartmentsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.DepartmentsFile).Msg("load department catalog")
	}
	defects, err := search.LoadNames(cfg.DefectsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.DefectsFile).Msg("load defect names")
	}

	var store cache.Store = cache.NewMemory()
	var pub events.Publisher = events.Nop{}
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
		}
		store = cache.NewRedis(rdb)
		bus := events.NewRedis(rdb, cfg.RedisChannel)
		pub = bus
		// The cache generation lives in the same Redis, so other instances'
		// writes already invalidate ours. The subscription only traces them.
		if err := bus.Subscribe(log.Logger.WithContext(ctx), func(ev events.StatusChanged) {
			log.Debug().
				Str("kind", string(ev.Kind)).
				Str("id", ev.ID).
				Str("action", ev.Action).
				Str("to", ev.To).
				Msg("status changed")
		}); err != nil {
			log.Warn().Err(err).Msg("event subscription unavailable")
		}
	}
	defer func() { _ = store.Close() }()

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:          db,
		Catalog:     catalog,
		Cache:       cache.NewTicketCache(store, cfg.CacheTTL),
		Events:      pub,
		SeedDefects: defects,
	}, cfg)

	jobs := scheduler.New(db, scheduler.Options{
		StaleSpec:  cfg.CronStaleScan,
		PurgeSpec:  cfg.CronIdempotencyPurge,
		StaleAfter: cfg.StaleAfter,
	})
	if err := jobs.Start(); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("catalog", catalog.Version()).
			Int("defects", len(defects)).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	jobs.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
