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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/vintaloop/go-listing-backend/internal/browser"
	"github.com/vintaloop/go-listing-backend/internal/config"
	"github.com/vintaloop/go-listing-backend/internal/genai"
	httpapi "github.com/vintaloop/go-listing-backend/internal/http"
	"github.com/vintaloop/go-listing-backend/internal/humanize"
	"github.com/vintaloop/go-listing-backend/internal/kv"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/observability"
	"github.com/vintaloop/go-listing-backend/internal/quota"
	"github.com/vintaloop/go-listing-backend/internal/repo"
	"github.com/vintaloop/go-listing-backend/internal/scheduler"
	"github.com/vintaloop/go-listing-backend/internal/services"
	"github.com/vintaloop/go-listing-backend/internal/sysutil"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	setupLogging(cfg)
	log.Info().Str("version", version).Msg("listing autopilot starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	store, err := kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
	}
	locks := lock.NewRedisManager(store.Client())

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	v, err := vault.New(store, cfg.VaultKey, cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session vault")
	}

	manager := browser.NewManager(cfg.Browser)
	if err := manager.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize browser runtime")
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("browser shutdown failed")
		}
	}()

	factory := browser.Pooled(manager, cfg.Browser.Workers)
	exec := &browser.Executor{
		Registry:   browser.DefaultRegistry(),
		BaseURL:    cfg.BaseURL,
		NavRetries: cfg.Browser.NavRetries,
		NewSampler: humanize.Factory(cfg.Humanize),
	}
	guard := quota.NewGuard(store, cfg.Quota)
	limiter := rate.NewLimiter(rate.Limit(cfg.Scheduler.ActionRPS), cfg.Scheduler.ActionBurst)

	listingSvc := services.NewListingService(db, store, v, locks, guard, factory, exec,
		localCatalog{root: cfg.DraftsDir}, cfg.TokenTTL, cfg.IdempotencyTTL, cfg.Scheduler.LockTTL)
	if cfg.GenAI.APIKey != "" {
		listingSvc.Suggester = genai.NewSuggester(cfg.GenAI.APIKey, cfg.GenAI.Model)
	}
	automationSvc := services.NewAutomationService(db, store, v, locks, guard, factory, exec,
		limiter, cfg.Scheduler.LockTTL)
	sessionSvc := services.NewSessionService(v, locks, factory, exec, cfg.Scheduler.LockTTL)

	if cfg.HTTP.Addr != "" {
		srv := startAPI(cfg, httpapi.Deps{
			DB:       db,
			Store:    store,
			Sessions: sessionSvc,
			Listings: listingSvc,
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("api server shutdown failed")
			}
		}()
	}

	sched := scheduler.NewService(automationSvc, listingSvc, cfg.Scheduler.Tick, cfg.Scheduler.ReconcileInterval)
	sched.Start(ctx)

	log.Info().Msg("listing autopilot stopped")
}

// startAPI launches the operator API in the background and returns the server
// for graceful shutdown.
func startAPI(cfg config.Config, deps httpapi.Deps) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("operator api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server failed")
		}
	}()
	return srv
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}
