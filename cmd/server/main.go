// Command server runs the reminder engine: a stateless HTTP service that
// schedules, delivers, and confirms patient medication reminders over
// WhatsApp. All time-based work is driven by an external scheduler hitting
// the /cron endpoint; the process itself keeps no timers.
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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/risetaid/prima-sub012/internal/config"
	"github.com/risetaid/prima-sub012/internal/delivery"
	httpapi "github.com/risetaid/prima-sub012/internal/http"
	"github.com/risetaid/prima-sub012/internal/idempotency"
	"github.com/risetaid/prima-sub012/internal/observability"
	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Load .env (optional; production relies on real env vars)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system environment")
	}

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Redis is optional: without it the idempotency fence and the compliance
	// cache fall back to the database-backed / pass-through implementations.
	var rdb *redis.Client
	var fence idempotency.Store
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
		}
		fence = idempotency.NewRedisStore(rdb)
	} else {
		log.Warn().Msg("REDIS_ADDR not set; using database-backed idempotency fence")
		fence = idempotency.NewDBStore(db)
	}
	// A broken fence must drop events, never double-process them.
	fence = idempotency.FailClosed{Store: fence}

	// WhatsApp gateways: primary plus optional backup.
	if !cfg.Primary.Configured() {
		log.Fatal().Msg("primary WhatsApp gateway not configured (WA_TOKEN, WA_PHONE_NUMBER_ID)")
	}
	sender := &delivery.FallbackProvider{
		Primary: delivery.NewWhatsAppProvider("primary", cfg.Primary, cfg.GatewayTimeout),
	}
	if cfg.Backup.Configured() {
		sender.Backup = delivery.NewWhatsAppProvider("backup", cfg.Backup, cfg.GatewayTimeout)
	} else {
		log.Warn().Msg("backup WhatsApp gateway not configured; failover disabled")
	}

	// HTTP transport
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, sender, fence, rdb, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown error")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}
	closeDB(db)

	log.Info().Msg("server stopped")
}

// closeDB releases the underlying sql.DB pool.
func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error().Err(err).Msg("db handle error")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("db close error")
	}
}
