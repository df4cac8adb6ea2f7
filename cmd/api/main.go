package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/mongo"
	"github.com/robertarktes/room-reservations-and-orders/internal/adapters/postgres"
	redisadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/redis"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/config"
	httphandler "github.com/robertarktes/room-reservations-and-orders/internal/http"
	"github.com/robertarktes/room-reservations-and-orders/internal/idempotency"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"github.com/robertarktes/room-reservations-and-orders/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "bookings-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	svc := booking.NewService(repo, logger,
		booking.WithCache(redisadapter.NewAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL)),
		booking.WithRetry(cfg.BookingMaxAttempts, cfg.RetryBackoff),
	)

	router := httphandler.SetupRouter(httphandler.NewHandlers(svc, repo, logger), logger, httphandler.RouterConfig{
		AdminJWTSecret:     cfg.AdminJWTSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimiter:        rateLimit.NewRateLimiter(redisadapter.NewWindowCounter(redisClient), logger),
		Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL),
		History:            audit,
	})
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is empty, admin routes are unprotected")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped")
	}
	logger.Info("Server exiting")
}
