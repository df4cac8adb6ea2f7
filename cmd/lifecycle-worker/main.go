package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/room-reservations-and-orders/internal/adapters/postgres"
	"github.com/robertarktes/room-reservations-and-orders/internal/booking"
	"github.com/robertarktes/room-reservations-and-orders/internal/config"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

const (
	sweepLimit   = 500
	sweepWorkers = 8
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "bookings-lifecycle-worker")
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

	svc := booking.NewService(postgres.NewRepository(pool), logger,
		booking.WithRetry(cfg.BookingMaxAttempts, cfg.RetryBackoff))

	NewLifecycleWorker(svc, logger).Run(ctx, cfg.LifecycleInterval)
	logger.Info("Shutdown lifecycle worker")
}

type Completer interface {
	CompleteFinishedStays(ctx context.Context, limit, workers int) (int, error)
}

// LifecycleWorker completes confirmed reservations whose stay has ended.
type LifecycleWorker struct {
	svc    Completer
	logger observability.Logger
}

func NewLifecycleWorker(svc Completer, logger observability.Logger) *LifecycleWorker {
	return &LifecycleWorker{svc: svc, logger: logger}
}

func (w *LifecycleWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep drains every due booking, a batch at a time.
func (w *LifecycleWorker) sweep(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.svc.CompleteFinishedStays(ctx, sweepLimit, sweepWorkers)
		if err != nil {
			w.logger.WithError(err).Error("failed to complete finished stays")
			return
		}
		if n > 0 {
			w.logger.WithField("completed", n).Info("completed finished stays")
		}
		if n < sweepLimit {
			return
		}
	}
}
