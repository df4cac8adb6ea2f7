package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/room-reservations-and-orders/internal/adapters/mongo"
	"github.com/robertarktes/room-reservations-and-orders/internal/adapters/rabbit"
	"github.com/robertarktes/room-reservations-and-orders/internal/config"
	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	queue   = "bookings.audit"
	pattern = "booking.#"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "bookings-audit-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to create audit indexes: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, pattern)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", queue, err)
	}

	logger.WithField("queue", queue).Info("Audit consumer started")
	NewAuditConsumer(audit, logger).Run(ctx, deliveries)
	logger.Info("Shutdown audit consumer")
}

type AuditSink interface {
	LogBookingEvent(ctx context.Context, ev domain.BookingEvent) error
}

type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// AuditConsumer copies booking events from the broker into the audit log.
// Redelivered events overwrite their earlier copy.
type AuditConsumer struct {
	sink   AuditSink
	logger observability.Logger
}

func NewAuditConsumer(sink AuditSink, logger observability.Logger) *AuditConsumer {
	return &AuditConsumer{sink: sink, logger: logger}
}

func (c *AuditConsumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Handle(ctx, d.Body, d)
		}
	}
}

// Handle stores one message. Malformed messages are dropped, storage errors
// requeue the message.
func (c *AuditConsumer) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	var ev domain.BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.logger.WithError(err).Warn("dropping malformed booking event")
		_ = ack.Nack(false, false)
		return
	}
	if err := c.sink.LogBookingEvent(ctx, ev); err != nil {
		c.logger.WithError(err).WithField("event_id", ev.ID).Error("failed to record booking event")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
