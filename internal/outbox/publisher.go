// Package outbox relays committed booking events from the outbox table to
// the message broker.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/room-reservations-and-orders/internal/adapters/postgres"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

type Source interface {
	DrainOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec postgres.OutboxRecord) error) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	source    Source
	broker    Broker
	logger    observability.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewPublisher(source Source, broker Broker, logger observability.Logger, interval time.Duration) *Publisher {
	return &Publisher{
		source:    source,
		broker:    broker,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
		now:       time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep draining while batches come back full.
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox publish failed")
					break
				}
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

// PublishBatch relays one batch and returns how many records went out.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var oldest time.Time
	n, err := p.source.DrainOutbox(ctx, p.batchSize, func(ctx context.Context, rec postgres.OutboxRecord) error {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Type:        rec.EventType,
			Timestamp:   rec.CreatedAt,
			Body:        rec.Payload,
		}
		if err := p.broker.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishFailures.Inc()
			return err
		}
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
		return nil
	})
	if !oldest.IsZero() {
		observability.OutboxLag.Set(p.now().Sub(oldest).Seconds())
	}
	if n > 0 {
		p.logger.WithField("count", n).Debug("published outbox records")
	}
	return n, err
}
