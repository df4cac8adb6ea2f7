package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	Attempts      int
	DedupeKey     string
}

// MaxPublishAttempts is how many failed publishes a record gets before it is
// parked as FAILED. Parked records are retried by setting status back to NEW.
const MaxPublishAttempts = 10

// InsertOutbox writes record as part of tx, so the event exists if and only
// if the mutation that produced it commits.
func InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// ClaimOutbox locks up to limit unpublished records, oldest first. Records
// locked by another publisher are skipped.
func (r *Repository) ClaimOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, attempts, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.Attempts, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// RecordFailure counts a failed publish of id and parks the record as FAILED
// once it reaches MaxPublishAttempts. It reports whether the record was
// parked.
func (r *Repository) RecordFailure(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	var status string
	err := tx.QueryRow(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE status END
		WHERE id = $1
		RETURNING status
	`, id, MaxPublishAttempts).Scan(&status)
	return status == "FAILED", err
}

// DrainOutbox claims up to limit records and hands them to publish in order,
// marking each one published as it goes. A failed publish is counted against
// the record and stops the batch; records published before it stay marked.
// A record that has failed MaxPublishAttempts times is parked and the batch
// moves past it.
func (r *Repository) DrainOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec OutboxRecord) error) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		records, err := r.ClaimOutbox(ctx, tx, limit)
		if err != nil {
			return errors.Wrap(err, "claim outbox")
		}
		for _, rec := range records {
			if err := publish(ctx, rec); err != nil {
				parked, ferr := r.RecordFailure(ctx, tx, rec.ID)
				if ferr != nil {
					return errors.Wrap(ferr, "record publish failure")
				}
				if parked {
					observability.OutboxParked.Inc()
					continue
				}
				publishErr = errors.Wrapf(err, "publish outbox record %s", rec.ID)
				return nil
			}
			if err := r.MarkPublished(ctx, tx, rec.ID, time.Now().UTC()); err != nil {
				return errors.Wrap(err, "mark published")
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}
