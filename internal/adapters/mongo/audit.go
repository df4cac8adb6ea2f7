package mongo

import (
	"context"
	"time"

	"github.com/robertarktes/room-reservations-and-orders/internal/domain"
	"github.com/robertarktes/room-reservations-and-orders/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("booking_audit"),
		logger: logger,
	}
}

// AuditLog is one booking event. The event id is the document id, so a
// redelivered event overwrites itself instead of duplicating.
type AuditLog struct {
	ID          string    `bson:"_id"`
	Action      string    `bson:"action"`
	BookingID   string    `bson:"booking_id"`
	Kind        string    `bson:"kind"`
	Status      string    `bson:"status"`
	Previous    string    `bson:"previous_status,omitempty"`
	TotalAmount string    `bson:"total_amount"`
	UnitIDs     []string  `bson:"unit_ids"`
	OccurredAt  time.Time `bson:"occurred_at"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

func NewAuditLog(ev domain.BookingEvent, recordedAt time.Time) AuditLog {
	units := make([]string, len(ev.UnitIDs))
	for i, id := range ev.UnitIDs {
		units[i] = id.String()
	}
	return AuditLog{
		ID:          ev.ID.String(),
		Action:      ev.Type(),
		BookingID:   ev.BookingID.String(),
		Kind:        string(ev.Kind),
		Status:      string(ev.Status),
		Previous:    string(ev.Previous),
		TotalAmount: ev.TotalAmount.String(),
		UnitIDs:     units,
		OccurredAt:  ev.OccurredAt,
		RecordedAt:  recordedAt,
	}
}

func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "occurred_at", Value: 1}},
	})
	return err
}

func (a *AuditLogger) LogBookingEvent(ctx context.Context, ev domain.BookingEvent) error {
	doc := NewAuditLog(ev, time.Now().UTC())
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.WithError(err).WithField("event_id", doc.ID).Error("failed to insert audit log")
		return err
	}
	return nil
}

// History returns the audit trail of one booking, oldest first.
func (a *AuditLogger) History(ctx context.Context, bookingID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID},
		options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
