package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		UserID:    userID.String(),
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) RecordBooking(ctx context.Context, action string, actorID uuid.UUID, b *domain.Booking) error {
	data := map[string]interface{}{
		"booking_id": b.ID.String(),
		"place_id":   b.PlaceID.String(),
		"guest_id":   b.GuestID.String(),
		"host_id":    b.HostID.String(),
		"status":     string(b.Status),
		"check_in":   b.Stay.CheckIn.Format(domain.DateLayout),
		"check_out":  b.Stay.CheckOut.Format(domain.DateLayout),
		"total":      b.Pricing.Total.StringFixed(2),
		"currency":   string(b.Pricing.Currency),
		"payment":    string(b.Payment.Status),
		"version":    b.Version,
	}
	if b.Cancellation != nil {
		data["refund_percent"] = b.Cancellation.RefundPercent
		data["refund_amount"] = b.Cancellation.RefundAmount.StringFixed(2)
		data["reason"] = b.Cancellation.Reason
	}
	return a.LogEvent(ctx, action, actorID, data)
}
