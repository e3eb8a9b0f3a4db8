package reservation

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Get returns a booking visible to actor.
func (w *Workflow) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error) {
	b, err := w.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.VisibleTo(actor) {
		return nil, domain.Permissionf("booking %s is not visible to this user", id)
	}
	return b, nil
}

// UpdateStatus moves a booking to status on behalf of actor. The write is a
// compare-and-set on the version read here, so of two concurrent requests
// against the same state only one succeeds.
func (w *Workflow) UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, status domain.Status, reason string) (*domain.Booking, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.UpdateStatus", trace.WithAttributes(
		attribute.String("booking_id", id.String()),
		attribute.String("status", string(status)),
	))
	defer span.End()

	b, err := w.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	version := b.Version
	from := b.Status

	if err := b.Transition(domain.TransitionRequest{To: status, Actor: actor, Reason: reason, Now: w.now()}); err != nil {
		return nil, err
	}
	if status.Blocking() && !from.Blocking() {
		ok, err := w.availability.IsAvailable(ctx, b.PlaceID, b.Stay.CheckIn, b.Stay.CheckOut, &b.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.Conflict(errors.Wrapf(domain.ErrPlaceUnavailable, "booking %s", b.ID))
		}
	}
	if err := w.store.ApplyTransition(ctx, b, version); err != nil {
		return nil, err
	}

	observability.StatusTransitions.WithLabelValues(string(status)).Inc()
	w.logger.WithFields(map[string]interface{}{
		"booking_id": b.ID,
		"from":       from,
		"to":         status,
		"actor_id":   actor.ID,
	}).Info("booking status changed")
	w.recordAudit(ctx, domain.EventName(status), actor.ID, b)
	return b, nil
}

func (w *Workflow) CheckIn(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error) {
	return w.UpdateStatus(ctx, actor, id, domain.StatusCheckedIn, "")
}

func (w *Workflow) CheckOut(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error) {
	return w.UpdateStatus(ctx, actor, id, domain.StatusCheckedOut, "")
}

// Cancel cancels the booking and returns the refund recorded on it. Moving
// the money is left to the refund worker consuming booking.cancelled.
func (w *Workflow) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Booking, decimal.Decimal, error) {
	b, err := w.UpdateStatus(ctx, actor, id, domain.StatusCancelled, reason)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return b, b.RefundDue(), nil
}
