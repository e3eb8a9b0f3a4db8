package reservation

import (
	"context"

	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

// Refunder issues processor refunds for cancelled card bookings.
type Refunder struct {
	gateway PaymentGateway
	logger  observability.Logger
}

func NewRefunder(gateway PaymentGateway, logger observability.Logger) *Refunder {
	return &Refunder{gateway: gateway, logger: logger}
}

// Handle refunds the amount recorded on a booking.cancelled event. Other
// events, manual payments and zero refunds are ignored. The booking id is
// the processor idempotency key, so redelivered events refund once.
func (r *Refunder) Handle(ctx context.Context, evt domain.BookingEvent) error {
	if evt.Name != domain.EventBookingCancelled || evt.PaymentProvider != domain.ProviderStripe {
		return nil
	}
	amount := domain.MinorUnits(evt.RefundAmount, evt.Currency)
	if amount <= 0 || evt.PaymentReference == "" {
		return nil
	}

	refundID, err := r.gateway.Refund(ctx, RefundRequest{
		PaymentIntentID: evt.PaymentReference,
		AmountMinor:     amount,
		Currency:        evt.Currency,
		IdempotencyKey:  "refund-" + evt.BookingID.String(),
	})
	if err != nil {
		observability.RefundsIssued.WithLabelValues("failed").Inc()
		return err
	}
	observability.RefundsIssued.WithLabelValues("issued").Inc()
	r.logger.WithFields(map[string]interface{}{
		"booking_id": evt.BookingID,
		"refund_id":  refundID,
		"amount":     amount,
	}).Info("refund issued")
	return nil
}
