package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventBookingCreated    = "booking.created"
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingCheckedIn  = "booking.checked_in"
	EventBookingCheckedOut = "booking.checked_out"
	EventBookingCancelled  = "booking.cancelled"
)

// BookingEvent is the payload relayed to the broker for every booking
// create and transition. Consumers must not need the primary store.
type BookingEvent struct {
	Name             string          `json:"event"`
	BookingID        uuid.UUID       `json:"booking_id"`
	PlaceID          uuid.UUID       `json:"place_id"`
	GuestID          uuid.UUID       `json:"guest_id"`
	HostID           uuid.UUID       `json:"host_id"`
	Status           Status          `json:"status"`
	CheckIn          string          `json:"check_in"`
	CheckOut         string          `json:"check_out"`
	Total            decimal.Decimal `json:"total"`
	Currency         Currency        `json:"currency"`
	PaymentProvider  string          `json:"payment_provider"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	ActorID          uuid.UUID       `json:"actor_id"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// EventName maps the booking's current status to the event it emits.
// A freshly persisted booking emits created, or confirmed when it was paid
// up front.
func EventName(s Status) string {
	switch s {
	case StatusConfirmed:
		return EventBookingConfirmed
	case StatusCheckedIn:
		return EventBookingCheckedIn
	case StatusCheckedOut:
		return EventBookingCheckedOut
	case StatusCancelled:
		return EventBookingCancelled
	}
	return EventBookingCreated
}

// NewBookingEvent describes the latest change recorded on b.
func NewBookingEvent(b *Booking) BookingEvent {
	last := b.StatusHistory[len(b.StatusHistory)-1]
	return BookingEvent{
		Name:             EventName(b.Status),
		BookingID:        b.ID,
		PlaceID:          b.PlaceID,
		GuestID:          b.GuestID,
		HostID:           b.HostID,
		Status:           b.Status,
		CheckIn:          b.Stay.CheckIn.Format(DateLayout),
		CheckOut:         b.Stay.CheckOut.Format(DateLayout),
		Total:            b.Pricing.Total,
		Currency:         b.Pricing.Currency,
		PaymentProvider:  b.Payment.Provider,
		PaymentReference: b.Payment.Reference,
		PaymentStatus:    b.Payment.Status,
		RefundAmount:     b.RefundDue(),
		ActorID:          last.ActorID,
		OccurredAt:       last.At,
	}
}
