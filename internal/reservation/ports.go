package reservation

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
)

// PlaceCatalog returns domain.ErrNotFound-marked errors for unknown places.
type PlaceCatalog interface {
	GetPlace(ctx context.Context, id uuid.UUID) (*domain.Place, error)
}

const IntentSucceeded = "succeeded"

// Metadata keys attached to payment intents. Confirm trusts nothing else
// from the client.
const (
	MetaGuestID  = "guest_id"
	MetaPlaceID  = "place_id"
	MetaCheckIn  = "check_in"
	MetaCheckOut = "check_out"
	MetaGuests   = "guests"
	MetaTotal    = "total"
	MetaCurrency = "currency"
)

type CreateIntentRequest struct {
	AmountMinor    int64
	Currency       domain.Currency
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     domain.Currency
	Metadata     map[string]string
}

type RefundRequest struct {
	PaymentIntentID string
	AmountMinor     int64
	Currency        domain.Currency
	IdempotencyKey  string
}

// PaymentGateway talks to the external processor. Transport failures are
// domain.ErrGateway; an unknown intent is domain.ErrNotFound.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*PaymentIntent, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

// BookingStore persists bookings.
//
// Create must, in one atomic unit, reject a booking overlapping a blocking
// booking of the same place (domain.ErrPlaceUnavailable) and reject a
// reused payment reference (domain.ErrDuplicatePayment).
//
// ApplyTransition writes b's new state only if the stored version still
// equals expectedVersion (domain.ErrStaleBooking otherwise), re-checking
// overlap when b enters a blocking status.
type BookingStore interface {
	Create(ctx context.Context, b *domain.Booking) error
	FindOverlapping(ctx context.Context, placeID uuid.UUID, stay domain.StayRange, excludeID *uuid.UUID) ([]domain.Booking, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error)
	ApplyTransition(ctx context.Context, b *domain.Booking, expectedVersion int64) error
}

// AuditLog records booking changes after they commit. Failures are logged,
// never returned to the caller.
type AuditLog interface {
	RecordBooking(ctx context.Context, action string, actorID uuid.UUID, b *domain.Booking) error
}
