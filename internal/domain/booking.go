package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked-in"
	StatusCheckedOut Status = "checked-out"
	StatusCancelled  Status = "cancelled"
)

// BlockingStatuses count against a place's calendar.
var BlockingStatuses = []Status{StatusConfirmed, StatusCheckedIn}

func (s Status) Blocking() bool {
	return s == StatusConfirmed || s == StatusCheckedIn
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCancelled:
		return st, nil
	}
	return "", Validationf("unknown booking status %q", s)
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCard, MethodCash, MethodBankTransfer:
		return m, nil
	}
	return "", Validationf("unknown payment method %q", s)
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

const (
	ProviderStripe = "stripe"
	ProviderManual = "manual"
)

type Guests struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Infants  int `json:"infants"`
	Pets     int `json:"pets"`
}

// Total is the head count checked against a place's capacity. Pets are
// not counted.
func (g Guests) Total() int {
	return g.Adults + g.Children + g.Infants
}

func (g Guests) Validate() error {
	if g.Adults < 1 {
		return Validationf("at least one adult is required")
	}
	if g.Children < 0 || g.Infants < 0 || g.Pets < 0 {
		return Validationf("guest counts cannot be negative")
	}
	return nil
}

type Fee struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type Fees struct {
	Cleaning decimal.Decimal `json:"cleaning"`
	Service  decimal.Decimal `json:"service"`
	Tax      decimal.Decimal `json:"tax"`
	Other    []Fee           `json:"other"`
}

type Pricing struct {
	BasePrice decimal.Decimal `json:"base_price"`
	Nights    int             `json:"nights"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Fees      Fees            `json:"fees"`
	Total     decimal.Decimal `json:"total"`
	Currency  Currency        `json:"currency"`
}

type Payment struct {
	Method    PaymentMethod   `json:"method"`
	Provider  string          `json:"provider"`
	Status    PaymentStatus   `json:"status"`
	Reference string          `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  Currency        `json:"currency"`
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type StatusEntry struct {
	Status  Status    `json:"status"`
	ActorID uuid.UUID `json:"actor_id"`
	At      time.Time `json:"at"`
	Reason  string    `json:"reason,omitempty"`
}

type Cancellation struct {
	ByRole        Role            `json:"by_role"`
	Reason        string          `json:"reason,omitempty"`
	RefundPercent int             `json:"refund_percent"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	At            time.Time       `json:"at"`
}

type Booking struct {
	ID            uuid.UUID
	PlaceID       uuid.UUID
	GuestID       uuid.UUID
	HostID        uuid.UUID
	Stay          StayRange
	Guests        Guests
	Pricing       Pricing
	Payment       Payment
	Contact       Contact
	Status        Status
	StatusHistory []StatusEntry
	Cancellation  *Cancellation
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NewBookingParams struct {
	PlaceID uuid.UUID
	GuestID uuid.UUID
	HostID  uuid.UUID
	Stay    StayRange
	Guests  Guests
	Pricing Pricing
	Payment Payment
	Contact Contact
	Status  Status
	Now     time.Time
}

// NewBooking builds a booking with its first history entry recorded against
// the guest.
func NewBooking(p NewBookingParams) *Booking {
	now := p.Now.UTC()
	return &Booking{
		ID:      uuid.New(),
		PlaceID: p.PlaceID,
		GuestID: p.GuestID,
		HostID:  p.HostID,
		Stay:    p.Stay,
		Guests:  p.Guests,
		Pricing: p.Pricing,
		Payment: p.Payment,
		Contact: p.Contact,
		Status:  p.Status,
		StatusHistory: []StatusEntry{
			{Status: p.Status, ActorID: p.GuestID, At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// VisibleTo reports whether actor may read the booking.
func (b *Booking) VisibleTo(actor Actor) bool {
	return actor.IsAdmin() || actor.ID == b.GuestID || actor.ID == b.HostID
}
