// Package reservation implements the payment-gated booking workflow and the
// status transitions that follow it.
package reservation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// directTolerancePct absorbs currency-conversion drift on client-declared
// totals for non-card bookings.
const directTolerancePct = 5

type Workflow struct {
	catalog        PlaceCatalog
	store          BookingStore
	gateway        PaymentGateway
	audit          AuditLog
	availability   *AvailabilityChecker
	pricing        domain.PricingEngine
	logger         observability.Logger
	tracer         trace.Tracer
	now            func() time.Time
	gatewayTimeout time.Duration
}

type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithAudit(a AuditLog) Option {
	return func(w *Workflow) { w.audit = a }
}

// WithGatewayTimeout bounds every payment gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(w *Workflow) { w.gatewayTimeout = d }
}

func NewWorkflow(catalog PlaceCatalog, store BookingStore, gateway PaymentGateway, logger observability.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		catalog:        catalog,
		store:          store,
		gateway:        gateway,
		availability:   NewAvailabilityChecker(store),
		logger:         logger,
		tracer:         otel.Tracer("reservation"),
		now:            time.Now,
		gatewayTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type StayRequest struct {
	PlaceID uuid.UUID
	Stay    domain.StayRange
	Guests  domain.Guests
	// IdempotencyKey, when set, makes CreateIntent reuse the intent opened by
	// an earlier call with the same key from the same actor.
	IdempotencyKey string
}

type IntentQuote struct {
	ClientSecret    string
	PaymentIntentID string
	AmountMinor     int64
	Currency        domain.Currency
	Breakdown       domain.Pricing
}

// Quote prices a stay for actor after running every booking check except
// payment. It backs both the read-only quote endpoint and the first half of
// CreateIntent/CreateDirect.
func (w *Workflow) Quote(ctx context.Context, actor domain.Actor, req StayRequest) (*domain.Place, domain.Pricing, error) {
	place, err := w.catalog.GetPlace(ctx, req.PlaceID)
	if err != nil {
		return nil, domain.Pricing{}, err
	}
	if place.OwnerID == actor.ID {
		return nil, domain.Pricing{}, domain.Permissionf("owners cannot book their own place")
	}
	if !req.Stay.CheckIn.Before(req.Stay.CheckOut) {
		return nil, domain.Pricing{}, domain.Validationf("check-out must be after check-in")
	}
	if req.Stay.StartsBefore(w.now()) {
		return nil, domain.Pricing{}, domain.Validationf("check-in date %s is in the past", req.Stay.CheckIn.Format(domain.DateLayout))
	}
	if err := checkCapacity(place, req.Guests); err != nil {
		return nil, domain.Pricing{}, err
	}
	ok, err := w.availability.IsAvailable(ctx, place.ID, req.Stay.CheckIn, req.Stay.CheckOut, nil)
	if err != nil {
		return nil, domain.Pricing{}, err
	}
	if !ok {
		return nil, domain.Pricing{}, domain.Conflict(errors.Wrapf(domain.ErrPlaceUnavailable, "place %s for %s", place.ID, req.Stay))
	}
	return place, w.pricing.Calculate(place.Price, req.Stay, req.Guests.Total(), place.Currency), nil
}

// Availability reports whether the place is free for stay.
func (w *Workflow) Availability(ctx context.Context, placeID uuid.UUID, stay domain.StayRange) (bool, error) {
	if _, err := w.catalog.GetPlace(ctx, placeID); err != nil {
		return false, err
	}
	return w.availability.IsAvailable(ctx, placeID, stay.CheckIn, stay.CheckOut, nil)
}

// CreateIntent quotes the stay and opens a payment intent for it. No
// booking or calendar hold is created.
func (w *Workflow) CreateIntent(ctx context.Context, actor domain.Actor, req StayRequest) (*IntentQuote, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.CreateIntent", trace.WithAttributes(attribute.String("place_id", req.PlaceID.String())))
	defer span.End()

	place, pricing, err := w.Quote(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	guests, err := json.Marshal(req.Guests)
	if err != nil {
		return nil, errors.Wrap(err, "encode guests")
	}
	amount := domain.MinorUnits(pricing.Total, place.Currency)

	gctx, cancel := w.gatewayContext(ctx)
	defer cancel()
	intent, err := w.gateway.CreateIntent(gctx, CreateIntentRequest{
		AmountMinor:    amount,
		Currency:       place.Currency,
		IdempotencyKey: intentKey(actor, req.IdempotencyKey),
		Metadata: map[string]string{
			MetaGuestID:  actor.ID.String(),
			MetaPlaceID:  place.ID.String(),
			MetaCheckIn:  req.Stay.CheckIn.Format(domain.DateLayout),
			MetaCheckOut: req.Stay.CheckOut.Format(domain.DateLayout),
			MetaGuests:   string(guests),
			MetaTotal:    pricing.Total.StringFixed(2),
			MetaCurrency: string(place.Currency),
		},
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(map[string]interface{}{
		"payment_intent_id": intent.ID,
		"place_id":          place.ID,
		"guest_id":          actor.ID,
		"amount":            amount,
	}).Info("payment intent created")

	return &IntentQuote{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountMinor:     amount,
		Currency:        place.Currency,
		Breakdown:       pricing,
	}, nil
}

type ConfirmRequest struct {
	PaymentIntentID string
	Name            string
	Phone           string
}

// Confirm turns a succeeded payment intent into a confirmed booking.
// Confirming the same intent again returns the booking created the first
// time.
func (w *Workflow) Confirm(ctx context.Context, actor domain.Actor, req ConfirmRequest) (*domain.Booking, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Confirm", trace.WithAttributes(attribute.String("payment_intent_id", req.PaymentIntentID)))
	defer span.End()

	b, err := w.confirm(ctx, actor, req)
	switch {
	case err == nil:
		observability.BookingConfirmations.WithLabelValues("confirmed").Inc()
	case errors.Is(err, domain.ErrConflict):
		observability.BookingConfirmations.WithLabelValues("conflict").Inc()
		w.logger.WithError(err).WithField("payment_intent_id", req.PaymentIntentID).
			Warn("paid intent could not be booked, refund required")
	default:
		observability.BookingConfirmations.WithLabelValues("rejected").Inc()
	}
	return b, err
}

func (w *Workflow) confirm(ctx context.Context, actor domain.Actor, req ConfirmRequest) (*domain.Booking, error) {
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return nil, domain.Validationf("payment intent id is required")
	}

	gctx, cancel := w.gatewayContext(ctx)
	defer cancel()
	intent, err := w.gateway.RetrieveIntent(gctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentSucceeded {
		return nil, domain.Validationf("payment not completed")
	}
	if intent.Metadata[MetaGuestID] != actor.ID.String() {
		return nil, domain.Permissionf("payment does not belong to this user")
	}

	existing, err := w.store.GetByPaymentReference(ctx, intent.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	stay, guests, placeID, err := parseIntentMetadata(intent.Metadata)
	if err != nil {
		return nil, err
	}
	place, err := w.catalog.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	if place.OwnerID == actor.ID {
		return nil, domain.Permissionf("owners cannot book their own place")
	}
	if err := checkCapacity(place, guests); err != nil {
		return nil, err
	}
	pricing := w.pricing.Calculate(place.Price, stay, guests.Total(), place.Currency)
	if intent.Currency != place.Currency || domain.MinorUnits(pricing.Total, place.Currency) != intent.AmountMinor {
		return nil, domain.Conflictf("paid amount does not match booking total")
	}

	b := domain.NewBooking(domain.NewBookingParams{
		PlaceID: place.ID,
		GuestID: actor.ID,
		HostID:  place.OwnerID,
		Stay:    stay,
		Guests:  guests,
		Pricing: pricing,
		Payment: domain.Payment{
			Method:    domain.MethodCard,
			Provider:  domain.ProviderStripe,
			Status:    domain.PaymentPaid,
			Reference: intent.ID,
			Amount:    domain.FromMinorUnits(intent.AmountMinor, intent.Currency),
			Currency:  intent.Currency,
		},
		Contact: contactFor(actor, req.Name, req.Phone),
		Status:  domain.StatusConfirmed,
		Now:     w.now(),
	})

	if err := w.store.Create(ctx, b); err != nil {
		// a concurrent confirm of the same intent may have committed first
		if errors.Is(err, domain.ErrConflict) {
			if existing, lookupErr := w.store.GetByPaymentReference(ctx, intent.ID); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	w.logger.WithFields(map[string]interface{}{
		"booking_id":        b.ID,
		"payment_intent_id": intent.ID,
		"place_id":          b.PlaceID,
	}).Info("booking confirmed")
	w.recordAudit(ctx, "booking.confirmed", actor.ID, b)
	return b, nil
}

type DirectRequest struct {
	StayRequest
	TotalPrice    *decimal.Decimal
	PaymentMethod domain.PaymentMethod
	Name          string
	Phone         string
}

// CreateDirect books a stay paid outside the processor (cash, bank
// transfer). The booking starts pending and only blocks the calendar once
// the host confirms it.
func (w *Workflow) CreateDirect(ctx context.Context, actor domain.Actor, req DirectRequest) (*domain.Booking, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.CreateDirect", trace.WithAttributes(attribute.String("place_id", req.PlaceID.String())))
	defer span.End()

	switch req.PaymentMethod {
	case domain.MethodCash, domain.MethodBankTransfer:
	case domain.MethodCard:
		return nil, domain.Validationf("card payments must go through a payment intent")
	default:
		return nil, domain.Validationf("unknown payment method %q", req.PaymentMethod)
	}

	place, pricing, err := w.Quote(ctx, actor, req.StayRequest)
	if err != nil {
		return nil, err
	}
	if req.TotalPrice != nil && !domain.WithinTolerance(*req.TotalPrice, pricing.Total, directTolerancePct) {
		return nil, domain.Conflictf("declared total %s does not match quoted total %s", req.TotalPrice.StringFixed(2), pricing.Total.StringFixed(2))
	}

	b := domain.NewBooking(domain.NewBookingParams{
		PlaceID: place.ID,
		GuestID: actor.ID,
		HostID:  place.OwnerID,
		Stay:    req.Stay,
		Guests:  req.Guests,
		Pricing: pricing,
		Payment: domain.Payment{
			Method:   req.PaymentMethod,
			Provider: domain.ProviderManual,
			Status:   domain.PaymentPending,
			Amount:   pricing.Total,
			Currency: place.Currency,
		},
		Contact: contactFor(actor, req.Name, req.Phone),
		Status:  domain.StatusPending,
		Now:     w.now(),
	})
	if err := w.store.Create(ctx, b); err != nil {
		return nil, err
	}

	w.logger.WithFields(map[string]interface{}{
		"booking_id":     b.ID,
		"place_id":       b.PlaceID,
		"payment_method": b.Payment.Method,
	}).Info("direct booking created")
	w.recordAudit(ctx, "booking.created", actor.ID, b)
	return b, nil
}

func (w *Workflow) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.gatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.gatewayTimeout)
}

func (w *Workflow) recordAudit(ctx context.Context, action string, actorID uuid.UUID, b *domain.Booking) {
	if w.audit == nil {
		return
	}
	if err := w.audit.RecordBooking(ctx, action, actorID, b); err != nil {
		w.logger.WithError(err).WithField("booking_id", b.ID).Warn("audit record failed")
	}
}

func checkCapacity(place *domain.Place, guests domain.Guests) error {
	if err := guests.Validate(); err != nil {
		return err
	}
	if guests.Total() > place.MaxGuests {
		return domain.Validationf("%d guests exceed the maximum of %d", guests.Total(), place.MaxGuests)
	}
	return nil
}

func contactFor(actor domain.Actor, name, phone string) domain.Contact {
	c := domain.Contact{Name: strings.TrimSpace(name), Phone: strings.TrimSpace(phone)}
	if c.Name == "" {
		c.Name = actor.Name
	}
	if c.Phone == "" {
		c.Phone = actor.Phone
	}
	return c
}

func intentKey(actor domain.Actor, key string) string {
	if key == "" {
		return ""
	}
	return "intent-" + actor.ID.String() + "-" + key
}

func parseIntentMetadata(meta map[string]string) (domain.StayRange, domain.Guests, uuid.UUID, error) {
	var guests domain.Guests
	placeID, err := uuid.Parse(meta[MetaPlaceID])
	if err != nil {
		return domain.StayRange{}, guests, uuid.Nil, domain.Validationf("payment intent has no valid place")
	}
	stay, err := domain.ParseStayRange(meta[MetaCheckIn], meta[MetaCheckOut])
	if err != nil {
		return domain.StayRange{}, guests, uuid.Nil, errors.Wrap(err, "payment intent dates")
	}
	if err := json.Unmarshal([]byte(meta[MetaGuests]), &guests); err != nil {
		return domain.StayRange{}, guests, uuid.Nil, domain.Validationf("payment intent has no valid guest breakdown")
	}
	return stay, guests, placeID, nil
}
