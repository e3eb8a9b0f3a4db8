package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/idempotency"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/reservation"
	"github.com/shopspring/decimal"
)

// BookingService is the reservation workflow as seen by the handlers.
type BookingService interface {
	Quote(ctx context.Context, actor domain.Actor, req reservation.StayRequest) (*domain.Place, domain.Pricing, error)
	Availability(ctx context.Context, placeID uuid.UUID, stay domain.StayRange) (bool, error)
	CreateIntent(ctx context.Context, actor domain.Actor, req reservation.StayRequest) (*reservation.IntentQuote, error)
	Confirm(ctx context.Context, actor domain.Actor, req reservation.ConfirmRequest) (*domain.Booking, error)
	CreateDirect(ctx context.Context, actor domain.Actor, req reservation.DirectRequest) (*domain.Booking, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, status domain.Status, reason string) (*domain.Booking, error)
	CheckIn(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error)
	CheckOut(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Booking, error)
	Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Booking, decimal.Decimal, error)
}

// ReadinessCheck pings one dependency.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	bookings BookingService
	logger   observability.Logger
	checks   map[string]ReadinessCheck
}

func NewHandlers(bookings BookingService, logger observability.Logger, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{bookings: bookings, logger: logger, checks: checks}
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
	return a, ok
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Validationf("invalid %s", name)
	}
	return id, nil
}

func (h *Handlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req stayRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stay, err := req.toDomain()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stay.IdempotencyKey = r.Header.Get(idempotency.HeaderKey)
	q, err := h.bookings.CreateIntent(r.Context(), actor, stay)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		ClientSecret:    q.ClientSecret,
		PaymentIntentID: q.PaymentIntentID,
		Amount:          q.AmountMinor,
		Currency:        string(q.Currency),
		Breakdown:       newPricingResponse(q.Breakdown),
	})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.bookings.Confirm(r.Context(), actor, reservation.ConfirmRequest{
		PaymentIntentID: req.PaymentIntentID,
		Name:            req.Name,
		Phone:           req.Phone,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req directRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stay, err := req.stayRequest.toDomain()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.bookings.CreateDirect(r.Context(), actor, reservation.DirectRequest{
		StayRequest:   stay,
		TotalPrice:    req.TotalPrice,
		PaymentMethod: method,
		Name:          req.Name,
		Phone:         req.Phone,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBookingResponse(b))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.bookings.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if status == domain.StatusCancelled {
		h.cancel(w, r, actor, id, req.Reason)
		return
	}
	b, err := h.bookings.UpdateStatus(r.Context(), actor, id, status, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.bookings.CheckIn)
}

func (h *Handlers) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.bookings.CheckOut)
}

func (h *Handlers) step(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, uuid.UUID) (*domain.Booking, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := fn(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req cancelRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.cancel(w, r, actor, id, req.Reason)
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request, actor domain.Actor, id uuid.UUID, reason string) {
	b, refund, err := h.bookings.Cancel(r.Context(), actor, id, reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Booking      bookingResponse `json:"booking"`
		RefundAmount string          `json:"refund_amount"`
	}{newBookingResponse(b), refund.StringFixed(2)})
}

func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := stayFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	_, pricing, err := h.bookings.Quote(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPricingResponse(pricing))
}

func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	req, err := stayFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ok, err := h.bookings.Availability(r.Context(), req.PlaceID, req.Stay)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"place_id":  req.PlaceID,
		"check_in":  req.Stay.CheckIn.Format(domain.DateLayout),
		"check_out": req.Stay.CheckOut.Format(domain.DateLayout),
		"available": ok,
	})
}

func stayFromQuery(r *http.Request) (reservation.StayRequest, error) {
	q := r.URL.Query()
	req := stayRequest{
		PlaceID:  chi.URLParam(r, "id"),
		CheckIn:  q.Get("check_in"),
		CheckOut: q.Get("check_out"),
		Guests:   guestsRequest{Adults: 1},
	}
	for name, dst := range map[string]*int{
		"adults":   &req.Guests.Adults,
		"children": &req.Guests.Children,
		"infants":  &req.Guests.Infants,
		"pets":     &req.Guests.Pets,
	} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return reservation.StayRequest{}, domain.Validationf("invalid %s", name)
			}
			*dst = n
		}
	}
	if err := validate.Struct(req); err != nil {
		return reservation.StayRequest{}, domain.Validationf("invalid request: %v", err)
	}
	stay, err := req.toDomain()
	if err != nil {
		return reservation.StayRequest{}, err
	}
	if _, err := domain.NewStayRange(stay.Stay.CheckIn, stay.Stay.CheckOut); err != nil {
		return reservation.StayRequest{}, err
	}
	return stay, nil
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		observability.LoggerFrom(r.Context(), h.logger).WithField("failed", failed).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
