package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/reservation"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type guestsRequest struct {
	Adults   int `json:"adults" validate:"min=1,max=50"`
	Children int `json:"children" validate:"min=0,max=50"`
	Infants  int `json:"infants" validate:"min=0,max=50"`
	Pets     int `json:"pets" validate:"min=0,max=20"`
}

func (g guestsRequest) toDomain() domain.Guests {
	return domain.Guests{Adults: g.Adults, Children: g.Children, Infants: g.Infants, Pets: g.Pets}
}

type stayRequest struct {
	PlaceID  string        `json:"place_id" validate:"required,uuid"`
	CheckIn  string        `json:"check_in" validate:"required"`
	CheckOut string        `json:"check_out" validate:"required"`
	Guests   guestsRequest `json:"guests"`
}

func (s stayRequest) toDomain() (reservation.StayRequest, error) {
	placeID, err := uuid.Parse(s.PlaceID)
	if err != nil {
		return reservation.StayRequest{}, domain.Validationf("invalid place id")
	}
	in, err := domain.ParseDate(s.CheckIn)
	if err != nil {
		return reservation.StayRequest{}, err
	}
	out, err := domain.ParseDate(s.CheckOut)
	if err != nil {
		return reservation.StayRequest{}, err
	}
	// ordering is checked by the workflow so inverted ranges get its message
	return reservation.StayRequest{
		PlaceID: placeID,
		Stay:    domain.StayRange{CheckIn: domain.DateOf(in), CheckOut: domain.DateOf(out)},
		Guests:  s.Guests.toDomain(),
	}, nil
}

type confirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required,max=255"`
	Name            string `json:"name" validate:"max=200"`
	Phone           string `json:"phone" validate:"max=50"`
}

type directRequest struct {
	stayRequest
	TotalPrice    *decimal.Decimal `json:"total_price"`
	PaymentMethod string           `json:"payment_method" validate:"required,oneof=card cash bank_transfer"`
	Name          string           `json:"name" validate:"max=200"`
	Phone         string           `json:"phone" validate:"max=50"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed checked-in checked-out cancelled"`
	Reason string `json:"reason" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// decode reads a JSON body into dst and validates it. An empty body is
// allowed when allowEmpty is set.
func decode(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return domain.Validationf("invalid request body: %v", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return domain.Validationf("invalid request: %s", strings.Join(fields, ", "))
		}
		return domain.Validationf("invalid request: %v", err)
	}
	return nil
}

type feeResponse struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type pricingResponse struct {
	BasePrice string        `json:"base_price"`
	Nights    int           `json:"nights"`
	Subtotal  string        `json:"subtotal"`
	Cleaning  string        `json:"cleaning_fee"`
	Service   string        `json:"service_fee"`
	Taxes     string        `json:"taxes"`
	Other     []feeResponse `json:"other_fees"`
	Total     string        `json:"total"`
	Currency  string        `json:"currency"`
}

func newPricingResponse(p domain.Pricing) pricingResponse {
	other := make([]feeResponse, 0, len(p.Fees.Other))
	for _, f := range p.Fees.Other {
		other = append(other, feeResponse{Name: f.Name, Amount: f.Amount.StringFixed(2)})
	}
	return pricingResponse{
		BasePrice: p.BasePrice.StringFixed(2),
		Nights:    p.Nights,
		Subtotal:  p.Subtotal.StringFixed(2),
		Cleaning:  p.Fees.Cleaning.StringFixed(2),
		Service:   p.Fees.Service.StringFixed(2),
		Taxes:     p.Fees.Tax.StringFixed(2),
		Other:     other,
		Total:     p.Total.StringFixed(2),
		Currency:  string(p.Currency),
	}
}

type intentResponse struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Breakdown       pricingResponse `json:"breakdown"`
}

type paymentResponse struct {
	Method    string `json:"method"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type cancellationResponse struct {
	ByRole        string    `json:"by_role"`
	Reason        string    `json:"reason,omitempty"`
	RefundPercent int       `json:"refund_percent"`
	RefundAmount  string    `json:"refund_amount"`
	At            time.Time `json:"at"`
}

type bookingResponse struct {
	ID            string                `json:"id"`
	PlaceID       string                `json:"place_id"`
	GuestID       string                `json:"guest_id"`
	HostID        string                `json:"host_id"`
	CheckIn       string                `json:"check_in"`
	CheckOut      string                `json:"check_out"`
	Guests        domain.Guests         `json:"guests"`
	Pricing       pricingResponse       `json:"pricing"`
	Payment       paymentResponse       `json:"payment"`
	Contact       domain.Contact        `json:"contact"`
	Status        string                `json:"status"`
	StatusHistory []domain.StatusEntry  `json:"status_history"`
	Cancellation  *cancellationResponse `json:"cancellation,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func newBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:       b.ID.String(),
		PlaceID:  b.PlaceID.String(),
		GuestID:  b.GuestID.String(),
		HostID:   b.HostID.String(),
		CheckIn:  b.Stay.CheckIn.Format(domain.DateLayout),
		CheckOut: b.Stay.CheckOut.Format(domain.DateLayout),
		Guests:   b.Guests,
		Pricing:  newPricingResponse(b.Pricing),
		Payment: paymentResponse{
			Method:    string(b.Payment.Method),
			Provider:  b.Payment.Provider,
			Status:    string(b.Payment.Status),
			Reference: b.Payment.Reference,
			Amount:    b.Payment.Amount.StringFixed(2),
			Currency:  string(b.Payment.Currency),
		},
		Contact:       b.Contact,
		Status:        string(b.Status),
		StatusHistory: b.StatusHistory,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if c := b.Cancellation; c != nil {
		resp.Cancellation = &cancellationResponse{
			ByRole:        string(c.ByRole),
			Reason:        c.Reason,
			RefundPercent: c.RefundPercent,
			RefundAmount:  c.RefundAmount.StringFixed(2),
			At:            c.At,
		}
	}
	return resp
}
