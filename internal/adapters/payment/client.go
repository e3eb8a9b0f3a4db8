// Package payment adapts the Stripe payment intents API to the reservation
// gateway port.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/reservation"
	"github.com/sony/gobreaker"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Client struct {
	intents *paymentintent.Client
	refunds *refund.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	tracer  trace.Tracer
}

// NewClient talks to baseURL (https://api.stripe.com in production). Retries
// are left to callers; the breaker sheds load while the processor is down.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger observability.Logger) *Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(strings.TrimRight(baseURL, "/")),
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		EnableTelemetry:   stripe.Bool(false),
		LeveledLogger:     stripeLogger{logger.WithField("component", "stripe")},
	})

	c := &Client{
		intents: &paymentintent.Client{B: backend, Key: apiKey},
		refunds: &refund.Client{B: backend, Key: apiKey},
		logger:  logger,
		tracer:  otel.Tracer("payment"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		// processor answers such as an unknown intent are not outages
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrGateway)
		},
	})
	return c
}

func (c *Client) CreateIntent(ctx context.Context, req reservation.CreateIntentRequest) (*reservation.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency.Lower()),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := c.call(ctx, "create_intent", func() (err error) {
		pi, err = c.intents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi)
}

func (c *Client) RetrieveIntent(ctx context.Context, id string) (*reservation.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := c.call(ctx, "retrieve_intent", func() (err error) {
		pi, err = c.intents.Get(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi)
}

func (c *Client) Refund(ctx context.Context, req reservation.RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(req.AmountMinor),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var re *stripe.Refund
	err := c.call(ctx, "refund", func() (err error) {
		re, err = c.refunds.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return re.ID, nil
}

func toIntent(pi *stripe.PaymentIntent) (*reservation.PaymentIntent, error) {
	cur, err := domain.ParseCurrency(string(pi.Currency))
	if err != nil {
		return nil, domain.Gatewayf(err, "payment intent %s", pi.ID)
	}
	return &reservation.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     cur,
		Metadata:     pi.Metadata,
	}, nil
}

func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	_, span := c.tracer.Start(ctx, "payment."+op)
	defer span.End()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, classify(op, fn())
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.Gatewayf(err, "payment gateway unavailable")
		}
	}
	observability.GatewayDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return err
}

// classify maps processor errors onto domain kinds. An unknown object is
// NotFound; anything else, including transport failures, is a gateway error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusNotFound {
			return domain.NotFoundf("payment: %s", se.Msg)
		}
		return domain.Gatewayf(nil, "payment processor returned %d on %s: %s", se.HTTPStatusCode, op, se.Msg)
	}
	return domain.Gatewayf(err, "payment %s", op)
}

type stripeLogger struct {
	observability.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.Debug(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.Warn(fmt.Sprintf(format, v...)) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.Warn(fmt.Sprintf(format, v...)) }
