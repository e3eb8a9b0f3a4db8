package main

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

const maxRetries = 3

type EventHandler interface {
	Handle(ctx context.Context, evt domain.BookingEvent) error
}

type RefundWorker struct {
	handler EventHandler
	logger  observability.Logger
	backoff time.Duration
}

func NewRefundWorker(handler EventHandler, logger observability.Logger) *RefundWorker {
	return &RefundWorker{handler: handler, logger: logger, backoff: time.Second}
}

func (w *RefundWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.process(ctx, d)
		}
	}
}

// process acks a delivery once its refund went through. Malformed messages
// are rejected; refunds still failing after retries are nacked without
// requeue so the broker can dead-letter them.
func (w *RefundWorker) process(ctx context.Context, d amqp.Delivery) {
	log := w.logger.WithField("message_id", d.MessageId)

	var evt domain.BookingEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		log.WithError(err).Error("malformed booking event")
		d.Reject(false)
		return
	}
	log = log.WithField("booking_id", evt.BookingID)

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = w.handler.Handle(ctx, evt); err == nil {
			d.Ack(false)
			return
		}
		log.WithError(err).WithField("attempt", i+1).Warn("refund failed")
		select {
		case <-ctx.Done():
			d.Nack(false, true)
			return
		case <-time.After(w.backoff * time.Duration(1<<i)):
		}
	}
	log.WithError(err).Error("refund failed after retries")
	d.Nack(false, false)
}
