// Package outbox relays booking events committed to the outbox table to the
// message broker.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/stay-reservations/internal/adapters/crdb"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

// Store hands out locked batches of unpublished records. publish reports
// how many leading records were relayed; only those are marked published.
type Store interface {
	RelayOutbox(ctx context.Context, limit int, publish func([]crdb.OutboxRecord) int) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	store    Store
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(store Store, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{store: store, broker: broker, logger: logger, interval: interval, batch: batch}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil {
				p.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush relays one batch in creation order and returns how many records
// were published. It stops at the first publish failure so later events
// never overtake an earlier one; the failed record is retried next tick.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	return p.store.RelayOutbox(ctx, p.batch, func(records []crdb.OutboxRecord) int {
		if len(records) == 0 {
			observability.OutboxLag.Set(0)
			return 0
		}
		observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

		for i, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Type:        rec.EventType,
				Timestamp:   rec.CreatedAt,
				Body:        rec.Payload,
			}
			if err := p.broker.Publish(ctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithError(err).WithField("outbox_id", rec.ID).Warn("publish failed, will retry")
				return i
			}
		}
		return len(records)
	})
}
