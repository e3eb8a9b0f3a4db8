package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange carries every booking event, routed by event name.
const Exchange = "stay.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch}, nil
}

// Publish sends msg and waits for the broker to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("broker nacked %s", key)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
