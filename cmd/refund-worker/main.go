package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/stay-reservations/internal/adapters/payment"
	"github.com/robertarktes/stay-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/stay-reservations/internal/config"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "stay-refund-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(observability.WithLevel(cfg.LogLevel), observability.WithFile(cfg.LogFile))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.RefundQueue, domain.EventBookingCancelled)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	gateway := payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, logger)
	worker := NewRefundWorker(reservation.NewRefunder(gateway, logger), logger)

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}
	logger.WithField("queue", cfg.RefundQueue).Info("Refund worker started")
	worker.Run(ctx, deliveries)
	logger.Info("Shutdown refund worker")
}
