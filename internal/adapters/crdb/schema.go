package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		place_id UUID NOT NULL,
		guest_id UUID NOT NULL,
		host_id UUID NOT NULL,
		check_in DATE NOT NULL,
		check_out DATE NOT NULL,
		status STRING NOT NULL CHECK (status IN ('pending', 'confirmed', 'checked-in', 'checked-out', 'cancelled')),
		guests JSONB NOT NULL,
		pricing JSONB NOT NULL,
		payment JSONB NOT NULL,
		contact JSONB NOT NULL,
		cancellation JSONB,
		payment_reference STRING,
		version INT8 NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (check_in < check_out),
		INDEX bookings_place_stay_idx (place_id, check_in, check_out) STORING (status)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bookings_payment_reference_key
		ON bookings (payment_reference) WHERE payment_reference IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS booking_status_history (
		booking_id UUID NOT NULL REFERENCES bookings (id),
		seq INT8 NOT NULL,
		status STRING NOT NULL,
		actor_id UUID NOT NULL,
		reason STRING NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (booking_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type STRING NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type STRING NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key STRING NOT NULL,
		INDEX outbox_status_created_idx (status, created_at)
	)`,
}

// Migrate creates the tables the repository needs. It is safe to run on
// every start.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
