package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutboxRecord is a booking event waiting to be relayed to the broker. It is
// written in the same transaction as the change it describes.
type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// RelayOutbox locks up to limit unpublished records, oldest first, and hands
// them to publish while the locks are held. Rows another relay has locked
// are skipped. publish returns how many leading records reached the broker;
// those are marked published in the same transaction.
func (r *Repository) RelayOutbox(ctx context.Context, limit int, publish func([]OutboxRecord) int) (int, error) {
	sent := 0
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		records, err := lockPending(ctx, tx, limit)
		if err != nil {
			return err
		}
		sent = publish(records)
		if sent > len(records) {
			sent = len(records)
		}
		now := time.Now().UTC()
		for _, rec := range records[:sent] {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
			`, rec.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

func lockPending(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
