package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	paymentReferenceIndex = "bookings_payment_reference_key"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == SerializationFailureCode:
		return domain.Conflict(errors.WithSecondaryError(domain.ErrSerializationFailure, err))
	case pgErr.Code == UniqueViolationCode && pgErr.ConstraintName == paymentReferenceIndex:
		return domain.Conflict(errors.WithSecondaryError(domain.ErrDuplicatePayment, err))
	}
	return err
}

const bookingColumns = `id, place_id, guest_id, host_id, check_in, check_out, status,
	guests, pricing, payment, contact, cancellation, version, created_at, updated_at`

const overlapQuery = `
	SELECT id FROM bookings
	WHERE place_id = $1 AND status IN ('confirmed', 'checked-in')
	  AND check_in < $3 AND check_out > $2 AND id <> $4
	LIMIT 1`

// Create inserts b with its history and a creation event. A reused payment
// reference is rejected first, then a blocking booking overlapping another
// blocking booking of the same place.
func (r *Repository) Create(ctx context.Context, b *domain.Booking) error {
	row, err := newBookingRow(b)
	if err != nil {
		return err
	}
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		if row.reference != nil {
			if err := checkReference(ctx, tx, *row.reference); err != nil {
				return err
			}
		}
		if b.Status.Blocking() {
			if err := checkOverlap(ctx, tx, b); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, place_id, guest_id, host_id, check_in, check_out, status,
				guests, pricing, payment, contact, cancellation, payment_reference, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
		`, b.ID, b.PlaceID, b.GuestID, b.HostID, b.Stay.CheckIn, b.Stay.CheckOut, b.Status,
			row.guests, row.pricing, row.payment, row.contact, row.cancellation, row.reference, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, b.ID, 0, b.StatusHistory); err != nil {
			return err
		}
		return r.insertEvent(ctx, tx, b)
	})
	if err != nil {
		return err
	}
	b.Version = 1
	return nil
}

// ApplyTransition persists the status change already applied to b, provided
// nobody else changed the booking since expectedVersion was read.
func (r *Repository) ApplyTransition(ctx context.Context, b *domain.Booking, expectedVersion int64) error {
	row, err := newBookingRow(b)
	if err != nil {
		return err
	}
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		if b.Status.Blocking() {
			if err := checkOverlap(ctx, tx, b); err != nil {
				return err
			}
		}
		res, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $3, payment = $4, cancellation = $5, version = version + 1, updated_at = $6
			WHERE id = $1 AND version = $2
		`, b.ID, expectedVersion, b.Status, row.payment, row.cancellation, b.UpdatedAt)
		if err != nil {
			return err
		}
		if res.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.NotFoundf("booking %s not found", b.ID)
			}
			return domain.Conflict(errors.Wrapf(domain.ErrStaleBooking, "booking %s", b.ID))
		}
		last := len(b.StatusHistory) - 1
		if err := insertHistory(ctx, tx, b.ID, last, b.StatusHistory[last:]); err != nil {
			return err
		}
		return r.insertEvent(ctx, tx, b)
	})
	if err != nil {
		return err
	}
	b.Version = expectedVersion + 1
	return nil
}

// checkReference runs before the overlap query so a second booking for the
// same payment reports the duplicate rather than overlapping its own twin.
func checkReference(ctx context.Context, tx pgx.Tx, ref string) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM bookings WHERE payment_reference = $1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return domain.Conflict(errors.Wrapf(domain.ErrDuplicatePayment, "payment %s already booked as %s", ref, id))
}

func checkOverlap(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, overlapQuery, b.PlaceID, b.Stay.CheckIn, b.Stay.CheckOut, b.ID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return domain.Conflict(errors.Wrapf(domain.ErrPlaceUnavailable, "place %s overlaps booking %s", b.PlaceID, id))
}

func insertHistory(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, firstSeq int, entries []domain.StatusEntry) error {
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`
			INSERT INTO booking_status_history (booking_id, seq, status, actor_id, reason, at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, bookingID, firstSeq+i, e.Status, e.ActorID, e.Reason, e.At)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	evt := domain.NewBookingEvent(b)
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode booking event")
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     evt.Name,
		Payload:       payload,
		DedupeKey:     b.ID.String() + ":" + string(b.Status),
	})
}

func (r *Repository) FindOverlapping(ctx context.Context, placeID uuid.UUID, stay domain.StayRange, excludeID *uuid.UUID) ([]domain.Booking, error) {
	exclude := uuid.Nil
	if excludeID != nil {
		exclude = *excludeID
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE place_id = $1 AND status IN ('confirmed', 'checked-in')
		  AND check_in < $3 AND check_out > $2 AND id <> $4
		ORDER BY check_in
	`, placeID, stay.CheckIn, stay.CheckOut, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("booking %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return b, r.loadHistory(ctx, b)
}

func (r *Repository) GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_reference = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("no booking for payment %s", ref)
	}
	if err != nil {
		return nil, err
	}
	return b, r.loadHistory(ctx, b)
}

func (r *Repository) loadHistory(ctx context.Context, b *domain.Booking) error {
	rows, err := r.pool.Query(ctx, `
		SELECT status, actor_id, reason, at
		FROM booking_status_history WHERE booking_id = $1 ORDER BY seq
	`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	b.StatusHistory = b.StatusHistory[:0]
	for rows.Next() {
		var e domain.StatusEntry
		if err := rows.Scan(&e.Status, &e.ActorID, &e.Reason, &e.At); err != nil {
			return err
		}
		e.At = e.At.UTC()
		b.StatusHistory = append(b.StatusHistory, e)
	}
	return rows.Err()
}

type bookingRow struct {
	guests, pricing, payment, contact, cancellation []byte
	reference                                       *string
}

func newBookingRow(b *domain.Booking) (bookingRow, error) {
	var row bookingRow
	var err error
	if row.guests, err = json.Marshal(b.Guests); err != nil {
		return row, errors.Wrap(err, "encode guests")
	}
	if row.pricing, err = json.Marshal(b.Pricing); err != nil {
		return row, errors.Wrap(err, "encode pricing")
	}
	if row.payment, err = json.Marshal(b.Payment); err != nil {
		return row, errors.Wrap(err, "encode payment")
	}
	if row.contact, err = json.Marshal(b.Contact); err != nil {
		return row, errors.Wrap(err, "encode contact")
	}
	if b.Cancellation != nil {
		if row.cancellation, err = json.Marshal(b.Cancellation); err != nil {
			return row, errors.Wrap(err, "encode cancellation")
		}
	}
	if b.Payment.Reference != "" {
		ref := b.Payment.Reference
		row.reference = &ref
	}
	return row, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                                               domain.Booking
		guests, pricing, payment, contact, cancellation []byte
	)
	err := row.Scan(&b.ID, &b.PlaceID, &b.GuestID, &b.HostID, &b.Stay.CheckIn, &b.Stay.CheckOut, &b.Status,
		&guests, &pricing, &payment, &contact, &cancellation, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Stay.CheckIn = domain.DateOf(b.Stay.CheckIn)
	b.Stay.CheckOut = domain.DateOf(b.Stay.CheckOut)
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()

	if err := json.Unmarshal(guests, &b.Guests); err != nil {
		return nil, errors.Wrap(err, "decode guests")
	}
	if err := json.Unmarshal(pricing, &b.Pricing); err != nil {
		return nil, errors.Wrap(err, "decode pricing")
	}
	if err := json.Unmarshal(payment, &b.Payment); err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	if err := json.Unmarshal(contact, &b.Contact); err != nil {
		return nil, errors.Wrap(err, "decode contact")
	}
	if len(cancellation) > 0 {
		b.Cancellation = &domain.Cancellation{}
		if err := json.Unmarshal(cancellation, b.Cancellation); err != nil {
			return nil, errors.Wrap(err, "decode cancellation")
		}
	}
	return &b, nil
}
