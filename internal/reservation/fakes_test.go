package reservation_test

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/reservation"
)

type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]domain.Booking
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[uuid.UUID]domain.Booking)}
}

func clone(b domain.Booking) domain.Booking {
	b.StatusHistory = append([]domain.StatusEntry(nil), b.StatusHistory...)
	if b.Cancellation != nil {
		c := *b.Cancellation
		b.Cancellation = &c
	}
	return b
}

func (s *memStore) overlapsLocked(b *domain.Booking) bool {
	for _, other := range s.bookings {
		if other.ID == b.ID || other.PlaceID != b.PlaceID {
			continue
		}
		if other.Status.Blocking() && other.Stay.Overlaps(b.Stay) {
			return true
		}
	}
	return false
}

func (s *memStore) Create(_ context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Payment.Reference != "" {
		for _, other := range s.bookings {
			if other.Payment.Reference == b.Payment.Reference {
				return domain.Conflict(domain.ErrDuplicatePayment)
			}
		}
	}
	if b.Status.Blocking() && s.overlapsLocked(b) {
		return domain.Conflict(domain.ErrPlaceUnavailable)
	}
	b.Version = 1
	s.bookings[b.ID] = clone(*b)
	return nil
}

func (s *memStore) FindOverlapping(_ context.Context, placeID uuid.UUID, stay domain.StayRange, excludeID *uuid.UUID) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.PlaceID != placeID || !b.Stay.Overlaps(stay) || !b.Status.Blocking() {
			continue
		}
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		out = append(out, clone(b))
	}
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.NotFoundf("booking %s", id)
	}
	c := clone(b)
	return &c, nil
}

func (s *memStore) GetByPaymentReference(_ context.Context, ref string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.Payment.Reference == ref {
			c := clone(b)
			return &c, nil
		}
	}
	return nil, domain.NotFoundf("booking with payment %s", ref)
}

func (s *memStore) ApplyTransition(_ context.Context, b *domain.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return domain.NotFoundf("booking %s", b.ID)
	}
	if cur.Version != expectedVersion {
		return domain.Conflict(domain.ErrStaleBooking)
	}
	if b.Status.Blocking() && !cur.Status.Blocking() && s.overlapsLocked(b) {
		return domain.Conflict(domain.ErrPlaceUnavailable)
	}
	b.Version = expectedVersion + 1
	s.bookings[b.ID] = clone(*b)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

type fakeCatalog struct {
	places map[uuid.UUID]domain.Place
}

func (c *fakeCatalog) GetPlace(_ context.Context, id uuid.UUID) (*domain.Place, error) {
	p, ok := c.places[id]
	if !ok {
		return nil, domain.NotFoundf("place %s", id)
	}
	return &p, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	intents  map[string]*reservation.PaymentIntent
	created  int
	keys     map[string]string
	refunds  []reservation.RefundRequest
	failWith error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]*reservation.PaymentIntent), keys: make(map[string]string)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req reservation.CreateIntentRequest) (*reservation.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return nil, g.failWith
	}
	if id, ok := g.keys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *g.intents[id]
		return &out, nil
	}
	g.created++
	id := "pi_" + strconv.Itoa(g.created)
	g.keys[req.IdempotencyKey] = id
	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	intent := &reservation.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
		Metadata:     meta,
	}
	g.intents[id] = intent
	out := *intent
	return &out, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (*reservation.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return nil, g.failWith
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, domain.NotFoundf("payment intent %s", id)
	}
	out := *intent
	return &out, nil
}

func (g *fakeGateway) Refund(_ context.Context, req reservation.RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return "", g.failWith
	}
	g.refunds = append(g.refunds, req)
	return "re_" + strconv.Itoa(len(g.refunds)), nil
}

// pay marks an intent as paid, as the processor would after the client
// completes checkout.
func (g *fakeGateway) pay(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = reservation.IntentSucceeded
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) RecordBooking(_ context.Context, action string, _ uuid.UUID, _ *domain.Booking) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

var errBoom = errors.New("boom")
