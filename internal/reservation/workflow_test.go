package reservation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/reservation"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	wf      *reservation.Workflow
	store   *memStore
	gateway *fakeGateway
	catalog *fakeCatalog
	audit   *memAudit
	place   domain.Place
	host    domain.Actor
	guest   domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	place := domain.Place{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Price:     decimal.NewFromInt(100),
		Currency:  domain.Currency("USD"),
		MaxGuests: 4,
	}
	f := &fixture{
		store:   newMemStore(),
		gateway: newFakeGateway(),
		catalog: &fakeCatalog{places: map[uuid.UUID]domain.Place{place.ID: place}},
		audit:   &memAudit{},
		place:   place,
		host:    domain.Actor{ID: place.OwnerID, Role: domain.RoleHost},
		guest:   domain.Actor{ID: uuid.New(), Role: domain.RoleGuest, Name: "Ana", Phone: "+100"},
	}
	f.wf = reservation.NewWorkflow(f.catalog, f.store, f.gateway, observability.NopLogger(),
		reservation.WithClock(func() time.Time { return testNow }),
		reservation.WithAudit(f.audit),
	)
	return f
}

func stay(t *testing.T, in, out string) domain.StayRange {
	t.Helper()
	s, err := domain.ParseStayRange(in, out)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (f *fixture) request(t *testing.T, in, out string) reservation.StayRequest {
	return reservation.StayRequest{
		PlaceID: f.place.ID,
		Stay:    stay(t, in, out),
		Guests:  domain.Guests{Adults: 2},
	}
}

// book runs both phases for actor and returns the confirmed booking.
func (f *fixture) book(t *testing.T, actor domain.Actor, in, out string) *domain.Booking {
	t.Helper()
	q, err := f.wf.CreateIntent(context.Background(), actor, f.request(t, in, out))
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	f.gateway.pay(q.PaymentIntentID)
	b, err := f.wf.Confirm(context.Background(), actor, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return b
}

func TestCreateIntent_QuotesStay(t *testing.T) {
	f := newFixture(t)

	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	if q.AmountMinor != 38100 || q.Currency != "USD" {
		t.Errorf("expected 38100 USD, got %d %s", q.AmountMinor, q.Currency)
	}
	if !q.Breakdown.Total.Equal(decimal.NewFromInt(381)) || q.Breakdown.Nights != 3 {
		t.Errorf("unexpected breakdown %+v", q.Breakdown)
	}
	if q.ClientSecret == "" || q.PaymentIntentID == "" {
		t.Errorf("expected intent handles, got %+v", q)
	}

	intent, err := f.gateway.RetrieveIntent(context.Background(), q.PaymentIntentID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		reservation.MetaGuestID:  f.guest.ID.String(),
		reservation.MetaPlaceID:  f.place.ID.String(),
		reservation.MetaCheckIn:  "2025-06-01",
		reservation.MetaCheckOut: "2025-06-04",
		reservation.MetaTotal:    "381.00",
		reservation.MetaCurrency: "USD",
	}
	for k, v := range want {
		if intent.Metadata[k] != v {
			t.Errorf("metadata %s: expected %q, got %q", k, v, intent.Metadata[k])
		}
	}
	if f.store.count() != 0 {
		t.Errorf("intent must not create a booking")
	}
}

func TestCreateIntent_RetryWithKeyReusesIntent(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "2025-06-01", "2025-06-04")
	req.IdempotencyKey = "k-1"

	first, err := f.wf.CreateIntent(context.Background(), f.guest, req)
	if err != nil {
		t.Fatal(err)
	}
	retry, err := f.wf.CreateIntent(context.Background(), f.guest, req)
	if err != nil {
		t.Fatal(err)
	}
	if retry.PaymentIntentID != first.PaymentIntentID || f.gateway.createdCount() != 1 {
		t.Errorf("expected one intent, got %s and %s (%d created)", first.PaymentIntentID, retry.PaymentIntentID, f.gateway.createdCount())
	}

	other := domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}
	theirs, err := f.wf.CreateIntent(context.Background(), other, req)
	if err != nil {
		t.Fatal(err)
	}
	if theirs.PaymentIntentID == first.PaymentIntentID {
		t.Error("key must be scoped to the actor")
	}

	req.IdempotencyKey = ""
	if _, err := f.wf.CreateIntent(context.Background(), f.guest, req); err != nil {
		t.Fatal(err)
	}
	if f.gateway.createdCount() != 3 {
		t.Errorf("expected a fresh intent without a key, got %d created", f.gateway.createdCount())
	}
}

func TestCreateIntent_Rejections(t *testing.T) {
	f := newFixture(t)
	f.book(t, domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}, "2025-07-01", "2025-07-05")
	created := f.gateway.createdCount()

	tests := []struct {
		name  string
		actor domain.Actor
		req   func() reservation.StayRequest
		kind  error
	}{
		{"unknown place", f.guest, func() reservation.StayRequest {
			r := f.request(t, "2025-06-01", "2025-06-04")
			r.PlaceID = uuid.New()
			return r
		}, domain.ErrNotFound},
		{"owner books own place", f.host, func() reservation.StayRequest {
			return f.request(t, "2025-06-01", "2025-06-04")
		}, domain.ErrPermission},
		{"inverted dates", f.guest, func() reservation.StayRequest {
			r := f.request(t, "2025-06-01", "2025-06-04")
			r.Stay.CheckIn, r.Stay.CheckOut = r.Stay.CheckOut, r.Stay.CheckIn
			return r
		}, domain.ErrValidation},
		{"check-in in the past", f.guest, func() reservation.StayRequest {
			return f.request(t, "2025-05-10", "2025-05-12")
		}, domain.ErrValidation},
		{"too many guests", f.guest, func() reservation.StayRequest {
			r := f.request(t, "2025-06-01", "2025-06-04")
			r.Guests = domain.Guests{Adults: 3, Children: 2}
			return r
		}, domain.ErrValidation},
		{"overlaps confirmed booking", f.guest, func() reservation.StayRequest {
			return f.request(t, "2025-07-04", "2025-07-06")
		}, domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wf.CreateIntent(context.Background(), tt.actor, tt.req())
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if f.gateway.createdCount() != created {
				t.Errorf("gateway must not be called on rejected requests")
			}
		})
	}
}

func TestCreateIntent_AdjacentStayAllowed(t *testing.T) {
	f := newFixture(t)
	f.book(t, domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}, "2025-06-01", "2025-06-04")

	if _, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-04", "2025-06-06")); err != nil {
		t.Fatalf("checkout day should be bookable, got %v", err)
	}
}

func TestCreateIntent_PetsDoNotCount(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "2025-06-01", "2025-06-04")
	req.Guests = domain.Guests{Adults: 2, Children: 1, Infants: 1, Pets: 3}

	if _, err := f.wf.CreateIntent(context.Background(), f.guest, req); err != nil {
		t.Fatal(err)
	}
}

func TestConfirm_CreatesConfirmedBooking(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, f.guest, "2025-06-01", "2025-06-04")

	if b.Status != domain.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", b.Status)
	}
	if b.Payment.Status != domain.PaymentPaid || b.Payment.Provider != domain.ProviderStripe || b.Payment.Reference == "" {
		t.Errorf("unexpected payment %+v", b.Payment)
	}
	if !b.Pricing.Total.Equal(decimal.NewFromInt(381)) || !b.Payment.Amount.Equal(decimal.NewFromInt(381)) {
		t.Errorf("expected total 381, got %s / %s", b.Pricing.Total, b.Payment.Amount)
	}
	if b.GuestID != f.guest.ID || b.HostID != f.place.OwnerID {
		t.Errorf("unexpected parties %s/%s", b.GuestID, b.HostID)
	}
	if b.Contact.Name != "Ana" || b.Contact.Phone != "+100" {
		t.Errorf("expected profile contact, got %+v", b.Contact)
	}
	if len(b.StatusHistory) != 1 {
		t.Errorf("expected one history entry, got %d", len(b.StatusHistory))
	}
	if len(f.audit.actions) != 1 || f.audit.actions[0] != domain.EventBookingConfirmed {
		t.Errorf("expected confirmation audit, got %v", f.audit.actions)
	}
}

func TestConfirm_ContactOverridesProfile(t *testing.T) {
	f := newFixture(t)
	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.pay(q.PaymentIntentID)

	b, err := f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{
		PaymentIntentID: q.PaymentIntentID,
		Name:            " Bea ",
		Phone:           "+200",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Contact.Name != "Bea" || b.Contact.Phone != "+200" {
		t.Errorf("unexpected contact %+v", b.Contact)
	}
}

func TestConfirm_Rejections(t *testing.T) {
	f := newFixture(t)
	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unpaid intent: expected validation error, got %v", err)
	}

	f.gateway.pay(q.PaymentIntentID)
	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}
	_, err = f.wf.Confirm(context.Background(), stranger, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
	if !errors.Is(err, domain.ErrPermission) {
		t.Errorf("foreign intent: expected permission error, got %v", err)
	}

	_, err = f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: "pi_missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing intent: expected not found, got %v", err)
	}

	_, err = f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty id: expected validation error, got %v", err)
	}

	if f.store.count() != 0 {
		t.Errorf("rejected confirmations must not persist bookings")
	}
}

func TestConfirm_PriceDriftIsConflict(t *testing.T) {
	f := newFixture(t)
	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.pay(q.PaymentIntentID)

	p := f.catalog.places[f.place.ID]
	p.Price = decimal.RequireFromString("100.01")
	f.catalog.places[f.place.ID] = p

	_, err = f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.store.count() != 0 {
		t.Errorf("no booking expected after price drift")
	}
}

func TestConfirm_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.guest, "2025-06-01", "2025-06-04")

	again, err := f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: first.Payment.Reference})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("expected booking %s, got %s", first.ID, again.ID)
	}
	if f.store.count() != 1 {
		t.Errorf("expected one booking, got %d", f.store.count())
	}
}

func TestConfirm_SecondPaidIntentForSameDatesConflicts(t *testing.T) {
	f := newFixture(t)
	other := domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}

	q1, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	q2, err := f.wf.CreateIntent(context.Background(), other, f.request(t, "2025-06-02", "2025-06-05"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.pay(q1.PaymentIntentID)
	f.gateway.pay(q2.PaymentIntentID)

	if _, err := f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: q1.PaymentIntentID}); err != nil {
		t.Fatal(err)
	}
	_, err = f.wf.Confirm(context.Background(), other, reservation.ConfirmRequest{PaymentIntentID: q2.PaymentIntentID})
	if !errors.Is(err, domain.ErrPlaceUnavailable) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected unavailable conflict, got %v", err)
	}
}

// lateStore hides a concurrently committed booking from the first reference
// lookup and aborts Create the way a serializable restart does.
type lateStore struct {
	*memStore
	lookups int
}

func (s *lateStore) GetByPaymentReference(ctx context.Context, ref string) (*domain.Booking, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, domain.NotFoundf("booking with payment %s", ref)
	}
	return s.memStore.GetByPaymentReference(ctx, ref)
}

func (s *lateStore) Create(context.Context, *domain.Booking) error {
	return domain.Conflict(errors.Wrap(domain.ErrSerializationFailure, "restart transaction"))
}

func (f *fixture) workflowOver(store reservation.BookingStore) *reservation.Workflow {
	return reservation.NewWorkflow(f.catalog, store, f.gateway, observability.NopLogger(),
		reservation.WithClock(func() time.Time { return testNow }),
	)
}

func TestConfirm_SameIntentRaceReturnsWinner(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.guest, "2025-06-01", "2025-06-04")

	wf := f.workflowOver(&lateStore{memStore: f.store})
	got, err := wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: first.Payment.Reference})
	if err != nil {
		t.Fatalf("expected the committed booking, got %v", err)
	}
	if got.ID != first.ID || f.store.count() != 1 {
		t.Errorf("expected booking %s only, got %s (%d stored)", first.ID, got.ID, f.store.count())
	}
}

func TestConfirm_LostRaceIsConflict(t *testing.T) {
	f := newFixture(t)
	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.pay(q.PaymentIntentID)

	wf := f.workflowOver(&lateStore{memStore: f.store})
	_, err = wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
	if !errors.Is(err, domain.ErrConflict) || !errors.Is(err, domain.ErrSerializationFailure) {
		t.Fatalf("expected serialization conflict, got %v", err)
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicatePayment) {
		t.Errorf("lost race misreported: %v", err)
	}
}

func TestConfirm_ConcurrentSameIntent(t *testing.T) {
	f := newFixture(t)
	q, err := f.wf.CreateIntent(context.Background(), f.guest, f.request(t, "2025-06-01", "2025-06-04"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.pay(q.PaymentIntentID)

	const n = 8
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: q.PaymentIntentID})
			if err != nil {
				t.Errorf("confirm: %v", err)
				return
			}
			ids <- b.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 || f.store.count() != 1 {
		t.Errorf("expected every confirm to return one booking, got %d ids and %d stored", len(seen), f.store.count())
	}
}

func TestConfirm_ConcurrentOverlappingConfirmations(t *testing.T) {
	f := newFixture(t)
	const n = 8

	type attempt struct {
		actor domain.Actor
		id    string
	}
	attempts := make([]attempt, n)
	for i := range attempts {
		actor := domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}
		q, err := f.wf.CreateIntent(context.Background(), actor, f.request(t, "2025-06-01", "2025-06-04"))
		if err != nil {
			t.Fatal(err)
		}
		f.gateway.pay(q.PaymentIntentID)
		attempts[i] = attempt{actor: actor, id: q.PaymentIntentID}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, a := range attempts {
		wg.Add(1)
		go func(a attempt) {
			defer wg.Done()
			_, err := f.wf.Confirm(context.Background(), a.actor, reservation.ConfirmRequest{PaymentIntentID: a.id})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(a)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", n-1, succeeded, conflicts)
	}
}

func TestConfirm_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.failWith = domain.Gatewayf(errBoom, "retrieve intent")

	_, err := f.wf.Confirm(context.Background(), f.guest, reservation.ConfirmRequest{PaymentIntentID: "pi_1"})
	if !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestCreateDirect(t *testing.T) {
	f := newFixture(t)
	declared := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	_, err := f.wf.CreateDirect(context.Background(), f.guest, reservation.DirectRequest{
		StayRequest:   f.request(t, "2025-06-01", "2025-06-04"),
		PaymentMethod: domain.MethodCard,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("card: expected validation error, got %v", err)
	}

	_, err = f.wf.CreateDirect(context.Background(), f.guest, reservation.DirectRequest{
		StayRequest:   f.request(t, "2025-06-01", "2025-06-04"),
		TotalPrice:    declared("420.00"),
		PaymentMethod: domain.MethodCash,
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("declared total out of tolerance: expected conflict, got %v", err)
	}

	b, err := f.wf.CreateDirect(context.Background(), f.guest, reservation.DirectRequest{
		StayRequest:   f.request(t, "2025-06-01", "2025-06-04"),
		TotalPrice:    declared("395.00"),
		PaymentMethod: domain.MethodBankTransfer,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.StatusPending || b.Payment.Status != domain.PaymentPending || b.Payment.Provider != domain.ProviderManual {
		t.Errorf("unexpected booking state %s / %+v", b.Status, b.Payment)
	}
	if !b.Pricing.Total.Equal(decimal.NewFromInt(381)) {
		t.Errorf("expected computed total 381, got %s", b.Pricing.Total)
	}
}

func TestCreateDirect_PendingDoesNotBlockUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	other := domain.Actor{ID: uuid.New(), Role: domain.RoleGuest}
	req := func() reservation.DirectRequest {
		return reservation.DirectRequest{StayRequest: f.request(t, "2025-06-01", "2025-06-04"), PaymentMethod: domain.MethodCash}
	}

	first, err := f.wf.CreateDirect(context.Background(), f.guest, req())
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.wf.CreateDirect(context.Background(), other, req())
	if err != nil {
		t.Fatalf("pending bookings must not block, got %v", err)
	}

	if _, err := f.wf.UpdateStatus(context.Background(), f.host, first.ID, domain.StatusConfirmed, ""); err != nil {
		t.Fatal(err)
	}
	_, err = f.wf.UpdateStatus(context.Background(), f.host, second.ID, domain.StatusConfirmed, "")
	if !errors.Is(err, domain.ErrPlaceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	got, err := f.store.GetByID(context.Background(), second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("rejected confirmation must leave booking pending, got %s", got.Status)
	}
}
