package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Thiagopc02/site-imperio-sub000/internal/mercadopago"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
)

// stubStore keeps orders in memory and mirrors the repo's compare-and-set
// and sweep semantics.
type stubStore struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
	items  map[string][]orders.Item
}

func newStubStore() *stubStore {
	return &stubStore{orders: map[string]*orders.Order{}, items: map[string][]orders.Item{}}
}

func (s *stubStore) Create(ctx context.Context, o *orders.Order, items []orders.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	s.items[o.ID] = append([]orders.Item(nil), items...)
	return nil
}

func (s *stubStore) GetByID(ctx context.Context, id string) (*orders.Order, []orders.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, s.items[id], nil
}

func (s *stubStore) TransitionFrom(ctx context.Context, id string, from, to orders.Status, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.CancelReason = reason
	o.ExpiresAt = nil
	o.UpdatedAt = now
	return true, nil
}

func (s *stubStore) SetStatus(ctx context.Context, id string, to orders.Status, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.Status = to
	o.CancelReason = reason
	o.ExpiresAt = nil
	o.UpdatedAt = now
	return nil
}

func (s *stubStore) SetPaymentID(ctx context.Context, id, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok && o.PaymentID == "" {
		o.PaymentID = paymentID
	}
	return nil
}

func (s *stubStore) SweepExpired(ctx context.Context, now time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, o := range s.orders {
		if o.Status == orders.StatusAwaitingPayment && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			o.Status = orders.StatusCancelled
			o.CancelReason = reason
			o.ExpiresAt = nil
			o.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakePayments serves canned provider records keyed by payment id.
type fakePayments struct {
	payments map[string]*mercadopago.Payment
	err      error
	calls    int
}

func (f *fakePayments) GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, mercadopago.ErrPaymentNotFound
	}
	return p, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events [][]byte
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, value)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newService(store *stubStore, pay *fakePayments) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	return &Service{
		Store:         store,
		Payments:      pay,
		Producer:      pub,
		ServiceName:   "test",
		PaymentWindow: 30 * time.Minute,
	}, pub
}

func pixOrder(store *stubStore, id string, status orders.Status, expiresAt *time.Time) {
	now := time.Now().UTC()
	store.orders[id] = &orders.Order{
		ID:            id,
		CustomerID:    "cust-1",
		DeliveryType:  orders.DeliveryPickup,
		PaymentMethod: orders.PaymentPix,
		Status:        status,
		TotalCents:    5000,
		ExternalRef:   id,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreate_OnlineStartsAwaitingPayment(t *testing.T) {
	store := newStubStore()
	svc, pub := newService(store, &fakePayments{})

	o, err := svc.Create(context.Background(), CreateInput{
		CustomerID:    "cust-1",
		DeliveryType:  orders.DeliveryCourier,
		PaymentMethod: orders.PaymentPix,
		Address:       &orders.Address{Street: "Rua A", Number: "10", District: "Centro", City: "Brasília"},
		Items: []orders.Item{
			{Name: "Vodka 1L", UnitPriceCents: 4500, Qty: 1},
			{Name: "Energético", UnitPriceCents: 900, Qty: 2},
		},
	}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Status != orders.StatusAwaitingPayment {
		t.Errorf("status = %s", o.Status)
	}
	if o.TotalCents != 4500+2*900 {
		t.Errorf("total = %d", o.TotalCents)
	}
	if o.ExternalRef != o.ID {
		t.Errorf("external ref %q != order id %q", o.ExternalRef, o.ID)
	}
	if o.ExpiresAt == nil {
		t.Error("online order must carry an expiry")
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestCreate_CashStartsInProgress(t *testing.T) {
	store := newStubStore()
	svc, _ := newService(store, &fakePayments{})

	o, err := svc.Create(context.Background(), CreateInput{
		CustomerID:    "cust-2",
		DeliveryType:  orders.DeliveryPickup,
		PaymentMethod: orders.PaymentCash,
		Items:         []orders.Item{{Name: "Cerveja", UnitPriceCents: 1000, Qty: 6}},
	}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Status != orders.StatusInProgress {
		t.Errorf("status = %s", o.Status)
	}
	if o.ExpiresAt != nil {
		t.Error("cash order must not expire")
	}
	if o.ExternalRef != "" {
		t.Errorf("cash order has external ref %q", o.ExternalRef)
	}
}

func TestCreate_DeliveryNeedsAddress(t *testing.T) {
	store := newStubStore()
	svc, _ := newService(store, &fakePayments{})

	_, err := svc.Create(context.Background(), CreateInput{
		CustomerID:    "cust-3",
		DeliveryType:  orders.DeliveryCourier,
		PaymentMethod: orders.PaymentPix,
		Items:         []orders.Item{{Name: "Gin", UnitPriceCents: 8000, Qty: 1}},
	}, "")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if len(store.orders) != 0 {
		t.Error("order persisted despite validation failure")
	}
}

func TestApplyNotification_ApprovedIsIdempotent(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusAwaitingPayment, nil)
	pay := &fakePayments{payments: map[string]*mercadopago.Payment{
		"p1": {ID: "p1", Status: mercadopago.PaymentApproved, ExternalRef: "o1"},
	}}
	svc, pub := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p1"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if got := store.orders["o1"].Status; got != orders.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got)
	}
	if store.orders["o1"].PaymentID != "p1" {
		t.Errorf("payment id not recorded")
	}
	if pub.count() != 1 {
		t.Fatalf("published %d events, want 1", pub.count())
	}

	// Redelivery: guard no longer matches, nothing moves, nothing publishes.
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if got := store.orders["o1"].Status; got != orders.StatusInProgress {
		t.Fatalf("status after redelivery = %s", got)
	}
	if pub.count() != 1 {
		t.Errorf("redelivery published again (%d events)", pub.count())
	}
}

func TestApplyNotification_RejectedCancels(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusAwaitingPayment, nil)
	pay := &fakePayments{payments: map[string]*mercadopago.Payment{
		"p1": {ID: "p1", Status: mercadopago.PaymentRejected, StatusDetail: "cc_rejected_insufficient_amount", ExternalRef: "o1"},
	}}
	svc, _ := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p1"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	o := store.orders["o1"]
	if o.Status != orders.StatusCancelled {
		t.Fatalf("status = %s", o.Status)
	}
	if o.CancelReason == "" {
		t.Error("cancellation without reason")
	}
}

func TestApplyNotification_PendingIsNoOp(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusAwaitingPayment, nil)
	pay := &fakePayments{payments: map[string]*mercadopago.Payment{
		"p1": {ID: "p1", Status: mercadopago.PaymentInProcess, ExternalRef: "o1"},
	}}
	svc, pub := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p1"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := store.orders["o1"].Status; got != orders.StatusAwaitingPayment {
		t.Fatalf("status = %s, want AWAITING_PAYMENT", got)
	}
	if pub.count() != 0 {
		t.Error("no-op published an event")
	}
}

func TestApplyNotification_TerminalStateStaysPut(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusCancelled, nil)
	pay := &fakePayments{payments: map[string]*mercadopago.Payment{
		"p1": {ID: "p1", Status: mercadopago.PaymentApproved, ExternalRef: "o1"},
	}}
	svc, pub := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p1"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := store.orders["o1"].Status; got != orders.StatusCancelled {
		t.Fatalf("terminal order moved to %s", got)
	}
	if pub.count() != 0 {
		t.Error("guard miss published an event")
	}
}

func TestApplyNotification_UnrecognizedSkipsProvider(t *testing.T) {
	store := newStubStore()
	pay := &fakePayments{}
	svc, _ := newService(store, pay)

	if err := svc.ApplyNotification(context.Background(), mercadopago.Notification{}, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if pay.calls != 0 {
		t.Error("provider queried for an unrecognized notification")
	}
}

func TestApplyNotification_UnknownOrderIsAbsorbed(t *testing.T) {
	store := newStubStore()
	pay := &fakePayments{payments: map[string]*mercadopago.Payment{
		"p9": {ID: "p9", Status: mercadopago.PaymentApproved, ExternalRef: "ghost"},
	}}
	svc, _ := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p9"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err != nil {
		t.Fatalf("unknown order must not error: %v", err)
	}
}

func TestApplyNotification_ProviderErrorSurfaces(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusAwaitingPayment, nil)
	pay := &fakePayments{err: errors.New("connection reset")}
	svc, _ := newService(store, pay)

	n := mercadopago.Notification{Recognized: true, EventType: "payment", PaymentID: "p1"}
	if err := svc.ApplyNotification(context.Background(), n, ""); err == nil {
		t.Fatal("expected a transient error")
	}
	if got := store.orders["o1"].Status; got != orders.StatusAwaitingPayment {
		t.Fatalf("state mutated on provider failure: %s", got)
	}
}

func TestSweepExpired(t *testing.T) {
	store := newStubStore()
	now := time.Now().UTC()
	past := now.Add(-1 * time.Second)
	future := now.Add(1 * time.Second)
	pixOrder(store, "expired", orders.StatusAwaitingPayment, &past)
	pixOrder(store, "alive", orders.StatusAwaitingPayment, &future)
	svc, pub := newService(store, &fakePayments{})

	updated, err := svc.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if got := store.orders["expired"]; got.Status != orders.StatusCancelled || got.CancelReason != CancelReasonExpired {
		t.Fatalf("expired order: status=%s reason=%q", got.Status, got.CancelReason)
	}
	if store.orders["expired"].ExpiresAt != nil {
		t.Error("expiry not cleared after cancellation")
	}
	if got := store.orders["alive"].Status; got != orders.StatusAwaitingPayment {
		t.Fatalf("unexpired order touched: %s", got)
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}

	// Second pass re-derives from state and finds nothing.
	updated, err = svc.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if updated != 0 {
		t.Fatalf("second sweep updated = %d, want 0", updated)
	}
}

func TestAdminSetStatus_BypassesTransitionTable(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusCancelled, nil)
	svc, pub := newService(store, &fakePayments{})

	// Resurrecting a cancelled order is impossible on the automatic paths
	// and exactly what the admin escape hatch is for.
	err := svc.AdminSetStatus(context.Background(), "o1", orders.StatusConfirmed, "customer paid in person", "")
	if err != nil {
		t.Fatalf("admin set: %v", err)
	}
	if got := store.orders["o1"].Status; got != orders.StatusConfirmed {
		t.Fatalf("status = %s", got)
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestAdminSetStatus_UnknownOrder(t *testing.T) {
	store := newStubStore()
	svc, _ := newService(store, &fakePayments{})

	err := svc.AdminSetStatus(context.Background(), "ghost", orders.StatusConfirmed, "", "")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdminSetStatus_InvalidStatus(t *testing.T) {
	store := newStubStore()
	pixOrder(store, "o1", orders.StatusInProgress, nil)
	svc, _ := newService(store, &fakePayments{})

	if err := svc.AdminSetStatus(context.Background(), "o1", orders.Status("PAID"), "", ""); err == nil {
		t.Fatal("expected an invalid-status error")
	}
}
