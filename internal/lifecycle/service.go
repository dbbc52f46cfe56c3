// Package lifecycle drives the order state machine: webhook-driven payment
// reconciliation, the expiration sweeper and manual admin transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/Thiagopc02/site-imperio-sub000/internal/kafka"
	"github.com/Thiagopc02/site-imperio-sub000/internal/mercadopago"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
)

const CancelReasonExpired = "payment not completed within window"

// Store is the slice of the orders repo the service needs. *orders.Repo
// satisfies it; tests plug an in-memory stub.
type Store interface {
	Create(ctx context.Context, o *orders.Order, items []orders.Item) error
	GetByID(ctx context.Context, id string) (*orders.Order, []orders.Item, error)
	TransitionFrom(ctx context.Context, id string, from, to orders.Status, reason string, now time.Time) (bool, error)
	SetStatus(ctx context.Context, id string, to orders.Status, reason string, now time.Time) error
	SetPaymentID(ctx context.Context, id, paymentID string) error
	SweepExpired(ctx context.Context, now time.Time, reason string) ([]string, error)
}

// PaymentAPI is what the service needs from the provider client.
type PaymentAPI interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

// Publisher is satisfied by *kafkax.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store         Store
	Payments      PaymentAPI
	Producer      Publisher
	ServiceName   string
	PaymentWindow time.Duration // expiry for online orders
}

type CreateInput struct {
	CustomerID    string
	DeliveryType  orders.DeliveryType
	PaymentMethod orders.PaymentMethod
	Address       *orders.Address
	Items         []orders.Item
}

func (in CreateInput) validate() error {
	if in.CustomerID == "" {
		return errors.New("missing customer_id")
	}
	if in.DeliveryType != orders.DeliveryPickup && in.DeliveryType != orders.DeliveryCourier {
		return fmt.Errorf("invalid delivery_type %q", in.DeliveryType)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("invalid payment_method %q", in.PaymentMethod)
	}
	if in.DeliveryType == orders.DeliveryCourier && in.Address == nil {
		return errors.New("delivery order needs an address")
	}
	if len(in.Items) == 0 {
		return errors.New("empty order")
	}
	for _, it := range in.Items {
		if it.Name == "" || it.Qty <= 0 || it.UnitPriceCents < 0 {
			return fmt.Errorf("invalid item %q", it.Name)
		}
	}
	return nil
}

// Create builds the order at checkout. Online payment methods start in
// AWAITING_PAYMENT with an expiry window and carry the order id as the
// provider external reference; cash goes straight to IN_PROGRESS.
func (s *Service) Create(ctx context.Context, in CreateInput, traceID string) (*orders.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &orders.Order{
		ID:            uuid.NewString(),
		CustomerID:    in.CustomerID,
		DeliveryType:  in.DeliveryType,
		PaymentMethod: in.PaymentMethod,
		Status:        orders.StatusInProgress,
		TotalCents:    orders.TotalCents(in.Items),
		Address:       in.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.PaymentMethod.Online() {
		o.Status = orders.StatusAwaitingPayment
		o.ExternalRef = o.ID
		exp := now.Add(s.PaymentWindow)
		o.ExpiresAt = &exp
	}

	items := make([]orders.Item, len(in.Items))
	for i, it := range in.Items {
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		items[i] = it
	}

	if err := s.Store.Create(ctx, o, items); err != nil {
		return nil, err
	}

	s.publish(orders.EventOrderCreated, o.ID, traceID, orders.OrderCreatedPayload{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		TotalCents:    o.TotalCents,
		ExpiresAt:     o.ExpiresAt,
	})
	return o, nil
}

// ApplyNotification reconciles one webhook call against the provider and the
// store. Every return path that is not a store/provider failure is a
// deliberate no-op; callers on the webhook route ack the provider either way.
func (s *Service) ApplyNotification(ctx context.Context, n mercadopago.Notification, traceID string) error {
	if !n.Recognized {
		return nil
	}

	p, err := s.Payments.GetPayment(ctx, n.PaymentID)
	if err != nil {
		return fmt.Errorf("fetch payment %s: %w", n.PaymentID, err)
	}
	if p.ExternalRef == "" {
		log.Printf("[lifecycle] payment %s carries no external reference, skipping", n.PaymentID)
		return nil
	}

	o, _, err := s.Store.GetByID(ctx, p.ExternalRef)
	if errors.Is(err, orders.ErrNotFound) {
		log.Printf("[lifecycle] payment %s references unknown order %s", n.PaymentID, p.ExternalRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", p.ExternalRef, err)
	}

	if err := s.Store.SetPaymentID(ctx, o.ID, n.PaymentID); err != nil {
		return fmt.Errorf("record payment id: %w", err)
	}

	var (
		to     orders.Status
		reason string
	)
	switch p.Status {
	case mercadopago.PaymentApproved:
		to = orders.StatusInProgress
	case mercadopago.PaymentRejected, mercadopago.PaymentCancelled:
		to = orders.StatusCancelled
		reason = "payment " + p.Status
		if p.StatusDetail != "" {
			reason += ": " + p.StatusDetail
		}
	default:
		// pending / in_process / refunded / in_mediation: nothing to move yet.
		return nil
	}

	// Guarded CAS from AWAITING_PAYMENT. A replayed or stale event finds the
	// guard gone and changes nothing.
	ok, err := s.Store.TransitionFrom(ctx, o.ID, orders.StatusAwaitingPayment, to, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition order %s: %w", o.ID, err)
	}
	if !ok {
		return nil
	}

	s.publish(orders.EventOrderStatusChanged, o.ID, traceID, orders.OrderStatusChangedPayload{
		OrderID: o.ID,
		From:    orders.StatusAwaitingPayment,
		To:      to,
		Reason:  reason,
		Source:  "webhook",
	})
	return nil
}

// SweepExpired cancels every order still awaiting payment past its expiry.
// Idempotent: the set is re-derived from persisted state each run, so a
// second sweep right after finds nothing.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.Store.SweepExpired(ctx, now, CancelReasonExpired)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.publish(orders.EventOrderStatusChanged, id, "", orders.OrderStatusChangedPayload{
			OrderID: id,
			From:    orders.StatusAwaitingPayment,
			To:      orders.StatusCancelled,
			Reason:  CancelReasonExpired,
			Source:  "sweeper",
		})
	}
	return len(ids), nil
}

// AdminSetStatus overwrites the status without consulting the transition
// table. The escape hatch for humans; automatic paths stay guarded.
func (s *Service) AdminSetStatus(ctx context.Context, orderID string, to orders.Status, reason, traceID string) error {
	if !to.Valid() {
		return fmt.Errorf("invalid status %q", to)
	}
	o, _, err := s.Store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.Store.SetStatus(ctx, orderID, to, reason, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(orders.EventOrderStatusChanged, orderID, traceID, orders.OrderStatusChangedPayload{
		OrderID: orderID,
		From:    o.Status,
		To:      to,
		Reason:  reason,
		Source:  "admin",
	})
	return nil
}

func (s *Service) publish(eventType, orderID, traceID string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
