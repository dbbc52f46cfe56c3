// Package tracker keeps the Redis order-status cache in step with the
// lifecycle events, so the storefront tracking page reads never hit Postgres.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/Thiagopc02/site-imperio-sub000/internal/kafka"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
	"github.com/Thiagopc02/site-imperio-sub000/internal/redisx"
)

type Service struct {
	Redis *redis.Client
}

// HandleEvent is wired as the consumer handler for the order status topic.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// At-least-once delivery: dedup by event id before touching the cache.
	dkey := fmt.Sprintf(redisx.KeyDedup, "tracker", env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	var (
		orderID string
		status  orders.Status
	)
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = p.OrderID, p.Status
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, status = p.OrderID, p.To
	default:
		return nil // ignore
	}

	body, _ := json.Marshal(map[string]any{"status": status, "updated_at": env.OccurredAt})
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := s.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		log.Printf("[tracker] dedup mark %s: %v", env.EventID, err)
	}
	return nil
}
