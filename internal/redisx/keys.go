package redisx

import "time"

const (
	// Order status cache for the tracking page: order_status:{order_id} ->
	// {"status": "...", "updated_at": "..."}. Maintained by the tracker
	// consumer, re-warmed by the API on cache miss.
	KeyOrderStatus = "order_status:%s"

	// Consumer dedup: dedup:{service}:{event_id}.
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
