package redisx

import "time"

const (
	// idem:order:create:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order_status:{order_id} -> {"id": "...", "status": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// reservation_status:{reservation_id}
	KeyReservationStatus = "reservation_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
