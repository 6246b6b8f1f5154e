package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	"github.com/ariefcatur/go-restaurant-backend/internal/orders"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
	"github.com/ariefcatur/go-restaurant-backend/internal/reservations"
)

func newService(t *testing.T) (*Service, *redisx.StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redisx.NewStatusCache(rdb)
	return &Service{Redis: rdb, Cache: cache, Log: zerolog.Nop(), ServiceName: "projector"}, cache, mr
}

func message(t *testing.T, topic, eventType, id string, at time.Time, payload any) (kafkago.Message, events.Envelope) {
	t.Helper()
	env, err := events.New(context.Background(), eventType, "test", id, payload)
	require.NoError(t, err)
	env.OccurredAt = at
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{
		Topic:   topic,
		Key:     events.PartitionKey(id),
		Value:   b,
		Headers: []kafkago.Header{{Key: "x-event-type", Value: []byte(eventType)}},
	}, env
}

func orderView(t *testing.T, c *redisx.StatusCache, id string) orders.StatusView {
	t.Helper()
	var v orders.StatusView
	ok, err := c.Get(context.Background(), fmt.Sprintf(redisx.KeyOrderStatus, id), &v)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

func TestOrderLifecycleProjection(t *testing.T) {
	svc, cache, mr := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	placed, env := message(t, events.TopicOrderPlaced, events.TypeOrderPlaced, "o1", t0, events.OrderPlacedPayload{
		OrderID: "o1", UserID: "u1", Status: "pending", PaymentMethod: "cod",
	})
	require.NoError(t, svc.Handle(ctx, placed))
	v := orderView(t, cache, "o1")
	assert.Equal(t, orders.StatusPending, v.Status)
	assert.Equal(t, orders.PaymentPending, v.PaymentStatus)
	assert.True(t, mr.Exists(fmt.Sprintf(redisx.KeyDedup, "projector", env.EventID)))

	changed, _ := message(t, events.TopicOrderStatusChanged, events.TypeOrderStatusChanged, "o1", t0.Add(time.Minute), events.StatusChangedPayload{
		ID: "o1", OwnerID: "u1", From: "pending", To: "confirmed", ChangedBy: "admin", ChangedAt: t0.Add(time.Minute),
	})
	require.NoError(t, svc.Handle(ctx, changed))

	paid, _ := message(t, events.TopicOrderPaid, events.TypeOrderPaid, "o1", t0.Add(2*time.Minute), events.OrderPaidPayload{OrderID: "o1", UserID: "u1"})
	require.NoError(t, svc.Handle(ctx, paid))

	v = orderView(t, cache, "o1")
	assert.Equal(t, orders.StatusConfirmed, v.Status)
	assert.Equal(t, orders.PaymentPaid, v.PaymentStatus)
	assert.Equal(t, "u1", v.UserID)
}

func TestStaleStatusEventIgnored(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	placed, _ := message(t, events.TopicOrderPlaced, events.TypeOrderPlaced, "o2", t0, events.OrderPlacedPayload{
		OrderID: "o2", UserID: "u1", Status: "pending",
	})
	newer, _ := message(t, events.TopicOrderStatusChanged, events.TypeOrderStatusChanged, "o2", t0.Add(time.Hour), events.StatusChangedPayload{
		ID: "o2", OwnerID: "u1", From: "confirmed", To: "preparing", ChangedAt: t0.Add(time.Hour),
	})
	older, _ := message(t, events.TopicOrderStatusChanged, events.TypeOrderStatusChanged, "o2", t0.Add(time.Minute), events.StatusChangedPayload{
		ID: "o2", OwnerID: "u1", From: "pending", To: "confirmed", ChangedAt: t0.Add(time.Minute),
	})
	require.NoError(t, svc.Handle(ctx, placed))
	require.NoError(t, svc.Handle(ctx, newer))
	require.NoError(t, svc.Handle(ctx, older))

	assert.Equal(t, orders.StatusPreparing, orderView(t, cache, "o2").Status)
}

func TestPlacedEventKeepsExistingPaymentStatus(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// the API cached the failed payment before the placed event was consumed
	key := fmt.Sprintf(redisx.KeyOrderStatus, "o6")
	require.NoError(t, cache.Put(ctx, key, orders.StatusView{
		ID: "o6", UserID: "u1", Status: orders.StatusPending, PaymentStatus: orders.PaymentFailed, UpdatedAt: t0,
	}))
	placed, _ := message(t, events.TopicOrderPlaced, events.TypeOrderPlaced, "o6", t0.Add(time.Millisecond), events.OrderPlacedPayload{
		OrderID: "o6", UserID: "u1", Status: "pending",
	})
	require.NoError(t, svc.Handle(ctx, placed))

	assert.Equal(t, orders.PaymentFailed, orderView(t, cache, "o6").PaymentStatus)
}

func TestChangeEventsDoNotCreateViews(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	orderChanged, _ := message(t, events.TopicOrderStatusChanged, events.TypeOrderStatusChanged, "o7", at, events.StatusChangedPayload{
		ID: "o7", OwnerID: "u1", From: "pending", To: "confirmed", ChangedAt: at,
	})
	resChanged, _ := message(t, events.TopicReservationStatusChanged, events.TypeReservationStatusChanged, "r7", at, events.StatusChangedPayload{
		ID: "r7", OwnerID: "u1", From: "pending", To: "confirmed", ChangedAt: at,
	})
	require.NoError(t, svc.Handle(ctx, orderChanged))
	require.NoError(t, svc.Handle(ctx, resChanged))

	var ov orders.StatusView
	ok, err := cache.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, "o7"), &ov)
	require.NoError(t, err)
	assert.False(t, ok)

	var rv reservations.StatusView
	ok, err = cache.Get(ctx, fmt.Sprintf(redisx.KeyReservationStatus, "r7"), &rv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDuplicateDeliveryAppliedOnce(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	placed, _ := message(t, events.TopicOrderPlaced, events.TypeOrderPlaced, "o3", t0, events.OrderPlacedPayload{
		OrderID: "o3", UserID: "u1", Status: "pending",
	})
	require.NoError(t, svc.Handle(ctx, placed))

	// an admin cancel lands in the cache directly, then the old event is redelivered
	key := fmt.Sprintf(redisx.KeyOrderStatus, "o3")
	require.NoError(t, cache.Put(ctx, key, orders.StatusView{ID: "o3", UserID: "u1", Status: orders.StatusCancelled, UpdatedAt: t0}))
	require.NoError(t, svc.Handle(ctx, placed))

	assert.Equal(t, orders.StatusCancelled, orderView(t, cache, "o3").Status)
}

func TestPaidWithoutCachedViewIsSkipped(t *testing.T) {
	svc, cache, _ := newService(t)
	paid, _ := message(t, events.TopicOrderPaid, events.TypeOrderPaid, "o4", time.Now().UTC(), events.OrderPaidPayload{OrderID: "o4"})
	require.NoError(t, svc.Handle(context.Background(), paid))

	var v orders.StatusView
	ok, err := cache.Get(context.Background(), fmt.Sprintf(redisx.KeyOrderStatus, "o4"), &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservationProjection(t *testing.T) {
	svc, cache, _ := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, _ := message(t, events.TopicReservationCreated, events.TypeReservationCreated, "r1", t0, events.ReservationCreatedPayload{
		ReservationID: "r1", TableID: "t1", UserID: "u1", StartTime: t0.Add(24 * time.Hour), EndTime: t0.Add(26 * time.Hour), Status: "pending",
	})
	cancelled, _ := message(t, events.TopicReservationStatusChanged, events.TypeReservationStatusChanged, "r1", t0.Add(time.Minute), events.StatusChangedPayload{
		ID: "r1", OwnerID: "u1", From: "pending", To: "cancelled", ChangedBy: "u1", ChangedAt: t0.Add(time.Minute),
	})
	require.NoError(t, svc.Handle(ctx, created))
	require.NoError(t, svc.Handle(ctx, cancelled))

	var v reservations.StatusView
	ok, err := cache.Get(ctx, fmt.Sprintf(redisx.KeyReservationStatus, "r1"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reservations.StatusCancelled, v.Status)
	assert.Equal(t, "t1", v.TableID)
}

func TestMalformedAndUnknownMessagesAreCommitted(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  kafkago.Message
	}{
		{"not json", kafkago.Message{Topic: events.TopicOrderPlaced, Value: []byte("{")}},
		{"unknown type", func() kafkago.Message {
			m, _ := message(t, "misc", "SomethingElse", "x", time.Now(), map[string]string{})
			return m
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, svc.Handle(ctx, tt.msg))
		})
	}
}

func TestUnprojectedTypeSkippedByHeader(t *testing.T) {
	svc, _, mr := newService(t)
	mr.Close()

	m := kafkago.Message{
		Topic:   "menu.updated",
		Value:   []byte("{"),
		Headers: []kafkago.Header{{Key: "x-event-type", Value: []byte("MenuUpdated")}},
	}
	assert.NoError(t, svc.Handle(context.Background(), m))

	// a projected type still reaches redis
	m.Headers = []kafkago.Header{{Key: "x-event-type", Value: []byte(events.TypeOrderPlaced)}}
	m.Value, _ = json.Marshal(events.Envelope{EventID: "e1", EventType: events.TypeOrderPlaced, EventVersion: events.Version})
	assert.Error(t, svc.Handle(context.Background(), m))
}

func TestRedisFailureIsRetried(t *testing.T) {
	svc, _, mr := newService(t)
	placed, _ := message(t, events.TopicOrderPlaced, events.TypeOrderPlaced, "o5", time.Now().UTC(), events.OrderPlacedPayload{OrderID: "o5", Status: "pending"})
	mr.Close()
	assert.Error(t, svc.Handle(context.Background(), placed))
}
