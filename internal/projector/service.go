// Package projector keeps the Redis status cache in step with the order and
// reservation event streams.
package projector

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	kafkax "github.com/ariefcatur/go-restaurant-backend/internal/kafka"
	"github.com/ariefcatur/go-restaurant-backend/internal/orders"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
	"github.com/ariefcatur/go-restaurant-backend/internal/reservations"
)

type Cache interface {
	Put(ctx context.Context, key string, v any) error
	Get(ctx context.Context, key string, out any) (bool, error)
}

type Service struct {
	Redis       redis.Cmdable
	Cache       Cache
	Log         zerolog.Logger
	ServiceName string
}

var projected = map[string]bool{
	events.TypeOrderPlaced:              true,
	events.TypeOrderStatusChanged:       true,
	events.TypeOrderPaid:                true,
	events.TypeReservationCreated:       true,
	events.TypeReservationStatusChanged: true,
}

// Handle is installed as the consumer handler. Events are applied at most
// once per event id. Creation events only fill an empty slot, and change
// events only patch an existing view that is not newer than the event.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m, "x-event-type"); t != "" && !projected[t] {
		return nil
	}
	env, err := kafkax.UnmarshalEnvelope(m)
	if err != nil {
		// poison message, nothing to retry
		s.Log.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("skipping undecodable message")
		return nil
	}
	if env.EventVersion != events.Version {
		s.Log.Warn().Str("event_type", env.EventType).Int("version", env.EventVersion).Msg("unsupported event version")
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, err := redisx.Exists(ctx, s.Redis, dkey); err != nil {
		return err
	} else if seen {
		return nil
	}

	switch env.EventType {
	case events.TypeOrderPlaced:
		err = s.orderPlaced(ctx, env)
	case events.TypeOrderStatusChanged:
		err = s.orderStatusChanged(ctx, env)
	case events.TypeOrderPaid:
		err = s.orderPaid(ctx, env)
	case events.TypeReservationCreated:
		err = s.reservationCreated(ctx, env)
	case events.TypeReservationStatusChanged:
		err = s.reservationStatusChanged(ctx, env)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := redisx.FirstSeen(ctx, s.Redis, s.ServiceName, env.EventID); err != nil {
		s.Log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup mark failed")
	}
	return nil
}

func (s *Service) orderPlaced(ctx context.Context, env events.Envelope) error {
	p, err := events.Decode[events.OrderPlacedPayload](env)
	if err != nil {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderID)
	var cur orders.StatusView
	found, err := s.Cache.Get(ctx, key, &cur)
	if err != nil || found {
		// an existing view was written by a later change or by the API itself
		return err
	}
	return s.Cache.Put(ctx, key, orders.StatusView{
		ID:            p.OrderID,
		UserID:        p.UserID,
		Status:        orders.Status(p.Status),
		PaymentStatus: orders.PaymentPending,
		UpdatedAt:     env.OccurredAt,
	})
}

// orderStatusChanged patches a cached view. A miss is left alone: the
// payload lacks the payment status, and readers fall back to the database.
func (s *Service) orderStatusChanged(ctx context.Context, env events.Envelope) error {
	p, err := events.Decode[events.StatusChangedPayload](env)
	if err != nil {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, p.ID)
	var v orders.StatusView
	found, err := s.Cache.Get(ctx, key, &v)
	if err != nil || !found {
		return err
	}
	if stale(v.UpdatedAt, p.ChangedAt) {
		return nil
	}
	v.Status = orders.Status(p.To)
	v.UpdatedAt = p.ChangedAt
	return s.Cache.Put(ctx, key, v)
}

// orderPaid only patches a cached view; without one the reader falls back
// to the database anyway.
func (s *Service) orderPaid(ctx context.Context, env events.Envelope) error {
	p, err := events.Decode[events.OrderPaidPayload](env)
	if err != nil {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderID)
	var v orders.StatusView
	found, err := s.Cache.Get(ctx, key, &v)
	if err != nil || !found {
		return err
	}
	v.PaymentStatus = orders.PaymentPaid
	if env.OccurredAt.After(v.UpdatedAt) {
		v.UpdatedAt = env.OccurredAt
	}
	return s.Cache.Put(ctx, key, v)
}

func (s *Service) reservationCreated(ctx context.Context, env events.Envelope) error {
	p, err := events.Decode[events.ReservationCreatedPayload](env)
	if err != nil {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyReservationStatus, p.ReservationID)
	var cur reservations.StatusView
	found, err := s.Cache.Get(ctx, key, &cur)
	if err != nil || found {
		return err
	}
	return s.Cache.Put(ctx, key, reservations.StatusView{
		ID:        p.ReservationID,
		UserID:    p.UserID,
		TableID:   p.TableID,
		Status:    reservations.Status(p.Status),
		UpdatedAt: env.OccurredAt,
	})
}

func (s *Service) reservationStatusChanged(ctx context.Context, env events.Envelope) error {
	p, err := events.Decode[events.StatusChangedPayload](env)
	if err != nil {
		return nil
	}
	key := fmt.Sprintf(redisx.KeyReservationStatus, p.ID)
	var v reservations.StatusView
	found, err := s.Cache.Get(ctx, key, &v)
	if err != nil || !found {
		return err
	}
	if stale(v.UpdatedAt, p.ChangedAt) {
		return nil
	}
	v.Status = reservations.Status(p.To)
	v.UpdatedAt = p.ChangedAt
	return s.Cache.Put(ctx, key, v)
}

func stale(cached, event time.Time) bool { return cached.After(event) }
