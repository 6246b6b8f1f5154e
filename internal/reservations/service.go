package reservations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
)

type Tx interface {
	BookingSource
	// LockTable serializes bookings on one table for the rest of the
	// transaction. It returns false when the table does not exist.
	LockTable(ctx context.Context, tableID string) (bool, error)
	// InsertReservation returns apperr.ErrSlotUnavailable if storage rejects
	// an overlapping blocking reservation.
	InsertReservation(ctx context.Context, r *Reservation) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]Reservation, error)
	ListAll(ctx context.Context) ([]Reservation, error)
	// Transition sets the status and appends e in one step. A stored status
	// other than from gives apperr.ErrInvalidTransition.
	Transition(ctx context.Context, id string, from, to Status, e AuditEntry) error
}

type StatusCache interface {
	Put(ctx context.Context, key string, v any) error
}

type Service struct {
	Store    Store
	Events   events.Publisher
	Cache    StatusCache
	Log      zerolog.Logger
	Producer string
	Now      func() time.Time
}

type CreateInput struct {
	TableID   string
	UserID    string
	Name      string
	Phone     string
	Notes     string
	StartTime time.Time
	EndTime   time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Reservation, error) {
	fields := map[string]string{}
	if _, err := uuid.Parse(in.TableID); err != nil {
		fields["table_id"] = "must be a valid id"
	}
	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "is required"
	}
	if strings.TrimSpace(in.Phone) == "" {
		fields["phone"] = "is required"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	now := s.now()
	var res *Reservation
	err := s.Store.InTx(ctx, func(tx Tx) error {
		ok, err := tx.LockTable(ctx, in.TableID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.CodeNotFound, "table not found")
		}
		// an unknown table is reported before a bad time range
		iv, err := NewInterval(in.StartTime.UTC(), in.EndTime.UTC())
		if err != nil {
			return err
		}
		conflict, err := Checker{Source: tx}.HasConflict(ctx, in.TableID, iv, "")
		if err != nil {
			return err
		}
		if conflict {
			return apperr.ErrSlotUnavailable
		}

		res = &Reservation{
			ID:        uuid.NewString(),
			TableID:   in.TableID,
			UserID:    in.UserID,
			Name:      in.Name,
			Phone:     in.Phone,
			Notes:     in.Notes,
			StartTime: iv.Start,
			EndTime:   iv.End,
			Status:    StatusPending,
			AuditLog:  []AuditEntry{{Action: ActionCreated, By: in.UserID, Timestamp: now}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertReservation(ctx, res)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().Str("reservation_id", res.ID).Str("table_id", res.TableID).Time("start", res.StartTime).Msg("reservation created")
	s.publish(ctx, events.TopicReservationCreated, events.TypeReservationCreated, res.ID, events.ReservationCreatedPayload{
		ReservationID: res.ID,
		TableID:       res.TableID,
		UserID:        res.UserID,
		StartTime:     res.StartTime,
		EndTime:       res.EndTime,
		Status:        string(res.Status),
	})
	s.cacheStatus(ctx, res)
	return res, nil
}

// Cancel applies the user-facing cancellation rules: owners only, and not
// within GracePeriod of the start. Admins skip both checks.
func (s *Service) Cancel(ctx context.Context, id string, actor auth.Actor) (*Reservation, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusCancelled {
		return nil, apperr.New(apperr.CodeInvalidTransition, "reservation already cancelled")
	}
	now := s.now()
	if !actor.IsAdmin() {
		if r.UserID != actor.ID {
			return nil, apperr.New(apperr.CodeNotAuthorized, "not authorized to cancel this reservation")
		}
		if now.After(r.StartTime.Add(-GracePeriod)) {
			return nil, apperr.New(apperr.CodeGracePeriodExpired, "cannot cancel less than %d hours before the start", int(GracePeriod.Hours()))
		}
	}
	return s.transition(ctx, r, StatusCancelled, AuditEntry{Action: ActionCancelled, By: actor.ID, Timestamp: now})
}

func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor auth.Actor) (*Reservation, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.CodeNotAuthorized, "admin access required")
	}
	if !to.Valid() {
		return nil, apperr.Validation(map[string]string{"status": "unknown reservation status"})
	}
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, r, to, AuditEntry{Action: StatusAction(to), By: actor.ID, Timestamp: s.now()})
}

func (s *Service) ListMine(ctx context.Context, userID string) ([]Reservation, error) {
	return s.Store.ListByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]Reservation, error) {
	return s.Store.ListAll(ctx)
}

func (s *Service) get(ctx context.Context, id string) (*Reservation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation(map[string]string{"id": "invalid reservation id"})
	}
	return s.Store.GetReservation(ctx, id)
}

func (s *Service) transition(ctx context.Context, r *Reservation, to Status, e AuditEntry) (*Reservation, error) {
	from := r.Status
	if !CanTransition(from, to) {
		return nil, apperr.New(apperr.CodeInvalidTransition, "cannot change status from %s to %s", from, to)
	}
	if err := s.Store.Transition(ctx, r.ID, from, to, e); err != nil {
		return nil, err
	}
	r.Status = to
	r.AuditLog = append(r.AuditLog, e)
	r.UpdatedAt = e.Timestamp

	s.Log.Info().Str("reservation_id", r.ID).Str("from", string(from)).Str("to", string(to)).Str("by", e.By).Msg("reservation status changed")
	s.publish(ctx, events.TopicReservationStatusChanged, events.TypeReservationStatusChanged, r.ID, events.StatusChangedPayload{
		ID:        r.ID,
		OwnerID:   r.UserID,
		From:      string(from),
		To:        string(to),
		ChangedBy: e.By,
		ChangedAt: e.Timestamp,
	})
	s.cacheStatus(ctx, r)
	return r, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, id string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := events.New(ctx, eventType, s.Producer, id, payload)
	if err == nil {
		err = s.Events.Publish(ctx, topic, env)
	}
	if err != nil {
		s.Log.Error().Err(err).Str("event_type", eventType).Str("id", id).Msg("publish failed")
	}
}

func (s *Service) cacheStatus(ctx context.Context, r *Reservation) {
	if s.Cache == nil {
		return
	}
	v := StatusView{ID: r.ID, UserID: r.UserID, TableID: r.TableID, Status: r.Status, UpdatedAt: r.UpdatedAt}
	if err := s.Cache.Put(ctx, fmt.Sprintf(redisx.KeyReservationStatus, r.ID), v); err != nil {
		s.Log.Warn().Err(err).Str("reservation_id", r.ID).Msg("status cache write failed")
	}
}
