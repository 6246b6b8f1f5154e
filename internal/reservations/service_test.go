package reservations

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/events"
)

// memStore holds one lock for the whole InTx, which is the in-memory
// equivalent of the per-table row lock.
type memStore struct {
	mu     sync.Mutex
	tables map[string]bool
	rows   map[string]Reservation
}

func newMemStore(tables ...string) *memStore {
	m := &memStore{tables: map[string]bool{}, rows: map[string]Reservation{}}
	for _, t := range tables {
		m.tables[t] = true
	}
	return m
}

type memTx struct{ m *memStore }

func (t memTx) LockTable(_ context.Context, id string) (bool, error) {
	return t.m.tables[id], nil
}

func (t memTx) BookingsOnTable(_ context.Context, tableID string, _ Interval) ([]Booking, error) {
	var out []Booking
	for _, r := range t.m.rows {
		if r.TableID == tableID {
			out = append(out, Booking{ID: r.ID, Status: r.Status, Interval: r.Interval()})
		}
	}
	return out, nil
}

func (t memTx) InsertReservation(_ context.Context, r *Reservation) error {
	cp := *r
	cp.AuditLog = append([]AuditEntry(nil), r.AuditLog...)
	t.m.rows[r.ID] = cp
	return nil
}

func (m *memStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memTx{m: m})
}

func (m *memStore) GetReservation(_ context.Context, id string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "reservation not found")
	}
	r.AuditLog = append([]AuditEntry(nil), r.AuditLog...)
	return &r, nil
}

func (m *memStore) sorted(keep func(Reservation) bool) []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Reservation{}
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]Reservation, error) {
	return m.sorted(func(r Reservation) bool { return r.UserID == userID }), nil
}

func (m *memStore) ListAll(_ context.Context) ([]Reservation, error) {
	return m.sorted(func(Reservation) bool { return true }), nil
}

func (m *memStore) Transition(_ context.Context, id string, from, to Status, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if r.Status != from {
		return apperr.ErrInvalidTransition
	}
	r.Status = to
	r.AuditLog = append(append([]AuditEntry(nil), r.AuditLog...), e)
	m.rows[id] = r
	return nil
}

var (
	table1 = uuid.NewString()
	table2 = uuid.NewString()
	now    = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	owner  = auth.Actor{ID: "u1", Role: auth.RoleUser}
	admin  = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

func newService(st *memStore) (*Service, *events.Recorder) {
	rec := &events.Recorder{}
	return &Service{
		Store:    st,
		Events:   rec,
		Log:      zerolog.Nop(),
		Producer: "test",
		Now:      func() time.Time { return now },
	}, rec
}

func book(table string, start time.Time, d time.Duration) CreateInput {
	return CreateInput{TableID: table, UserID: owner.ID, Name: "Ann", Phone: "0700123", StartTime: start, EndTime: start.Add(d)}
}

func TestCreate(t *testing.T) {
	st := newMemStore(table1)
	svc, rec := newService(st)

	r, err := svc.Create(context.Background(), book(table1, now.Add(3*time.Hour), time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	require.Len(t, r.AuditLog, 1)
	assert.Equal(t, AuditEntry{Action: ActionCreated, By: owner.ID, Timestamp: now}, r.AuditLog[0])
	assert.Equal(t, 1, rec.Count(events.TypeReservationCreated))
}

func TestCreateFailures(t *testing.T) {
	start := now.Add(3 * time.Hour)
	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"end before start", CreateInput{TableID: table1, Name: "A", Phone: "12345", StartTime: start, EndTime: start.Add(-time.Minute)}, apperr.ErrInvalidInterval},
		{"empty interval", CreateInput{TableID: table1, Name: "A", Phone: "12345", StartTime: start, EndTime: start}, apperr.ErrInvalidInterval},
		{"unknown table", book(uuid.NewString(), start, time.Hour), apperr.ErrNotFound},
		{"unknown table before bad interval", book(uuid.NewString(), start, -time.Hour), apperr.ErrNotFound},
		{"bad table id", book("t-1", start, time.Hour), apperr.ErrValidation},
		{"missing name", CreateInput{TableID: table1, Phone: "12345", StartTime: start, EndTime: start.Add(time.Hour)}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(newMemStore(table1))
			_, err := svc.Create(context.Background(), tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCreateConflicts(t *testing.T) {
	ten := now.Add(2 * time.Hour)
	ctx := context.Background()

	t.Run("touching slots both succeed", func(t *testing.T) {
		svc, _ := newService(newMemStore(table1))
		_, err := svc.Create(ctx, book(table1, ten, time.Hour))
		require.NoError(t, err)
		_, err = svc.Create(ctx, book(table1, ten.Add(time.Hour), time.Hour))
		assert.NoError(t, err)
	})

	t.Run("overlap is rejected", func(t *testing.T) {
		svc, _ := newService(newMemStore(table1))
		_, err := svc.Create(ctx, book(table1, ten, time.Hour))
		require.NoError(t, err)
		_, err = svc.Create(ctx, book(table1, ten.Add(30*time.Minute), time.Hour))
		assert.True(t, errors.Is(err, apperr.ErrSlotUnavailable))
	})

	t.Run("other table is independent", func(t *testing.T) {
		svc, _ := newService(newMemStore(table1, table2))
		_, err := svc.Create(ctx, book(table1, ten, time.Hour))
		require.NoError(t, err)
		_, err = svc.Create(ctx, book(table2, ten, time.Hour))
		assert.NoError(t, err)
	})

	t.Run("cancelled booking frees the slot", func(t *testing.T) {
		svc, _ := newService(newMemStore(table1))
		r, err := svc.Create(ctx, book(table1, now.Add(5*time.Hour), time.Hour))
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, r.ID, owner)
		require.NoError(t, err)
		_, err = svc.Create(ctx, book(table1, now.Add(5*time.Hour), time.Hour))
		assert.NoError(t, err)
	})
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	svc, _ := newService(newMemStore(table1))
	start := now.Add(4 * time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), book(table1, start, time.Hour))
		}(i)
	}
	wg.Wait()

	var ok, taken int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrSlotUnavailable):
			taken++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, taken)
}

func TestCancelGracePeriod(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		startIn time.Duration
		actor   auth.Actor
		want    error
	}{
		{"owner three hours ahead", 3 * time.Hour, owner, nil},
		{"owner exactly at cutoff", 2 * time.Hour, owner, nil},
		{"owner one hour ahead", time.Hour, owner, apperr.ErrGracePeriodExpired},
		{"owner after start", -time.Hour, owner, apperr.ErrGracePeriodExpired},
		{"admin one hour ahead", time.Hour, admin, nil},
		{"stranger", 3 * time.Hour, auth.Actor{ID: "u2"}, apperr.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore(table1)
			svc, _ := newService(st)
			// create the booking before the clock reaches it
			svc.Now = func() time.Time { return now.Add(-24 * time.Hour) }
			r, err := svc.Create(ctx, book(table1, now.Add(tt.startIn), time.Hour))
			require.NoError(t, err)
			svc.Now = func() time.Time { return now }

			got, err := svc.Cancel(ctx, r.ID, tt.actor)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
				stored, _ := st.GetReservation(ctx, r.ID)
				assert.Equal(t, StatusPending, stored.Status)
				assert.Len(t, stored.AuditLog, 1)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, got.Status)
			require.Len(t, got.AuditLog, 2)
			assert.Equal(t, AuditEntry{Action: ActionCancelled, By: tt.actor.ID, Timestamp: now}, got.AuditLog[1])
		})
	}
}

func TestCancelTransitionRules(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(table1)
	svc, _ := newService(st)
	r, err := svc.Create(ctx, book(table1, now.Add(5*time.Hour), time.Hour))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, r.ID, owner)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, r.ID, owner)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "already cancelled")

	done, err := svc.Create(ctx, book(table1, now.Add(8*time.Hour), time.Hour))
	require.NoError(t, err)
	for _, s := range []Status{StatusConfirmed, StatusReserved, StatusSeated, StatusCompleted} {
		_, err = svc.UpdateStatus(ctx, done.ID, s, admin)
		require.NoError(t, err)
	}
	_, err = svc.Cancel(ctx, done.ID, admin)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	_, err = svc.Cancel(ctx, uuid.NewString(), admin)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = svc.Cancel(ctx, "nope", admin)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(table1)
	svc, rec := newService(st)
	r, err := svc.Create(ctx, book(table1, now.Add(5*time.Hour), time.Hour))
	require.NoError(t, err)

	got, err := svc.UpdateStatus(ctx, r.ID, StatusConfirmed, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "status:confirmed", got.AuditLog[len(got.AuditLog)-1].Action)

	_, err = svc.UpdateStatus(ctx, r.ID, StatusSeated, admin)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, err = svc.UpdateStatus(ctx, r.ID, StatusConfirmed, admin)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, err = svc.UpdateStatus(ctx, r.ID, "lost", admin)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = svc.UpdateStatus(ctx, r.ID, StatusReserved, owner)
	assert.True(t, errors.Is(err, apperr.ErrNotAuthorized))

	stored, _ := st.GetReservation(ctx, r.ID)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Len(t, stored.AuditLog, 2)
	assert.Equal(t, 1, rec.Count(events.TypeReservationStatusChanged))
}

func TestListsOrderedByStart(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(newMemStore(table1))
	late, err := svc.Create(ctx, book(table1, now.Add(9*time.Hour), time.Hour))
	require.NoError(t, err)
	early, err := svc.Create(ctx, book(table1, now.Add(3*time.Hour), time.Hour))
	require.NoError(t, err)
	other := book(table1, now.Add(5*time.Hour), time.Hour)
	other.UserID = "u2"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	mine, err := svc.ListMine(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, early.ID, mine[0].ID)
	assert.Equal(t, late.ID, mine[1].ID)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
