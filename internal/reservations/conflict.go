package reservations

import (
	"context"
	"time"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
)

// GracePeriod is how long before the start a non-admin may still cancel.
const GracePeriod = 2 * time.Hour

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, apperr.ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether the two ranges share any instant. Touching
// endpoints do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && iv.End.After(o.Start)
}

// Booking is the slice of a reservation the checker needs.
type Booking struct {
	ID       string
	Status   Status
	Interval Interval
}

type BookingSource interface {
	// BookingsOnTable returns reservations on the table that may touch window.
	// Extra rows are fine; the checker filters them.
	BookingsOnTable(ctx context.Context, tableID string, window Interval) ([]Booking, error)
}

type Checker struct {
	Source BookingSource
}

// HasConflict reports whether iv overlaps a blocking reservation on the
// table, ignoring excludeID.
func (c Checker) HasConflict(ctx context.Context, tableID string, iv Interval, excludeID string) (bool, error) {
	if !iv.End.After(iv.Start) {
		return false, apperr.ErrInvalidInterval
	}
	bookings, err := c.Source.BookingsOnTable(ctx, tableID, iv)
	if err != nil {
		return false, err
	}
	for _, b := range bookings {
		if b.ID == excludeID && excludeID != "" {
			continue
		}
		if b.Status.Blocking() && b.Interval.Overlaps(iv) {
			return true, nil
		}
	}
	return false, nil
}
