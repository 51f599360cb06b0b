package seatlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// BookingStore persists committed bookings.  SaveBooking must be
// atomic across all seats and assign b.ID.  When some seats were sold
// behind the coordinator's back the store returns an error exposing
// TakenSeats() []string.
type BookingStore interface {
	SaveBooking(ctx context.Context, b *model.Booking) error
}

type takenSeats interface {
	TakenSeats() []string
}

// Finalizer converts a session's held locks into one booking.
type Finalizer struct {
	coord *Coordinator
	store BookingStore
}

// NewFinalizer returns a Finalizer committing through store.
func NewFinalizer(coord *Coordinator, store BookingStore) *Finalizer {
	return &Finalizer{coord: coord, store: store}
}

// Commit books every seat in labels for the session, or none of them.
//
// Each seat must be available and locked by the session.  Validation,
// persistence and the status flip all happen inside the room mutex, so
// a lock cannot expire between the check and the write.  On failure the
// returned *ConflictError lists every seat that could not be booked;
// seats that passed validation stay locked by the session.
func (f *Finalizer) Commit(ctx context.Context, showtimeID uint64, sessionID string, labels []string) (*model.Booking, error) {
	labels = uniqueLabels(labels)
	if len(labels) == 0 || sessionID == "" {
		return nil, ErrMalformed
	}
	c := f.coord
	r, s, err := c.enter(showtimeID, sessionID)
	if err != nil {
		return nil, err
	}
	defer c.exit(r)
	now := c.now()
	r.expireLocked(now)
	if s.closed {
		return nil, ErrSessionLost
	}
	s.lastSeen = now

	if bookingID, ok := r.bookedByUser(labels, s.UserID); ok {
		return nil, &AlreadyBookedError{BookingID: bookingID}
	}

	failed := make(map[string]error)
	var total uint32
	for _, label := range labels {
		seat, ok := r.seats.get(label)
		if !ok {
			failed[label] = ErrUnknownSeat
			continue
		}
		if seat.Booked() {
			failed[label] = ErrSeatAlreadyBooked
			continue
		}
		l, held := r.locks.get(label)
		switch {
		case !held:
			failed[label] = ErrLockExpired
		case l.HolderSessionID != sessionID:
			failed[label] = ErrSeatUnavailable
		default:
			total += seat.PriceCents
		}
	}
	if len(failed) > 0 {
		return nil, newConflict(failed)
	}

	b := &model.Booking{
		ShowtimeID:       showtimeID,
		UserID:           s.UserID,
		SeatLabels:       labels,
		TotalAmountCents: total,
		CreatedAt:        now,
	}
	if err := f.store.SaveBooking(ctx, b); err != nil {
		var taken takenSeats
		if errors.As(err, &taken) {
			if ce := r.absorbTakenLocked(labels, taken.TakenSeats()); ce != nil {
				return nil, ce
			}
		}
		return nil, fmt.Errorf("save booking: %w", err)
	}

	for _, label := range labels {
		r.locks.remove(label)
		delete(s.held, label)
		r.seats.markBooked(label, b.ID, s.UserID)
	}
	for _, label := range labels {
		r.broadcastLocked(Event{Kind: EventSeatBooked, SeatLabel: label}, "")
	}
	c.opts.Logger.Infoj(log.JSON{
		"event":       "booking_committed",
		"showtime_id": showtimeID,
		"session_id":  sessionID,
		"user_id":     s.UserID,
		"booking_id":  b.ID,
		"seats":       labels,
		"total_cents": total,
	})
	return b, nil
}

// absorbTakenLocked records seats the store reports as already sold and
// builds the conflict naming them.  It returns nil when none of the
// taken seats belong to the commit.
func (r *room) absorbTakenLocked(labels, taken []string) *ConflictError {
	want := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		want[label] = struct{}{}
	}
	failed := make(map[string]error)
	for _, label := range taken {
		if _, ok := want[label]; !ok {
			continue
		}
		r.bookLocked(label, 0, 0)
		failed[label] = ErrSeatAlreadyBooked
	}
	if len(failed) == 0 {
		return nil
	}
	return newConflict(failed)
}

func uniqueLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}
