package seatlock

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors.  Every failure is scoped to one seat, one session or
// one commit attempt; callers compare with errors.Is.
var (
	// ErrSeatUnavailable means another session holds the seat.  The
	// caller should pick another seat.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrSeatAlreadyBooked means the seat has been sold.
	ErrSeatAlreadyBooked = errors.New("seat already booked")
	// ErrLockExpired means the caller no longer holds a lock it relied
	// on.  The seat may be requested again.
	ErrLockExpired = errors.New("lock expired")
	// ErrPartialConflict means at least one seat of a commit failed
	// validation and the whole commit was rejected.
	ErrPartialConflict = errors.New("partial conflict")
	// ErrAlreadyBookedByYou means the seats were already committed by
	// the same user.
	ErrAlreadyBookedByYou = errors.New("already booked by you")
	// ErrSessionLost means the session is no longer part of the room.
	// The client must rejoin and resync from a fresh snapshot.
	ErrSessionLost = errors.New("session lost")
	// ErrUnknownSeat means the label is not part of the seat map.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrMalformed flags invalid input such as an empty session id.
	ErrMalformed = errors.New("malformed request")
)

// SeatError ties a failure to the seat it concerns.
type SeatError struct {
	Label string
	Err   error
}

func (e *SeatError) Error() string { return fmt.Sprintf("seat %s: %v", e.Label, e.Err) }

func (e *SeatError) Unwrap() error { return e.Err }

func seatErr(label string, err error) error { return &SeatError{Label: label, Err: err} }

// SeatConflict is one failed seat of a rejected commit.
type SeatConflict struct {
	Label  string `json:"seat_label"`
	Reason string `json:"reason"`
	err    error
}

// Err returns the sentinel behind the conflict.
func (c SeatConflict) Err() error { return c.err }

// ConflictError is returned by Commit when one or more seats could not
// be committed.  No seat of the group was booked.
type ConflictError struct {
	Seats []SeatConflict
}

func (e *ConflictError) Error() string {
	labels := make([]string, 0, len(e.Seats))
	for _, s := range e.Seats {
		labels = append(labels, s.Label+"("+s.Reason+")")
	}
	return "partial conflict: " + strings.Join(labels, ", ")
}

// Is matches ErrPartialConflict and the sentinel of any failed seat, so
// errors.Is(err, ErrSeatAlreadyBooked) tells whether any seat was sold.
func (e *ConflictError) Is(target error) bool {
	if target == ErrPartialConflict {
		return true
	}
	for _, s := range e.Seats {
		if s.err == target {
			return true
		}
	}
	return false
}

// Labels returns the failed seat labels in sorted order.
func (e *ConflictError) Labels() []string {
	out := make([]string, 0, len(e.Seats))
	for _, s := range e.Seats {
		out = append(out, s.Label)
	}
	sort.Strings(out)
	return out
}

func newConflict(failed map[string]error) *ConflictError {
	ce := &ConflictError{Seats: make([]SeatConflict, 0, len(failed))}
	for label, err := range failed {
		ce.Seats = append(ce.Seats, SeatConflict{Label: label, Reason: Reason(err), err: err})
	}
	sort.Slice(ce.Seats, func(i, j int) bool { return ce.Seats[i].Label < ce.Seats[j].Label })
	return ce
}

// AlreadyBookedError is returned when a commit repeats a booking the
// same user already owns.  It carries the existing booking id.
type AlreadyBookedError struct {
	BookingID uint64
}

func (e *AlreadyBookedError) Error() string {
	return fmt.Sprintf("already booked by you (booking %d)", e.BookingID)
}

func (e *AlreadyBookedError) Unwrap() error { return ErrAlreadyBookedByYou }

// Reason maps an error to the short machine readable code used on the
// wire (lock_failed.reason, commit conflict reasons).
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyBookedByYou):
		return "already_booked_by_you"
	case errors.Is(err, ErrSeatAlreadyBooked):
		return "seat_already_booked"
	case errors.Is(err, ErrSeatUnavailable):
		return "seat_unavailable"
	case errors.Is(err, ErrLockExpired):
		return "lock_expired"
	case errors.Is(err, ErrUnknownSeat):
		return "unknown_seat"
	case errors.Is(err, ErrSessionLost):
		return "session_lost"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrPartialConflict):
		return "partial_conflict"
	}
	return "internal"
}
