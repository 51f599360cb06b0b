// Package repository persists showtime seat maps and bookings in MySQL.
// Sentinel errors let handlers tell failure scenarios apart: ErrForbidden
// means the caller does not own the resource, ErrConflict means the
// current state forbids the change (for example cancelling a booking of
// a show that already started).
package repository

import (
	"errors"
	"sort"
	"strings"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state. Handlers should translate this into an HTTP
// 409 response.
var ErrConflict = errors.New("conflict")

// ErrShowNotFound is returned when a showtime has no seat map.
var ErrShowNotFound = errors.New("show not found")

// ErrBookingNotFound is returned when a booking does not exist.
var ErrBookingNotFound = errors.New("booking not found")

// SeatsTakenError reports seats that were already RESERVED when a
// booking tried to claim them.  Nothing was written.
type SeatsTakenError struct {
	Labels []string
}

func (e *SeatsTakenError) Error() string {
	return "seats already reserved: " + strings.Join(e.Labels, ", ")
}

// TakenSeats returns the reserved labels in sorted order.
func (e *SeatsTakenError) TakenSeats() []string {
	out := append([]string(nil), e.Labels...)
	sort.Strings(out)
	return out
}

// Is lets callers match the error against ErrConflict.
func (e *SeatsTakenError) Is(target error) bool { return target == ErrConflict }
