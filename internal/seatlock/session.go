package seatlock

import (
	"sort"
	"time"
)

// EventKind names a room broadcast.
type EventKind string

const (
	// EventSeatLocked tells other sessions a seat was soft-locked.
	EventSeatLocked EventKind = "seat_locked"
	// EventSeatReleased tells every session a seat is selectable again,
	// whether released, expired, dropped with its session or cancelled.
	EventSeatReleased EventKind = "seat_released"
	// EventSeatBooked tells every session a seat is permanently gone.
	EventSeatBooked EventKind = "seat_booked"
	// EventLockGranted confirms a lock to the session that asked for it.
	EventLockGranted EventKind = "lock_granted"
)

// Event is one state change delivered to a session.  Events for a
// session arrive in the order the room applied the changes.
type Event struct {
	Kind       EventKind
	ShowtimeID uint64
	SeatLabel  string
	ExpiresAt  time.Time // set on EventLockGranted
}

// Session is one client's membership in a showtime room.  It is created
// by Coordinator.Join and stays valid until Leave, a heartbeat timeout
// or an outbox overflow removes it; at that point Events is closed.
type Session struct {
	ID         string
	UserID     uint64
	ShowtimeID uint64

	room   *room
	events chan Event

	// guarded by room.mu
	held     map[string]struct{}
	lastSeen time.Time
	closed   bool
	err      error
}

// Events streams room broadcasts addressed to this session.
func (s *Session) Events() <-chan Event { return s.events }

// Held returns the labels this session currently holds locks on.  The
// set is maintained by the coordinator and always mirrors the lock
// table.
func (s *Session) Held() []string {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	out := make([]string, 0, len(s.held))
	for label := range s.held {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Err reports why the event stream was closed: nil after an explicit
// Leave, ErrSessionLost after a timeout or overflow eviction.
func (s *Session) Err() error {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	return s.err
}

// send enqueues without blocking.  It returns false when the outbox is
// full and the session has to be evicted.
func (s *Session) send(ev Event) bool {
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
