// Package protocol defines the JSON messages exchanged on a showtime
// room channel.  Every frame is one Message; Type selects which of the
// optional fields are meaningful.
package protocol

import (
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// Client to server message types.
const (
	TypeJoinShowtime  = "join_showtime"
	TypeRequestLock   = "request_lock"
	TypeReleaseLock   = "release_lock"
	TypeLeaveShowtime = "leave_showtime"
	TypePing          = "ping"
)

// Server to client message types.
const (
	TypeInitialLocks = "initial_locks"
	TypeSeatLocked   = "seat_locked"
	TypeSeatReleased = "seat_released"
	TypeSeatBooked   = "seat_booked"
	TypeLockGranted  = "lock_granted"
	TypeLockFailed   = "lock_failed"
	TypePong         = "pong"
	TypeError        = "error"
)

// Message is a single room channel frame.
//
// initial_locks carries the full room state: SeatLabels lists seats
// locked by other sessions, HeldSeats the ones the receiving session
// still holds (non-empty only after a resync), BookedSeats the sold
// seats and Seats the seat map with prices.
type Message struct {
	Type       string `json:"type"`
	ShowtimeID uint64 `json:"showtime_id,omitempty"`
	SeatLabel  string `json:"seat_label,omitempty"`
	UserID     uint64 `json:"user_id,omitempty"`

	SessionID      string       `json:"session_id,omitempty"`
	SeatLabels     []string     `json:"seat_labels,omitempty"`
	HeldSeats      []string     `json:"held_seats,omitempty"`
	BookedSeats    []string     `json:"booked_seats,omitempty"`
	Seats          []model.Seat `json:"seats,omitempty"`
	LockTTLSeconds int          `json:"lock_ttl_seconds,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`  // machine readable failure code
	Message   string     `json:"message,omitempty"` // human readable text for lock_failed / error
}

// Join asks the server to add the connection to a showtime room.
func Join(showtimeID uint64) Message {
	return Message{Type: TypeJoinShowtime, ShowtimeID: showtimeID}
}

// RequestLock asks for a soft lock on one seat.
func RequestLock(showtimeID uint64, label string, userID uint64) Message {
	return Message{Type: TypeRequestLock, ShowtimeID: showtimeID, SeatLabel: label, UserID: userID}
}

// ReleaseLock gives up a held seat.
func ReleaseLock(showtimeID uint64, label string) Message {
	return Message{Type: TypeReleaseLock, ShowtimeID: showtimeID, SeatLabel: label}
}

// Leave removes the connection from the room.
func Leave(showtimeID uint64) Message {
	return Message{Type: TypeLeaveShowtime, ShowtimeID: showtimeID}
}

// Ping is the client heartbeat.
func Ping() Message { return Message{Type: TypePing} }

// LockFailed reports a rejected lock request for label.
func LockFailed(label, reason string) Message {
	return Message{Type: TypeLockFailed, SeatLabel: label, Reason: reason, Message: failureText(reason)}
}

// Error reports a failure that is not tied to one seat.
func Error(reason string) Message {
	return Message{Type: TypeError, Reason: reason, Message: failureText(reason)}
}

func failureText(reason string) string {
	switch reason {
	case "seat_unavailable":
		return "Seat is being selected by someone else"
	case "seat_already_booked":
		return "Seat is already booked"
	case "unknown_seat":
		return "Seat does not exist"
	case "session_lost":
		return "Session expired, rejoin the showtime"
	case "malformed":
		return "Malformed request"
	case "lock_expired":
		return "Seat lock expired"
	case "rate_limited":
		return "Too many seat requests, slow down"
	case "showtime_unavailable":
		return "Showtime cannot be joined"
	}
	return "Something went wrong"
}
