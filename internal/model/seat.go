package model

import "time"

// Seat status values.  A seat only ever leaves AVAILABLE through a
// successful booking commit and only returns to it through a
// cancellation of that booking.
const (
	SeatAvailable = "AVAILABLE"
	SeatBooked    = "BOOKED"
)

// Seat type values, mirroring seats.seat_type.
const (
	SeatTypeStandard   = "STANDARD"
	SeatTypeVIP        = "VIP"
	SeatTypeAccessible = "ACCESSIBLE"
)

// Seat is one seat of a showtime's seat map as held by the seat
// registry.  The label is unique within a showtime and is built from
// the row label and the seat number (row "A", number 5 -> "A5").
//
// Fields:
//
//	Label      – unique label within the showtime.
//	Row        – row label (seats.row_label).
//	Number     – seat number within the row (seats.seat_number).
//	Type       – STANDARD, VIP or ACCESSIBLE.
//	PriceCents – price for this showtime (show_seats.price_cents).
//	Status     – AVAILABLE or BOOKED.
//	BookingID  – booking holding the seat when BOOKED (0 otherwise).
//	BookedBy   – user who owns that booking (0 when unknown).
type Seat struct {
	Label      string `json:"label"`
	Row        string `json:"row"`
	Number     uint32 `json:"number"`
	Type       string `json:"type"`
	PriceCents uint32 `json:"price_cents"`
	Status     string `json:"status"`
	BookingID  uint64 `json:"-"`
	BookedBy   uint64 `json:"-"`
}

// Booked reports whether the seat has been sold.
func (s Seat) Booked() bool { return s.Status == SeatBooked }

// Lock is a soft, time-bounded claim on a single seat held by one
// session.  Locks live only in memory inside a showtime room.
type Lock struct {
	SeatLabel       string    `json:"seat_label"`
	HolderSessionID string    `json:"holder_session_id"`
	HolderUserID    uint64    `json:"holder_user_id"`
	AcquiredAt      time.Time `json:"acquired_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the lock has passed its deadline at now.  A
// lock whose deadline equals now is already expired.
func (l Lock) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }
