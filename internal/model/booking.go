package model

import "time"

// Booking is the durable result of a successful commit.  It covers one
// or more seats of a single showtime and never changes after creation;
// cancelling it is a separate operation that also frees the seats.
//
// Fields:
//
//	ID               – reservations.id, assigned by the booking store.
//	ShowtimeID       – showtime (shows.id) the seats belong to.
//	UserID           – user that owns the booking.
//	SeatLabels       – labels of the booked seats.
//	TotalAmountCents – sum of the seat prices at commit time.
//	CreatedAt        – commit timestamp (UTC).
type Booking struct {
	ID               uint64    `json:"id"`
	ShowtimeID       uint64    `json:"showtime_id"`
	UserID           uint64    `json:"user_id"`
	SeatLabels       []string  `json:"seat_labels"`
	TotalAmountCents uint32    `json:"total_amount_cents"`
	CreatedAt        time.Time `json:"created_at"`
}
