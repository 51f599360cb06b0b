// Package queue defines message payloads exchanged over the message broker
// and the consumer that applies them.
package queue

import (
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// Queue names.  Both are durable.
const (
	BookingConfirmedQueue = "booking.confirmed"
	BookingCancelledQueue = "booking.cancelled"
)

// BookingEvent is published when a booking is committed or cancelled.
// It carries enough for downstream consumers to log, notify or update a
// live seat map without querying the primary database.
type BookingEvent struct {
	BookingID        uint64   `json:"booking_id"`
	UserID           uint64   `json:"user_id"`
	ShowtimeID       uint64   `json:"showtime_id"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	OccurredAt       string   `json:"occurred_at"` // RFC3339, UTC
}

// NewBookingEvent builds the event payload for b at the given time.
func NewBookingEvent(b *model.Booking, at time.Time) BookingEvent {
	return BookingEvent{
		BookingID:        b.ID,
		UserID:           b.UserID,
		ShowtimeID:       b.ShowtimeID,
		SeatLabels:       append([]string(nil), b.SeatLabels...),
		TotalAmountCents: b.TotalAmountCents,
		OccurredAt:       at.UTC().Format(time.RFC3339),
	}
}
