package repository

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// show_seats.status values.  HELD is a legacy database-side hold and is
// treated as available; soft locks live in the coordinator only.
const (
	ShowSeatFree     = "FREE"
	ShowSeatHeld     = "HELD"
	ShowSeatReserved = "RESERVED"
)

// SeatRepo loads the seat map of a showtime.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo given a DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// SeatLabel builds the label of a seat from its row and number.
func SeatLabel(row string, number uint32) string {
	return row + strconv.FormatUint(uint64(number), 10)
}

// Seats returns every active seat of the show with its price and its
// committed status.  BOOKED seats carry the id and owner of the
// confirmed reservation holding them.  ErrShowNotFound is returned when
// the show has no seats.
func (r *SeatRepo) Seats(ctx context.Context, showID uint64) ([]model.Seat, error) {
	const q = `SELECT se.row_label, se.seat_number, se.seat_type, ss.price_cents, ss.status,
                      COALESCE(res.id, 0), COALESCE(res.user_id, 0)
               FROM show_seats ss
               JOIN seats se ON se.id = ss.seat_id
               LEFT JOIN reservation_seats rs ON rs.show_id = ss.show_id AND rs.seat_id = ss.seat_id
               LEFT JOIN reservations res ON res.id = rs.reservation_id AND res.status = 'CONFIRMED'
               WHERE ss.show_id = ? AND se.is_active = 1
               ORDER BY se.row_label, se.seat_number`
	rows, err := r.db.QueryContext(ctx, q, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := make([]model.Seat, 0)
	seen := make(map[string]int)
	for rows.Next() {
		var s model.Seat
		var status string
		var bookingID, userID uint64
		if err := rows.Scan(&s.Row, &s.Number, &s.Type, &s.PriceCents, &status, &bookingID, &userID); err != nil {
			return nil, err
		}
		s.Label = SeatLabel(s.Row, s.Number)
		s.Status = model.SeatAvailable
		if status == ShowSeatReserved {
			s.Status = model.SeatBooked
			s.BookingID = bookingID
			s.BookedBy = userID
		}
		// a seat released by a cancelled reservation may still join an
		// old reservation_seats row; the confirmed one wins
		if i, dup := seen[s.Label]; dup {
			if s.BookingID != 0 {
				seats[i] = s
			}
			continue
		}
		seen[s.Label] = len(seats)
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, ErrShowNotFound
	}
	return seats, nil
}
