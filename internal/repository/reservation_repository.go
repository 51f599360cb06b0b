package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// ReservationStatusConfirmed is the reservations.status of a committed
// booking.
const ReservationStatusConfirmed = "CONFIRMED"

// ReservationRepo stores bookings as reservations and their seats.
// Seats booked under a reservation live in reservation_seats; the
// matching show_seats rows are flipped to RESERVED in the same
// transaction.  All timestamps are UTC.
type ReservationRepo struct {
	db        *sql.DB
	showSeats *ShowSeatRepo
	now       func() time.Time
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo {
	return &ReservationRepo{
		db:        db,
		showSeats: NewShowSeatRepo(db),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReservationRecord mirrors the schema of the reservations table.
type ReservationRecord struct {
	ID               uint64
	UserID           uint64
	ShowID           uint64
	Status           string
	TotalAmountCents uint32
}

// ReservationSeatRecord mirrors the reservation_seats table.
type ReservationSeatRecord struct {
	ReservationID uint64
	ShowID        uint64
	SeatID        uint64
	PriceCents    uint32
}

// SaveBooking persists b in one transaction: the show's seat rows are
// locked, every requested seat must still be unreserved, then the
// reservation and its seats are inserted and the seats marked RESERVED.
// A *SeatsTakenError names seats another writer reserved first.  On
// success b.ID is set.
func (r *ReservationRepo) SaveBooking(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	locked, err := r.showSeats.LockByShowTx(ctx, tx, b.ShowtimeID)
	if err != nil {
		return err
	}
	seatIDs := make([]uint64, 0, len(b.SeatLabels))
	seats := make([]ReservationSeatRecord, 0, len(b.SeatLabels))
	var taken []string
	for _, label := range b.SeatLabels {
		s, ok := locked[label]
		if !ok {
			return fmt.Errorf("seat %s is not part of show %d", label, b.ShowtimeID)
		}
		if s.Status == ShowSeatReserved {
			taken = append(taken, label)
			continue
		}
		seatIDs = append(seatIDs, s.SeatID)
		seats = append(seats, ReservationSeatRecord{ShowID: b.ShowtimeID, SeatID: s.SeatID, PriceCents: s.PriceCents})
	}
	if len(taken) > 0 {
		return &SeatsTakenError{Labels: taken}
	}

	res := &ReservationRecord{
		UserID:           b.UserID,
		ShowID:           b.ShowtimeID,
		Status:           ReservationStatusConfirmed,
		TotalAmountCents: b.TotalAmountCents,
	}
	if err := r.CreateTx(ctx, tx, res); err != nil {
		return err
	}
	for i := range seats {
		seats[i].ReservationID = res.ID
	}
	if err := r.CreateSeatsBulkTx(ctx, tx, seats); err != nil {
		return err
	}
	if err := r.showSeats.BulkUpdateStatusTx(ctx, tx, b.ShowtimeID, seatIDs, ShowSeatReserved); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	b.ID = res.ID
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	return nil
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction and populates the generated ID.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *ReservationRecord) error {
	const q = `INSERT INTO reservations (user_id, show_id, status, total_amount_cents) VALUES (?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.UserID, res.ShowID, res.Status, res.TotalAmountCents)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// CreateSeatsBulkTx inserts multiple reservation_seats rows in a single
// statement.  Passing an empty slice has no effect.
func (r *ReservationRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []ReservationSeatRecord) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO reservation_seats (reservation_id, show_id, seat_id, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, s.ReservationID, s.ShowID, s.SeatID, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ListByUser returns the confirmed bookings of a user, newest first.
// When none exist an empty slice is returned.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	const q = `SELECT id, show_id, user_id, total_amount_cents, created_at
               FROM reservations
               WHERE user_id = ? AND status = 'CONFIRMED'
               ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bookings := make([]model.Booking, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.ShowtimeID, &b.UserID, &b.TotalAmountCents, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.SeatLabels = []string{}
		index[b.ID] = len(bookings)
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return bookings, nil
	}

	// seats of every booking in one query
	ids := make([]interface{}, 0, len(bookings))
	placeholders := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
		placeholders = append(placeholders, "?")
	}
	seatQuery := `SELECT rs.reservation_id, se.row_label, se.seat_number
                  FROM reservation_seats rs
                  JOIN seats se ON se.id = rs.seat_id
                  WHERE rs.reservation_id IN (` + strings.Join(placeholders, ",") + `)
                  ORDER BY rs.reservation_id, se.row_label, se.seat_number`
	srows, err := r.db.QueryContext(ctx, seatQuery, ids...)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var resID uint64
		var row string
		var number uint32
		if err := srows.Scan(&resID, &row, &number); err != nil {
			return nil, err
		}
		if idx, ok := index[resID]; ok {
			bookings[idx].SeatLabels = append(bookings[idx].SeatLabels, SeatLabel(row, number))
		}
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// CancelForUser deletes a booking owned by userID and returns its seats
// to FREE.  It returns ErrBookingNotFound when the booking does not
// exist, ErrForbidden when another user owns it and ErrConflict when the
// show has already started.  The cancelled booking is returned so the
// caller can release the seats in the live room.
func (r *ReservationRepo) CancelForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `SELECT r.show_id, r.user_id, r.total_amount_cents, r.created_at, s.starts_at
               FROM reservations r
               JOIN shows s ON s.id = r.show_id
               WHERE r.id = ?
               FOR UPDATE`
	b := &model.Booking{ID: bookingID}
	var startsAt time.Time
	err = tx.QueryRowContext(ctx, q, bookingID).Scan(&b.ShowtimeID, &b.UserID, &b.TotalAmountCents, &b.CreatedAt, &startsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	if !startsAt.After(r.now()) {
		return nil, ErrConflict
	}

	const seatQ = `SELECT rs.seat_id, se.row_label, se.seat_number
                   FROM reservation_seats rs
                   JOIN seats se ON se.id = rs.seat_id
                   WHERE rs.reservation_id = ?
                   ORDER BY se.row_label, se.seat_number`
	rows, err := tx.QueryContext(ctx, seatQ, bookingID)
	if err != nil {
		return nil, err
	}
	var seatIDs []uint64
	b.SeatLabels = []string{}
	for rows.Next() {
		var id uint64
		var row string
		var number uint32
		if err := rows.Scan(&id, &row, &number); err != nil {
			rows.Close()
			return nil, err
		}
		seatIDs = append(seatIDs, id)
		b.SeatLabels = append(b.SeatLabels, SeatLabel(row, number))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// reservation_seats rows go with the reservation (ON DELETE CASCADE)
	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, bookingID); err != nil {
		return nil, err
	}
	if err := r.showSeats.BulkUpdateStatusTx(ctx, tx, b.ShowtimeID, seatIDs, ShowSeatFree); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return b, nil
}
