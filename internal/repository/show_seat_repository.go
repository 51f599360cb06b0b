package repository // repository for show seat persistence

import (
	"context"
	"database/sql"
	"strings"
)

// ShowSeat is one row of show_seats joined with its seat, as read while
// the rows are locked for a booking.
type ShowSeat struct {
	SeatID     uint64 // seats.id
	Label      string // row label + seat number
	Status     string // FREE, HELD or RESERVED
	PriceCents uint32 // price for this show
}

// ShowSeatRepo encapsulates database operations for show_seats.
type ShowSeatRepo struct {
	db *sql.DB
}

// NewShowSeatRepo constructs a ShowSeatRepo given a DB handle.
func NewShowSeatRepo(db *sql.DB) *ShowSeatRepo {
	return &ShowSeatRepo{db: db}
}

// LockByShowTx reads every seat of the show with SELECT ... FOR UPDATE
// and returns them keyed by label.  The rows stay locked until tx ends.
func (r *ShowSeatRepo) LockByShowTx(ctx context.Context, tx *sql.Tx, showID uint64) (map[string]ShowSeat, error) {
	const q = `SELECT ss.seat_id, se.row_label, se.seat_number, ss.status, ss.price_cents
               FROM show_seats ss
               JOIN seats se ON se.id = ss.seat_id
               WHERE ss.show_id = ?
               FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]ShowSeat)
	for rows.Next() {
		var s ShowSeat
		var row string
		var number uint32
		if err := rows.Scan(&s.SeatID, &row, &number, &s.Status, &s.PriceCents); err != nil {
			return nil, err
		}
		s.Label = SeatLabel(row, number)
		out[s.Label] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkUpdateStatusTx sets the status of several seats of one show and
// bumps their version.  An empty seat list is a no-op.
func (r *ShowSeatRepo) BulkUpdateStatusTx(ctx context.Context, tx *sql.Tx, showID uint64, seatIDs []uint64, status string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(seatIDs))
	args := make([]interface{}, 0, len(seatIDs)+2)
	args = append(args, status, showID)
	for _, id := range seatIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	q := `UPDATE show_seats SET status = ?, version = version + 1
          WHERE show_id = ? AND seat_id IN (` + strings.Join(placeholders, ",") + `)`
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}
