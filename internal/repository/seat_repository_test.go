package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

var seatColumns = []string{"row_label", "seat_number", "seat_type", "price_cents", "status", "booking_id", "user_id"}

func TestSeats_MapsStatuses(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM show_seats ss JOIN seats se ON se.id = ss.seat_id LEFT JOIN reservation_seats").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(seatColumns).
			AddRow("A", 1, "STANDARD", 1000, "FREE", 0, 0).
			AddRow("A", 2, "STANDARD", 1000, "HELD", 0, 0).
			AddRow("A", 10, "VIP", 2500, "RESERVED", 31, 4))

	seats, err := NewSeatRepo(db).Seats(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, seats, 3)
	assert.Equal(t, model.Seat{Label: "A1", Row: "A", Number: 1, Type: "STANDARD", PriceCents: 1000, Status: model.SeatAvailable}, seats[0])
	assert.Equal(t, model.SeatAvailable, seats[1].Status)
	assert.Equal(t, "A10", seats[2].Label)
	assert.True(t, seats[2].Booked())
	assert.Equal(t, uint64(31), seats[2].BookingID)
	assert.Equal(t, uint64(4), seats[2].BookedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeats_UnknownShow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM show_seats").WithArgs(99).WillReturnRows(sqlmock.NewRows(seatColumns))

	_, err = NewSeatRepo(db).Seats(context.Background(), 99)
	assert.ErrorIs(t, err, ErrShowNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLabel(t *testing.T) {
	assert.Equal(t, "B12", SeatLabel("B", 12))
	assert.Equal(t, "AA1", SeatLabel("AA", 1))
}
