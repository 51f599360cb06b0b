package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// SeatLocked is the seat map status of a seat soft-locked by a session.
// It is a view-only value; the registry only knows AVAILABLE and BOOKED.
const SeatLocked = "LOCKED"

// SeatHandler serves the public seat map of a showtime.
type SeatHandler struct {
	Coord *seatlock.Coordinator
}

// GetSeats handles GET /v1/showtimes/:id/seats.  Seats soft-locked in the
// live room are reported as LOCKED so guests see the same picture as the
// room members; holders are never disclosed.
func (h *SeatHandler) GetSeats(c echo.Context) error {
	showtimeID, ok := showtimeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	snap, err := h.Coord.Peek(c.Request().Context(), showtimeID)
	if err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	locked := make(map[string]bool, len(snap.LockedSeats))
	for _, label := range snap.LockedSeats {
		locked[label] = true
	}
	seats := make([]model.Seat, len(snap.Seats))
	for i, s := range snap.Seats {
		if locked[s.Label] && !s.Booked() {
			s.Status = SeatLocked
		}
		seats[i] = s
	}
	return c.JSON(http.StatusOK, echo.Map{
		"showtime_id":      showtimeID,
		"seats":            seats,
		"locked_seats":     snap.LockedSeats,
		"booked_seats":     snap.BookedSeats,
		"lock_ttl_seconds": int(snap.LockTTL.Seconds()),
	})
}
