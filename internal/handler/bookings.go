package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// BookingStore lists and cancels persisted bookings.  It is satisfied by
// *repository.ReservationRepo.
type BookingStore interface {
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	CancelForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error)
}

// Publisher announces committed and cancelled bookings.  It is satisfied
// by *service.BookingPublisher.
type Publisher interface {
	BookingConfirmed(ctx context.Context, b *model.Booking) error
	BookingCancelled(ctx context.Context, b *model.Booking) error
}

// BookingHandler commits held seats and manages the caller's bookings.
// Publisher may be nil.
type BookingHandler struct {
	Coord     *seatlock.Coordinator
	Finalizer *seatlock.Finalizer
	Store     BookingStore
	Publisher Publisher
}

type commitRequest struct {
	SessionID  string   `json:"session_id"`
	SeatLabels []string `json:"seat_labels"`
}

// publishTimeout bounds the detached publish after a response was sent.
const publishTimeout = 5 * time.Second

// Commit handles POST /v1/showtimes/:id/bookings.  Every seat in the
// body must be locked by the given session, which must belong to the
// caller.  The booking is all or nothing.
func (h *BookingHandler) Commit(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, ok := showtimeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body commitRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.SessionID = strings.TrimSpace(body.SessionID)
	if body.SessionID == "" || len(body.SeatLabels) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and seat_labels are required"})
	}

	owner, err := h.Coord.SessionOwner(showtimeID, body.SessionID)
	if err != nil {
		return c.JSON(http.StatusGone, echo.Map{"error": seatlock.Reason(err)})
	}
	if owner != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	b, err := h.Finalizer.Commit(c.Request().Context(), showtimeID, body.SessionID, body.SeatLabels)
	if err != nil {
		return commitFailure(c, err)
	}
	if h.Publisher != nil {
		go func(b model.Booking) {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			_ = h.Publisher.BookingConfirmed(ctx, &b)
		}(*b)
	}
	return c.JSON(http.StatusCreated, echo.Map{"booking": b})
}

func commitFailure(c echo.Context, err error) error {
	var already *seatlock.AlreadyBookedError
	if errors.As(err, &already) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":      "already_booked_by_you",
			"booking_id": already.BookingID,
		})
	}
	var conflict *seatlock.ConflictError
	if errors.As(err, &conflict) {
		reason := seatlock.Reason(conflict)
		status := http.StatusConflict
		switch reason {
		case "lock_expired":
			status = http.StatusGone
		case "unknown_seat":
			status = http.StatusBadRequest
		}
		return c.JSON(status, echo.Map{"error": reason, "seats": conflict.Seats})
	}
	switch {
	case errors.Is(err, seatlock.ErrMalformed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed"})
	case errors.Is(err, seatlock.ErrSessionLost):
		return c.JSON(http.StatusGone, echo.Map{"error": "session_lost"})
	}
	c.Logger().Errorf("commit booking: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}

// List handles GET /v1/bookings and returns the caller's bookings, most
// recent first.
func (h *BookingHandler) List(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookings, err := h.Store.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookings})
}

// Cancel handles DELETE /v1/bookings/:id.  The seats return to the live
// room immediately and a booking.cancelled event is published.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || bookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	b, err := h.Store.CancelForUser(c.Request().Context(), bookingID, userID)
	switch {
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "showtime already started"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	h.Coord.ReleaseBooked(b.ShowtimeID, b.ID, b.SeatLabels)
	if h.Publisher != nil {
		go func(b model.Booking) {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			_ = h.Publisher.BookingCancelled(ctx, &b)
		}(*b)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}
