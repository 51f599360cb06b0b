package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RoomCounter is satisfied by *seatlock.Coordinator.
type RoomCounter interface {
	Rooms() int
}

// Health is the health-check endpoint used by load balancers.  It
// answers 503 when the database does not respond within two seconds;
// live rooms keep working in that state but no booking can be saved.
func Health(db Pinger, rooms RoomCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := echo.Map{"status": "ok"}
		if rooms != nil {
			body["rooms"] = rooms.Rooms()
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				body["status"] = "degraded"
				body["database"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, body)
			}
		}
		return c.JSON(http.StatusOK, body)
	}
}
