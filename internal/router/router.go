// Package router registers the HTTP and websocket routes of the server.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
)

// Routes bundles the handlers and middleware RegisterRoutes wires.
// CommitLimit guards the booking endpoints and may be nil.
type Routes struct {
	Health      echo.HandlerFunc
	Seats       *handler.SeatHandler
	Room        *handler.RoomHandler
	Bookings    *handler.BookingHandler
	JWTSecret   string
	CommitLimit echo.MiddlewareFunc
}

// RegisterRoutes maps every endpoint on e.  The seat map and health
// check are public; the room channel and the booking endpoints require a
// customer token.
func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/healthz", r.Health)
	e.GET("/v1/showtimes/:id/seats", r.Seats.GetSeats)

	customer := e.Group("/v1",
		middleware.JWTAuth(r.JWTSecret),
		middleware.RequireRole("CUSTOMER"),
	)
	customer.GET("/showtimes/:id/ws", r.Room.Serve)

	var limited []echo.MiddlewareFunc
	if r.CommitLimit != nil {
		limited = append(limited, r.CommitLimit)
	}
	customer.POST("/showtimes/:id/bookings", r.Bookings.Commit, limited...)
	customer.GET("/bookings", r.Bookings.List)
	customer.DELETE("/bookings/:id", r.Bookings.Cancel, limited...)
}
