package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// Logger is the structured logger handlers report connection events to.
type Logger interface {
	Infoj(j log.JSON)
	Warnj(j log.JSON)
}

// showtimeParam parses the :id path parameter; zero is rejected.
func showtimeParam(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}
