package middleware

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ErrNoPrincipal is returned by UserID when the request carries no
// usable user id.
var ErrNoPrincipal = errors.New("invalid user_id in context")

// UserID returns the authenticated user id stored by JWTAuth.  JSON
// numbers arrive as float64 and string subjects are parsed; a zero id
// is rejected.
func UserID(c echo.Context) (uint64, error) {
	var id uint64
	switch t := c.Get("user_id").(type) {
	case uint64:
		id = t
	case int:
		if t > 0 {
			id = uint64(t)
		}
	case int64:
		if t > 0 {
			id = uint64(t)
		}
	case float64:
		if t > 0 {
			id = uint64(t)
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			id = n
		}
	}
	if id == 0 {
		return 0, ErrNoPrincipal
	}
	return id, nil
}

// principalKey is the rate limit key part for the caller: the user id,
// or "anon" before authentication.
func principalKey(c echo.Context) string {
	if id, err := UserID(c); err == nil {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
