package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated principal.  ok is false on routes that
// did not pass through JWTAuth.
func UserID(c echo.Context) (id uint64, ok bool) {
	id, ok = c.Get(ctxUserID).(uint64)
	return id, ok
}

// Role returns the role claim of the authenticated principal, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// principal names the caller for rate limit keys: the user id when
// authenticated, "guest" otherwise.
func principal(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "guest"
}
