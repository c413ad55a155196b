package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/property-listing-api/internal/utils"
)

// JWTAuth validates the Bearer access token and stores its subject and role
// in the context, readable with UserID and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return deny(c, http.StatusUnauthorized, "missing bearer token")
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return deny(c, http.StatusUnauthorized, "invalid token")
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

// OptionalJWT behaves like JWTAuth when a Bearer token is present and lets
// anonymous requests through untouched.  An invalid token is still rejected.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	auth := JWTAuth(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withAuth := auth(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				return next(c)
			}
			return withAuth(c)
		}
	}
}

func deny(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}
