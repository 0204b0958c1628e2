package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"memberd/internal/model"
	"memberd/internal/session"
)

const claimsKey = "session-claims"

// Authenticated requires a valid bearer token and stashes its claims on the
// request context.
func Authenticated(sessions Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized)
			}
			claims, err := sessions.Verify(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized)
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// AdminOnly must run after Authenticated.
func AdminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if claimsFrom(c).Role != model.RoleAdmin {
				return echo.NewHTTPError(http.StatusForbidden)
			}
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *session.Claims {
	if claims, ok := c.Get(claimsKey).(*session.Claims); ok {
		return claims
	}
	return &session.Claims{}
}
