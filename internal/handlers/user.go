// Package handlers is the thin HTTP boundary: request binding, session
// checks and error-to-status mapping. All account behavior lives in the
// account service.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"memberd/internal/model"
	"memberd/internal/session"
)

type AccountService interface {
	Authenticate(logname, secret, ip string) (*model.PrivateProfile, error)
	Register(params *model.CreateUserParams) (*model.PrivateProfile, error)
	AddUsers(batch []model.CreateUserParams) ([]model.PrivateProfile, error)
	GetUser(key string) (*model.PublicProfile, error)
	GetOwn(publicID string) (*model.PrivateProfile, error)
	UpdateUser(publicID string, params *model.UpdateUserParams) (*model.PrivateProfile, error)
	ListPage(generation int64, page, perPage int) (*model.UserPage, error)
	VerifyRecoveryToken(token string) (*model.PrivateProfile, error)
	Follow(followerID, targetKey string) error
	Unfollow(followerID, targetKey string) error
}

type Sessions interface {
	Sign(uid string, role model.Role) (string, error)
	Verify(raw string) (*session.Claims, error)
}

type authenticated struct {
	User  any    `json:"user"`
	Token string `json:"token"`
}

type loginRequest struct {
	Logname string `json:"logname"`
	Logpwd  string `json:"logpwd"`
}

func Login(accounts AccountService, sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &loginRequest{}
		if err := c.Bind(req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest)
		}
		profile, err := accounts.Authenticate(req.Logname, req.Logpwd, c.RealIP())
		if err != nil {
			return httpError(err)
		}
		return respondAuthenticated(c, sessions, profile)
	}
}

func Register(accounts AccountService, sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.CreateUserParams{}
		if err := c.Bind(params); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest)
		}
		profile, err := accounts.Register(params)
		if err != nil {
			return httpError(err)
		}
		return respondAuthenticated(c, sessions, profile)
	}
}

func GetUser(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := accounts.GetUser(c.Param("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, profile)
	}
}

func GetOwn(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := accounts.GetOwn(claimsFrom(c).UID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, profile)
	}
}

func UpdateUser(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.UpdateUserParams{}
		if err := c.Bind(params); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest)
		}
		profile, err := accounts.UpdateUser(claimsFrom(c).UID, params)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, profile)
	}
}

// ListUsers pages over the identity index. The client echoes back the
// `g` value from the previous page so its browse stays pinned to one
// snapshot; requesting page 1 starts a fresh one.
func ListUsers(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		generation, _ := strconv.ParseInt(c.QueryParam("g"), 10, 64)
		page, _ := strconv.Atoi(c.QueryParam("p"))
		perPage, _ := strconv.Atoi(c.QueryParam("n"))

		result, err := accounts.ListPage(generation, page, perPage)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func AddUsers(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		batch := []model.CreateUserParams{}
		if err := c.Bind(&batch); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest)
		}
		created, err := accounts.AddUsers(batch)
		if err != nil {
			// report what was created before the failure
			return c.JSON(statusFor(err), map[string]any{
				"created": created,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, created)
	}
}

// Reset verifies a recovery token from a recovery link and, on success,
// signs the caller in as the recovered account.
func Reset(accounts AccountService, sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := accounts.VerifyRecoveryToken(c.Param("token"))
		if err != nil {
			return httpError(err)
		}
		return respondAuthenticated(c, sessions, profile)
	}
}

func Follow(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := accounts.Follow(claimsFrom(c).UID, c.Param("id")); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func Unfollow(accounts AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := accounts.Unfollow(claimsFrom(c).UID, c.Param("id")); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func JWKS(signer interface{ JWKS() ([]byte, error) }) echo.HandlerFunc {
	return func(c echo.Context) error {
		keySet, err := signer.JWKS()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, keySet)
	}
}

func respondAuthenticated(c echo.Context, sessions Sessions, profile *model.PrivateProfile) error {
	token, err := sessions.Sign(profile.ID, profile.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, &authenticated{User: profile, Token: token})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrorInvalidName),
		errors.Is(err, model.ErrorInvalidEmail),
		errors.Is(err, model.ErrorInvalidURL),
		errors.Is(err, model.ErrorInvalidLogin):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrorNameTaken),
		errors.Is(err, model.ErrorEmailTaken):
		return http.StatusConflict
	case errors.Is(err, model.ErrorUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrorWrongCredentials),
		errors.Is(err, model.ErrorTokenExpired),
		errors.Is(err, model.ErrorTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrorAccountLocked):
		return http.StatusForbidden
	case errors.Is(err, model.ErrorNotAuthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func httpError(err error) *echo.HTTPError {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		// never leak store detail
		return echo.NewHTTPError(status)
	}
	return echo.NewHTTPError(status, err.Error())
}
